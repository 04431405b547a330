package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_ESC   = 1
	KEY_ENTER = 28
	KEY_SPACE = 57
	KEY_UP    = 103
	KEY_LEFT  = 105
	KEY_RIGHT = 106
	KEY_DOWN  = 108
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Daemon defaults
const (
	defaultSocketPath   = "/tmp/timerplus.sock"
	defaultStateFile    = "~/.local/state/timerplus/timer.cbor"
	defaultHTTPAddr     = "127.0.0.1:3030"
	defaultWSPath       = "/ws"
	defaultLongPressMS  = 750
	defaultEventBuffer  = 64
	defaultBroadcastBuf = 256
)

// defaultKeymap maps evdev key codes to buttons.
func defaultKeymap() map[string][]uint16 {
	return map[string][]uint16{
		"back":   {KEY_ESC, KEY_LEFT},
		"up":     {KEY_UP},
		"select": {KEY_ENTER, KEY_SPACE, KEY_RIGHT},
		"down":   {KEY_DOWN},
	}
}
