package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the timerplus daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
type Config struct {
	// Button input configuration
	Input InputConfig `yaml:"input"`

	// Control state machine timing
	Control ControlFileConfig `yaml:"control"`

	// Timer persistence
	State StateConfig `yaml:"state"`

	// IPC configuration (timerctl, scripts)
	IPC IPCConfig `yaml:"ipc"`

	// HTTP server hosting the state WebSocket
	HTTP HTTPConfig `yaml:"http"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"` // evdev devices to monitor; empty means IPC/WS only

	// Keymap maps button names (back, up, select, down) to evdev key codes.
	Keymap map[string][]uint16 `yaml:"keymap"`

	LongPressMS int `yaml:"long_press_ms"`
}

// ControlFileConfig is the YAML form of ControlConfig (durations in ms).
type ControlFileConfig struct {
	EditExpiryMS           int  `yaml:"edit_expiry_ms"`
	QuitDelayMS            int  `yaml:"quit_delay_ms"`
	InteractionTimeoutMS   int  `yaml:"interaction_timeout_ms"`
	AutoBackgroundLengthMS int  `yaml:"auto_background_length_ms"`
	AutoBackgroundChrono   bool `yaml:"auto_background_chrono"`
	ReduceScreenUpdates    bool `yaml:"reduce_screen_updates"`
}

type StateConfig struct {
	File string `yaml:"file"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the HTTP server
	WSPath     string `yaml:"ws_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go and DefaultControlConfig.
func DefaultConfig() Config {
	cc := DefaultControlConfig()
	return Config{
		Input: InputConfig{
			Keymap:      defaultKeymap(),
			LongPressMS: defaultLongPressMS,
		},
		Control: ControlFileConfig{
			EditExpiryMS:           int(cc.EditExpiry.Milliseconds()),
			QuitDelayMS:            int(cc.QuitDelay.Milliseconds()),
			InteractionTimeoutMS:   int(cc.InteractionTimeout.Milliseconds()),
			AutoBackgroundLengthMS: int(cc.AutoBackgroundLength.Milliseconds()),
			AutoBackgroundChrono:   cc.AutoBackgroundChrono,
			ReduceScreenUpdates:    cc.ReduceScreenUpdates,
		},
		State: StateConfig{
			File: defaultStateFile,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		HTTP: HTTPConfig{
			ListenAddr: defaultHTTPAddr,
			WSPath:     defaultWSPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - A keymap given in the file replaces the default keymap entirely.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	// Decoding into a non-nil map merges keys; start from an empty one so the
	// file keymap is authoritative when present.
	var probe struct {
		Input struct {
			Keymap map[string][]uint16 `yaml:"keymap"`
		} `yaml:"input"`
	}
	if err := yaml.Unmarshal(b, &probe); err == nil && probe.Input.Keymap != nil {
		cfg.Input.Keymap = nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	InputDevices *[]string
	LongPressMS  *int

	StateFile     *string
	IPCSocketPath *string
	HTTPAddr      *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If the pointer is non-nil, the value is
// applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputDevices != nil {
		cfg.Input.Devices = append([]string(nil), (*o.InputDevices)...)
	}
	if o.LongPressMS != nil {
		cfg.Input.LongPressMS = *o.LongPressMS
	}
	if o.StateFile != nil {
		cfg.State.File = *o.StateFile
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.ListenAddr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if len(c.Input.Devices) > 0 && len(c.Input.Keymap) == 0 {
		return errors.New("input.keymap must not be empty when input.devices is set")
	}
	if _, err := c.Keymap(); err != nil {
		return err
	}
	if c.Input.LongPressMS <= 0 {
		return errors.New("input.long_press_ms must be > 0")
	}

	// Control
	if c.Control.EditExpiryMS <= 0 {
		return errors.New("control.edit_expiry_ms must be > 0")
	}
	if c.Control.QuitDelayMS <= 0 {
		return errors.New("control.quit_delay_ms must be > 0")
	}
	if c.Control.InteractionTimeoutMS < 0 {
		return errors.New("control.interaction_timeout_ms must be >= 0")
	}
	if c.Control.AutoBackgroundLengthMS < 0 {
		return errors.New("control.auto_background_length_ms must be >= 0")
	}

	// State, IPC
	if c.State.File == "" {
		return errors.New("state.file must not be empty")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// HTTP
	if c.HTTP.ListenAddr != "" && (c.HTTP.WSPath == "" || c.HTTP.WSPath[0] != '/') {
		return errors.New("http.ws_path must start with '/'")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToControlConfig converts the file config into the reducer's timing policy.
func (c *Config) ToControlConfig() ControlConfig {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return ControlConfig{
		EditExpiry:           ms(c.Control.EditExpiryMS),
		QuitDelay:            ms(c.Control.QuitDelayMS),
		InteractionTimeout:   ms(c.Control.InteractionTimeoutMS),
		AutoBackgroundLength: ms(c.Control.AutoBackgroundLengthMS),
		AutoBackgroundChrono: c.Control.AutoBackgroundChrono,
		ReduceScreenUpdates:  c.Control.ReduceScreenUpdates,
	}
}

// Keymap resolves the configured key codes to buttons. A key code may be bound
// to only one button.
func (c *Config) Keymap() (map[uint16]Button, error) {
	names := make([]string, 0, len(c.Input.Keymap))
	for name := range c.Input.Keymap {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[uint16]Button)
	for _, name := range names {
		b, err := ParseButton(name)
		if err != nil {
			return nil, fmt.Errorf("input.keymap: %w", err)
		}
		for _, code := range c.Input.Keymap[name] {
			if prev, dup := out[code]; dup && prev != b {
				return nil, fmt.Errorf("input.keymap: key code %d bound to both %s and %s", code, prev, b)
			}
			out[code] = b
		}
	}
	return out, nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
