package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// ============================================================================
// timerwatch - WebSocket state viewer
// ============================================================================
// Connects to the timerplus state WebSocket and renders the timer. In the
// interactive view, b/u/s/d press back/up/select/down (capital for a long
// press) through the same socket. -plain prints one line per message instead.
// ============================================================================

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// envelope is the daemon's outbound message format.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type snapshot struct {
	DisplayValueMs     int64  `json:"display_value_ms"`
	Hours              int64  `json:"hours"`
	Minutes            int64  `json:"minutes"`
	Seconds            int64  `json:"seconds"`
	IsChrono           bool   `json:"is_chrono"`
	IsPaused           bool   `json:"is_paused"`
	IsVibrating        bool   `json:"is_vibrating"`
	BaseLengthMs       int64  `json:"base_length_ms"`
	IsRepeating        bool   `json:"is_repeating"`
	RepeatCount        uint   `json:"repeat_count"`
	Mode               string `json:"mode"`
	IsEditingExisting  bool   `json:"is_editing_existing"`
	IsReverseDirection bool   `json:"is_reverse_direction"`
	InteractionActive  bool   `json:"interaction_active"`
	Foreground         bool   `json:"foreground"`
}

type vibrateData struct {
	PatternMs []int64 `json:"pattern_ms"`
	Reason    string  `json:"reason"`
}

type pressData struct {
	Button string `json:"button"`
}

type lifecycleData struct {
	Foreground bool   `json:"foreground"`
	Reason     string `json:"reason"`
}

// conn serializes writes to the websocket.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) press(button, press string) error {
	data, err := json.Marshal(map[string]string{"button": button, "press": press})
	if err != nil {
		return err
	}
	msg, err := json.Marshal(envelope{Type: "button", Data: data})
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, msg)
}

// keepAlive pings until done; the pong handler extends the read deadline.
func (c *conn) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3030/ws", "timerplus state websocket URL")
		plain = flag.Bool("plain", false, "Print one line per message instead of the interactive view")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	ws, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &conn{ws: ws}
	done := make(chan struct{})
	defer close(done)
	go c.keepAlive(done)

	if *plain {
		runPlain(c)
		return
	}

	p := tea.NewProgram(newModel(c, u.String()), tea.WithAltScreen())
	go readLoop(c, func(env envelope) { p.Send(env) }, func(err error) { p.Send(disconnectedMsg{err: err}) })
	if _, err := p.Run(); err != nil {
		log.Fatalf("ui error: %v", err)
	}
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop decodes envelopes until the connection fails.
func readLoop(c *conn, onMessage func(envelope), onClose func(error)) {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			onClose(err)
			return
		}
		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		onMessage(env)
	}
}

func runPlain(c *conn) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	closed := make(chan struct{})
	go readLoop(c, func(env envelope) {
		fmt.Println(describe(env))
	}, func(err error) {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Printf("websocket error: %v", err)
		}
		close(closed)
	})

	select {
	case <-sigc:
		if err := c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-closed:
		log.Printf("connection closed")
	}
}

// describe renders one message as a log line.
func describe(env envelope) string {
	ts := ""
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000") + " "
	}
	switch env.Type {
	case "state_init", "state_changed":
		var s snapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			break
		}
		return fmt.Sprintf("%s[%s] %s mode=%s%s", ts, strings.ToUpper(env.Type), clockText(s), s.Mode, flagText(s))
	case "vibrate":
		var v vibrateData
		if err := json.Unmarshal(env.Data, &v); err != nil {
			break
		}
		return fmt.Sprintf("%s[VIBRATE] %s %v", ts, v.Reason, v.PatternMs)
	case "press_animation":
		var p pressData
		if err := json.Unmarshal(env.Data, &p); err != nil {
			break
		}
		return fmt.Sprintf("%s[PRESS] %s", ts, p.Button)
	case "lifecycle":
		var l lifecycleData
		if err := json.Unmarshal(env.Data, &l); err != nil {
			break
		}
		state := "background"
		if l.Foreground {
			state = "foreground"
		}
		return fmt.Sprintf("%s[LIFECYCLE] %s (%s)", ts, state, l.Reason)
	}
	return fmt.Sprintf("%s[%s] %s", ts, strings.ToUpper(env.Type), string(env.Data))
}

func clockText(s snapshot) string {
	sign := ""
	if s.IsChrono {
		sign = "+"
	}
	if s.Hours > 0 {
		return fmt.Sprintf("%s%d:%02d:%02d", sign, s.Hours, s.Minutes, s.Seconds)
	}
	return fmt.Sprintf("%s%d:%02d", sign, s.Minutes, s.Seconds)
}

func flagText(s snapshot) string {
	var flags []string
	if s.IsPaused {
		flags = append(flags, "paused")
	}
	if s.IsVibrating {
		flags = append(flags, "alarm")
	}
	if s.IsRepeating {
		flags = append(flags, fmt.Sprintf("repeat x%d", s.RepeatCount))
	}
	if s.IsReverseDirection {
		flags = append(flags, "reverse")
	}
	if !s.Foreground {
		flags = append(flags, "background")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ", ") + "]"
}
