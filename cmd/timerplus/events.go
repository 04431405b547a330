package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Events - reducer inputs
// ============================================================================
// Events come from the button recognizer, the IPC socket, the scheduler and
// the WebSocket server. The daemon loop stamps each one with a TimedEvent
// before reducing it.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent carries the wall-clock time at which the daemon received an event.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Button is one of the four logical buttons.
type Button uint8

const (
	ButtonBack Button = iota
	ButtonUp
	ButtonSelect
	ButtonDown

	buttonCount
)

var buttonNames = [...]string{"back", "up", "select", "down"}

func (b Button) String() string {
	if b < buttonCount {
		return buttonNames[b]
	}
	return fmt.Sprintf("Button(%d)", b)
}

// ParseButton maps a button name to a Button.
func ParseButton(s string) (Button, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range buttonNames {
		if n == name {
			return Button(i), nil
		}
	}
	return 0, fmt.Errorf("unknown button %q (want back, up, select or down)", s)
}

func (b Button) MarshalText() ([]byte, error) {
	if b >= buttonCount {
		return nil, fmt.Errorf("invalid button %d", b)
	}
	return []byte(b.String()), nil
}

func (b *Button) UnmarshalText(text []byte) error {
	v, err := ParseButton(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Press is the kind of button interaction.
type Press uint8

const (
	// PressDown fires as soon as the button goes down.
	PressDown Press = iota
	// PressShort fires on release before the long-press threshold.
	PressShort
	// PressLong fires once the button has been held past the threshold.
	PressLong
)

var pressNames = [...]string{"down", "short", "long"}

func (p Press) String() string {
	if int(p) < len(pressNames) {
		return pressNames[p]
	}
	return fmt.Sprintf("Press(%d)", p)
}

// ParsePress maps a press name to a Press.
func ParsePress(s string) (Press, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range pressNames {
		if n == name {
			return Press(i), nil
		}
	}
	return 0, fmt.Errorf("unknown press %q (want down, short or long)", s)
}

func (p Press) MarshalText() ([]byte, error) {
	if int(p) >= len(pressNames) {
		return nil, fmt.Errorf("invalid press %d", p)
	}
	return []byte(p.String()), nil
}

func (p *Press) UnmarshalText(text []byte) error {
	v, err := ParsePress(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ButtonEvent is a recognized button interaction.
type ButtonEvent struct {
	Button Button `json:"button"`
	Press  Press  `json:"press"`
}

func (ButtonEvent) eventMarker() {}

// Launch brings the app to the foreground.
type Launch struct {
	Reason string `json:"reason,omitempty"`
}

func (Launch) eventMarker() {}

// Terminate sends the app to the background and persists the timer.
type Terminate struct {
	Reason string `json:"reason,omitempty"`
}

func (Terminate) eventMarker() {}

// TimerFired is posted by the scheduler when a scheduled token elapses.
// Gen identifies which arming of the token fired.
type TimerFired struct {
	Token Token
	Gen   uint64
}

func (TimerFired) eventMarker() {}

// RequestStateSnapshot asks the reducer to publish a snapshot on Reply.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON envelope (IPC)
// ============================================================================

// EventEnvelope is the wire format for events sent over IPC.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "button":
		var ev ButtonEvent
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("unmarshal ButtonEvent: missing data")
		}
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonEvent: %w", err)
		}
		return ev, nil

	case "launch":
		var ev Launch
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				return nil, fmt.Errorf("unmarshal Launch: %w", err)
			}
		}
		if ev.Reason == "" {
			ev.Reason = "ipc"
		}
		return ev, nil

	case "terminate":
		var ev Terminate
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				return nil, fmt.Errorf("unmarshal Terminate: %w", err)
			}
		}
		if ev.Reason == "" {
			ev.Reason = "ipc"
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case ButtonEvent:
		env.Type = "button"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ButtonEvent: %w", err)
		}
		env.Data = data

	case Launch:
		env.Type = "launch"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal Launch: %w", err)
		}
		env.Data = data

	case Terminate:
		env.Type = "terminate"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal Terminate: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
