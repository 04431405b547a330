package main

import (
	"fmt"
	"time"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it. Reduce mutates it in place and hands
// the same pointer back in ReduceResult.
type DaemonState struct {
	// Timer is the single timer. It is persisted on Terminate.
	Timer Timer

	// Control holds the button-mode state machine.
	Control ControlState

	// ResetOnInit asks the next Launch to start from a fresh timer.
	ResetOnInit bool

	// Foreground is false while the app is in the background (after quit).
	Foreground bool

	// Timers tracks the arming generation of every scheduled token.
	Timers [tokenCount]TokenSlot

	// swallow marks buttons whose press-down launched the app; the matching
	// short/long press is dropped.
	swallow [buttonCount]bool
}

// ControlMode is the state of the button state machine.
type ControlMode uint8

const (
	// ModeNew edits minutes of a new timer.
	ModeNew ControlMode = iota
	// ModeEditSec edits seconds.
	ModeEditSec
	// ModeEditRepeat edits the repeat count.
	ModeEditRepeat
	// ModeCounting shows the running (or paused) timer.
	ModeCounting
)

var modeNames = [...]string{"new", "edit_sec", "edit_repeat", "counting"}

func (m ControlMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("ControlMode(%d)", m)
}

func (m ControlMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// IsEditing reports whether m is one of the three edit modes.
func (m ControlMode) IsEditing() bool {
	return m != ModeCounting
}

// ControlState is the state machine around the timer.
type ControlState struct {
	Mode ControlMode

	// EditingExisting is set when editing was entered from Counting (or the
	// timer flipped into stopwatch while editing).
	EditingExisting bool

	// LengthModified is set once an edit changed the length.
	LengthModified bool

	// Reverse flips the sign of edit increments.
	Reverse bool

	// LastInteractionMs is the epoch ms of the last button press.
	LastInteractionMs int64

	// LastInteractionWasDown keeps second-level refresh after a short Down in
	// Counting until the display crosses a minute boundary.
	LastInteractionWasDown bool
}

// Token names a scheduled one-shot timer.
type Token uint8

const (
	// TokenEditExpiry commits an edit and returns to Counting.
	TokenEditExpiry Token = iota
	// TokenQuit backgrounds the app after the quit delay.
	TokenQuit
	// TokenTick drives the display refresh and alarm checks.
	TokenTick
	// TokenWakeup relaunches the app when a background countdown is due.
	TokenWakeup

	tokenCount
)

var tokenNames = [...]string{"edit_expiry", "quit", "tick", "wakeup"}

func (t Token) String() string {
	if t < tokenCount {
		return tokenNames[t]
	}
	return fmt.Sprintf("Token(%d)", t)
}

// TokenSlot records whether a token is armed and which arming is current.
// A TimerFired whose Gen does not match is stale and ignored.
type TokenSlot struct {
	Armed bool
	Gen   uint64
}

// NewDaemonState builds the initial state from a restored timer. The app
// starts in the background; the first Launch brings it up.
func NewDaemonState(t Timer, resetOnInit bool) *DaemonState {
	return &DaemonState{
		Timer:       t,
		ResetOnInit: resetOnInit,
		Control:     ControlState{Mode: ModeNew},
	}
}

// StateSnapshot is a read-only view published to IPC and WebSocket clients.
type StateSnapshot struct {
	At                time.Time
	DisplayValueMs    int64
	Hours             int64
	Minutes           int64
	Seconds           int64
	IsChrono          bool
	IsPaused          bool
	IsVibrating       bool
	BaseLengthMs      int64
	IsRepeating       bool
	RepeatCount       uint
	Mode              ControlMode
	EditingExisting   bool
	Reverse           bool
	InteractionActive bool
	Foreground        bool
}

// Snapshot captures the state at now.
func (s *DaemonState) Snapshot(now time.Time, cfg ControlConfig) StateSnapshot {
	ms := now.UnixMilli()
	t := &s.Timer
	hr, min, sec := t.TimeParts(ms)
	return StateSnapshot{
		At:                now,
		DisplayValueMs:    t.DisplayValueMs(ms),
		Hours:             hr,
		Minutes:           min,
		Seconds:           sec,
		IsChrono:          t.IsChrono(ms),
		IsPaused:          t.IsPaused(),
		IsVibrating:       t.IsVibrating(ms),
		BaseLengthMs:      t.BaseLengthMs,
		IsRepeating:       t.IsRepeating,
		RepeatCount:       t.RepeatCount,
		Mode:              s.Control.Mode,
		EditingExisting:   s.Control.EditingExisting,
		Reverse:           s.Control.Reverse,
		InteractionActive: ms-s.Control.LastInteractionMs < cfg.InteractionTimeout.Milliseconds(),
		Foreground:        s.Foreground,
	}
}

// ControlConfig holds the reducer's timing policy.
type ControlConfig struct {
	// EditExpiry is the inactivity delay after which an edit is committed.
	EditExpiry time.Duration
	// QuitDelay is the delay before auto-backgrounding a long or chrono timer.
	QuitDelay time.Duration
	// InteractionTimeout keeps second-level refresh after a button press.
	InteractionTimeout time.Duration
	// AutoBackgroundLength: committed lengths above this auto-background.
	AutoBackgroundLength time.Duration
	// AutoBackgroundChrono auto-backgrounds a committed stopwatch.
	AutoBackgroundChrono bool
	// ReduceScreenUpdates lowers the refresh rate while idle.
	ReduceScreenUpdates bool
}

// DefaultControlConfig returns the stock timing policy.
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		EditExpiry:           3 * time.Second,
		QuitDelay:            7 * time.Second,
		InteractionTimeout:   10 * time.Second,
		AutoBackgroundLength: 20 * time.Minute,
		AutoBackgroundChrono: true,
		ReduceScreenUpdates:  true,
	}
}
