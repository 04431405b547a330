package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdVibrate plays a vibration pattern (alternating on/off durations).
type CmdVibrate struct {
	Pattern []time.Duration
	Reason  string
}

func (CmdVibrate) commandMarker() {}
func (c CmdVibrate) String() string {
	return fmt.Sprintf("CmdVibrate(reason=%s, pattern=%v)", c.Reason, c.Pattern)
}

// CmdCancelVibe stops any vibration in progress.
type CmdCancelVibe struct{}

func (CmdCancelVibe) commandMarker() {}
func (CmdCancelVibe) String() string { return "CmdCancelVibe()" }

// CmdSchedule arms a one-shot timer for Token. Arming a token replaces any
// pending job for it.
type CmdSchedule struct {
	Token Token
	Gen   uint64
	Delay time.Duration
}

func (CmdSchedule) commandMarker() {}
func (c CmdSchedule) String() string {
	return fmt.Sprintf("CmdSchedule(token=%s, gen=%d, delay=%s)", c.Token, c.Gen, c.Delay)
}

// CmdCancel disarms the pending timer for Token, if any.
type CmdCancel struct {
	Token Token
}

func (CmdCancel) commandMarker()   {}
func (c CmdCancel) String() string { return fmt.Sprintf("CmdCancel(token=%s)", c.Token) }

// CmdPersist writes the timer record to the state store.
type CmdPersist struct {
	Record TimerRecord
}

func (CmdPersist) commandMarker() {}
func (c CmdPersist) String() string {
	return fmt.Sprintf("CmdPersist(length_ms=%d, anchor=%s/%d, reset_on_init=%v)",
		c.Record.LengthMs, AnchorKind(c.Record.AnchorKind), c.Record.AnchorMs, c.Record.ResetOnInit)
}

// CmdPublishStateSnapshot delivers a snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// ==============================
// Broadcasts (observer notifications)
// ==============================

// StateBroadcast is a reducer-emitted notification for WebSocket observers.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastStateChanged carries a fresh snapshot after a redraw-worthy change.
type BroadcastStateChanged struct {
	Snapshot StateSnapshot
}

func (BroadcastStateChanged) broadcastMarker() {}

// BroadcastVibrate mirrors a vibration to observers.
type BroadcastVibrate struct {
	Pattern []time.Duration
	Reason  string
	At      time.Time
}

func (BroadcastVibrate) broadcastMarker() {}

// BroadcastPressAnimation mirrors the press feedback on Select press-down.
type BroadcastPressAnimation struct {
	Button Button
	At     time.Time
}

func (BroadcastPressAnimation) broadcastMarker() {}

// BroadcastLifecycle reports foreground/background transitions.
type BroadcastLifecycle struct {
	Foreground bool
	Reason     string
	At         time.Time
}

func (BroadcastLifecycle) broadcastMarker() {}

// Vibration patterns, as alternating on/off durations.
var (
	vibeAlarm      = []time.Duration{150 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	vibeShortPulse = []time.Duration{100 * time.Millisecond}
)
