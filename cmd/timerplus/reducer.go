package main

import (
	"time"
)

// This file implements the reducer:
//
//   - Events: inputs (button presses, scheduler fires, lifecycle requests)
//   - Commands: side effects requested by the reducer (vibration, scheduling, persistence)
//   - Broadcasts: observer notifications (snapshots for the WebSocket hub)
//   - Reduce(): computes next state + commands, without performing I/O
//
// The daemon loop is responsible for executing Commands; scheduled timers come
// back as TimerFired events.

// ReduceResult is the output of Reduce(): next state plus the side effects and
// notifications it requested.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce applies one event to the daemon state.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
//
// The event time comes from the TimedEvent wrapper, and for such events Reduce
// is deterministic. An unwrapped event, or a TimedEvent with a zero At, is
// reduced at time.Now(); that is the one place Reduce reads the clock, so
// callers that need a pure result (the daemon loop, tests) must wrap.
func Reduce(s *DaemonState, e Event, cfg ControlConfig) ReduceResult {
	if s == nil {
		s = NewDaemonState(Timer{}, false)
	}

	now := time.Now()
	if te, ok := e.(TimedEvent); ok {
		e = te.Event
		if !te.At.IsZero() {
			now = te.At
		}
	}

	r := &reduction{
		s:     s,
		cfg:   cfg,
		now:   now,
		nowMs: now.UnixMilli(),
	}

	switch ev := e.(type) {
	case ButtonEvent:
		r.button(ev)

	case TimerFired:
		r.fired(ev)

	case Launch:
		r.launch(ev.Reason)

	case Terminate:
		r.terminate(ev.Reason)

	case RequestStateSnapshot:
		r.cmds = append(r.cmds, CmdPublishStateSnapshot{
			Reply:    ev.Reply,
			Snapshot: s.Snapshot(now, cfg),
		})

	default:
		// Unknown event type: no-op.
	}

	if r.dirty {
		r.broadcasts = append(r.broadcasts, BroadcastStateChanged{Snapshot: s.Snapshot(now, cfg)})
	}

	return ReduceResult{
		State:      s,
		Commands:   r.cmds,
		Broadcasts: r.broadcasts,
	}
}

// reduction accumulates the effects of reducing a single event.
type reduction struct {
	s     *DaemonState
	cfg   ControlConfig
	now   time.Time
	nowMs int64

	cmds       []Command
	broadcasts []StateBroadcast
	dirty      bool
}

func (r *reduction) redraw() { r.dirty = true }

// schedule (re)arms tok. The new generation invalidates any earlier fire.
func (r *reduction) schedule(tok Token, d time.Duration) {
	slot := &r.s.Timers[tok]
	slot.Gen++
	slot.Armed = true
	r.cmds = append(r.cmds, CmdSchedule{Token: tok, Gen: slot.Gen, Delay: d})
}

// cancel disarms tok if it is armed.
func (r *reduction) cancel(tok Token) {
	slot := &r.s.Timers[tok]
	if !slot.Armed {
		return
	}
	slot.Armed = false
	slot.Gen++
	r.cmds = append(r.cmds, CmdCancel{Token: tok})
}

func (r *reduction) vibrate(pattern []time.Duration, reason string) {
	r.cmds = append(r.cmds, CmdVibrate{Pattern: pattern, Reason: reason})
	r.broadcasts = append(r.broadcasts, BroadcastVibrate{Pattern: pattern, Reason: reason, At: r.now})
}

func (r *reduction) cancelVibe() {
	r.cmds = append(r.cmds, CmdCancelVibe{})
}

func (r *reduction) fired(ev TimerFired) {
	if ev.Token >= tokenCount {
		return
	}
	slot := &r.s.Timers[ev.Token]
	if !slot.Armed || slot.Gen != ev.Gen {
		// Stale: the token was cancelled or re-armed after this job was queued.
		return
	}
	slot.Armed = false

	switch ev.Token {
	case TokenEditExpiry:
		r.editExpired()
	case TokenQuit:
		r.terminate("quit_timer")
	case TokenTick:
		r.tick()
	case TokenWakeup:
		r.launch("wakeup")
	}
}

// tick checks the alarm, publishes the display and re-arms itself.
func (r *reduction) tick() {
	if !r.s.Foreground {
		return
	}
	switch r.s.Timer.CheckElapsed(r.nowMs) {
	case AlertPrimary:
		r.vibrate(vibeAlarm, AlertPrimary.String())
	case AlertRepeat:
		r.vibrate(vibeShortPulse, AlertRepeat.String())
	}
	r.redraw()

	delay, keepDown := refreshDelay(refreshInput{
		Mode:             r.s.Control.Mode,
		ValueMs:          r.s.Timer.DisplayValueMs(r.nowMs),
		Chrono:           r.s.Timer.IsChrono(r.nowMs),
		SinceInteraction: time.Duration(r.nowMs-r.s.Control.LastInteractionMs) * time.Millisecond,
		DownExtended:     r.s.Control.LastInteractionWasDown,
	}, r.cfg)
	r.s.Control.LastInteractionWasDown = keepDown
	r.schedule(TokenTick, delay)
}

// launch brings the app to the foreground and picks the starting mode.
func (r *reduction) launch(reason string) {
	s := r.s
	c := &s.Control
	t := &s.Timer

	r.cancel(TokenWakeup)
	s.Foreground = true
	c.EditingExisting = false
	c.LengthModified = false
	c.Reverse = false

	switch {
	case s.ResetOnInit:
		c.Mode = ModeNew
		t.Reset(r.nowMs)
		s.ResetOnInit = false
		r.vibrate(vibeShortPulse, "new")
	case t.LengthMs != 0 || t.IsChrono(r.nowMs):
		c.Mode = ModeCounting
	default:
		c.Mode = ModeNew
		t.Reset(r.nowMs)
		r.vibrate(vibeShortPulse, "new")
	}

	r.schedule(TokenEditExpiry, r.cfg.EditExpiry)
	r.markInteraction()
	r.tick()
	r.broadcasts = append(r.broadcasts, BroadcastLifecycle{Foreground: true, Reason: reason, At: r.now})
}

// terminate backgrounds the app. The timer is always persisted, even when the
// app was already in the background.
func (r *reduction) terminate(reason string) {
	s := r.s
	t := &s.Timer

	if s.Foreground {
		s.Foreground = false
		r.cancel(TokenEditExpiry)
		r.cancel(TokenQuit)
		r.cancel(TokenTick)
		r.cancelVibe()
		s.swallow = [buttonCount]bool{}

		if !t.IsChrono(r.nowMs) && !t.IsPaused() && !s.ResetOnInit {
			r.schedule(TokenWakeup, time.Duration(t.DisplayValueMs(r.nowMs))*time.Millisecond)
		} else {
			r.cancel(TokenWakeup)
		}

		r.broadcasts = append(r.broadcasts, BroadcastLifecycle{Foreground: false, Reason: reason, At: r.now})
		r.redraw()
	}

	r.cmds = append(r.cmds, CmdPersist{Record: NewTimerRecord(*t, s.ResetOnInit)})
}
