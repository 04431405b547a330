package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

// reducerHarness drives Reduce with a controllable clock.
type reducerHarness struct {
	t    *testing.T
	s    *DaemonState
	cfg  ControlConfig
	now  time.Time
	last ReduceResult
}

func newReducerHarness(t *testing.T, tm Timer, resetOnInit bool) *reducerHarness {
	t.Helper()
	return &reducerHarness{
		t:   t,
		s:   NewDaemonState(tm, resetOnInit),
		cfg: DefaultControlConfig(),
		now: t0,
	}
}

// launched returns a harness already brought to the foreground at t0.
func launched(t *testing.T, tm Timer) *reducerHarness {
	t.Helper()
	h := newReducerHarness(t, tm, false)
	h.send(Launch{Reason: "test"})
	require.True(t, h.s.Foreground)
	return h
}

func (h *reducerHarness) ms() int64 { return h.now.UnixMilli() }

func (h *reducerHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *reducerHarness) send(e Event) ReduceResult {
	h.last = Reduce(h.s, TimedEvent{Event: e, At: h.now}, h.cfg)
	h.s = h.last.State
	return h.last
}

func (h *reducerHarness) press(b Button, p Press) ReduceResult {
	return h.send(ButtonEvent{Button: b, Press: p})
}

// fire delivers the currently armed generation of tok.
func (h *reducerHarness) fire(tok Token) ReduceResult {
	h.t.Helper()
	slot := h.s.Timers[tok]
	require.True(h.t, slot.Armed, "token %s is not armed", tok)
	return h.send(TimerFired{Token: tok, Gen: slot.Gen})
}

func commandsOf[T Command](cmds []Command) []T {
	var out []T
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func scheduled(cmds []Command, tok Token) (CmdSchedule, bool) {
	var found CmdSchedule
	ok := false
	for _, c := range commandsOf[CmdSchedule](cmds) {
		if c.Token == tok {
			found, ok = c, true
		}
	}
	return found, ok
}

func TestReduce_LaunchWithResetStartsNewTimer(t *testing.T) {
	h := newReducerHarness(t, Timer{LengthMs: 90_000, Anchor: Running(1)}, true)

	rr := h.send(Launch{Reason: "start"})

	assert.True(t, h.s.Foreground)
	assert.False(t, h.s.ResetOnInit)
	assert.Equal(t, ModeNew, h.s.Control.Mode)
	assert.Equal(t, int64(0), h.s.Timer.LengthMs)
	assert.Len(t, commandsOf[CmdVibrate](rr.Commands), 1)
	assert.True(t, h.s.Timers[TokenEditExpiry].Armed)
	assert.True(t, h.s.Timers[TokenTick].Armed)

	lifecycle := false
	for _, b := range rr.Broadcasts {
		if lc, ok := b.(BroadcastLifecycle); ok {
			lifecycle = lc.Foreground
		}
	}
	assert.True(t, lifecycle)
}

func TestReduce_LaunchResumesCounting(t *testing.T) {
	h := launched(t, Timer{LengthMs: 60_000, Anchor: Running(t0.UnixMilli() - 10_000), CanVibrate: true})

	assert.Equal(t, ModeCounting, h.s.Control.Mode)
	assert.Equal(t, int64(50_000), h.s.Timer.DisplayValueMs(h.ms()))
	assert.Empty(t, commandsOf[CmdVibrate](h.last.Commands))
}

func TestReduce_NewTimerCommitsOnEditExpiry(t *testing.T) {
	h := newReducerHarness(t, NewTimer(t0.UnixMilli()), true)
	h.send(Launch{})
	require.Equal(t, ModeNew, h.s.Control.Mode)

	h.press(ButtonSelect, PressShort)
	assert.Equal(t, 5*msPerMinute, h.s.Timer.LengthMs)
	assert.True(t, h.s.Control.LengthModified)

	h.advance(3 * time.Second)
	rr := h.fire(TokenEditExpiry)

	assert.Equal(t, ModeCounting, h.s.Control.Mode)
	assert.Equal(t, 5*msPerMinute, h.s.Timer.BaseLengthMs)
	assert.Equal(t, int64(297_000), h.s.Timer.DisplayValueMs(h.ms()))
	assert.False(t, h.s.Timers[TokenQuit].Armed)
	_, quit := scheduled(rr.Commands, TokenQuit)
	assert.False(t, quit)
}

func TestReduce_LongTimerQuitsAndSchedulesWakeup(t *testing.T) {
	h := newReducerHarness(t, NewTimer(t0.UnixMilli()), true)
	h.send(Launch{})

	h.press(ButtonBack, PressShort)
	require.Equal(t, msPerHour, h.s.Timer.LengthMs)

	h.advance(3 * time.Second)
	rr := h.fire(TokenEditExpiry)
	quit, ok := scheduled(rr.Commands, TokenQuit)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, quit.Delay)

	h.advance(7 * time.Second)
	rr = h.fire(TokenQuit)

	assert.False(t, h.s.Foreground)
	wake, ok := scheduled(rr.Commands, TokenWakeup)
	require.True(t, ok)
	assert.Equal(t, time.Duration(msPerHour-10_000)*time.Millisecond, wake.Delay)

	persist := commandsOf[CmdPersist](rr.Commands)
	require.Len(t, persist, 1)
	assert.Equal(t, msPerHour, persist[0].Record.LengthMs)
	assert.False(t, persist[0].Record.ResetOnInit)

	for _, tok := range []Token{TokenEditExpiry, TokenQuit, TokenTick} {
		assert.False(t, h.s.Timers[tok].Armed, tok.String())
	}

	h.advance(time.Duration(msPerHour-10_000) * time.Millisecond)
	h.fire(TokenWakeup)
	assert.True(t, h.s.Foreground)
	assert.Equal(t, ModeCounting, h.s.Control.Mode)
}

func TestReduce_ZeroCrossingWithReverse(t *testing.T) {
	h := newReducerHarness(t, NewTimer(t0.UnixMilli()), true)
	h.send(Launch{})
	h.s.Timer = Timer{LengthMs: 30_000, Anchor: Running(h.ms()), CanVibrate: true}
	h.s.Control.Reverse = true

	h.press(ButtonDown, PressShort)

	tm := &h.s.Timer
	assert.True(t, tm.IsChrono(h.ms()))
	assert.Equal(t, int64(30_000), tm.DisplayValueMs(h.ms()))
	assert.Equal(t, int64(0), tm.BaseLengthMs)
	assert.True(t, h.s.Control.EditingExisting)
	assert.False(t, h.s.Control.Reverse)
	assert.Equal(t, ModeNew, h.s.Control.Mode)
	assert.False(t, tm.IsVibrating(h.ms()), "an edited stopwatch has no alarm")

	// The running refresh tick must leave the stopwatch alone.
	h.advance(time.Second)
	rr := h.fire(TokenTick)
	tm = &h.s.Timer
	assert.Empty(t, commandsOf[CmdVibrate](rr.Commands))
	assert.True(t, tm.IsChrono(h.ms()))
	assert.Equal(t, int64(31_000), tm.DisplayValueMs(h.ms()))
	assert.Equal(t, uint(0), tm.AutoSnoozeCount)
}

func TestReduce_ChronoSubtractionBecomesCountdown(t *testing.T) {
	start := t0.UnixMilli()
	h := launched(t, Timer{Anchor: Running(start - 2_000)})
	require.Equal(t, ModeCounting, h.s.Control.Mode)
	require.Equal(t, int64(2_000), h.s.Timer.DisplayValueMs(h.ms()))

	h.press(ButtonUp, PressShort)
	require.Equal(t, ModeNew, h.s.Control.Mode)
	require.True(t, h.s.Control.EditingExisting)

	h.press(ButtonUp, PressLong)
	require.True(t, h.s.Control.Reverse)

	h.press(ButtonDown, PressShort)

	tm := &h.s.Timer
	assert.False(t, tm.IsChrono(h.ms()))
	assert.Equal(t, int64(58_000), tm.DisplayValueMs(h.ms()))
	assert.Equal(t, int64(58_000), tm.BaseLengthMs)
	assert.False(t, h.s.Control.Reverse)

	h.advance(time.Second)
	assert.Equal(t, int64(57_000), tm.DisplayValueMs(h.ms()))

	h.advance(2 * time.Second)
	h.fire(TokenEditExpiry)
	assert.Equal(t, ModeCounting, h.s.Control.Mode)
	assert.Equal(t, int64(58_000), h.s.Timer.BaseLengthMs)
}

func TestReduce_ChronoSubtractionBelowOneSecondResets(t *testing.T) {
	h := launched(t, Timer{Anchor: Paused(59_500)})
	require.Equal(t, ModeCounting, h.s.Control.Mode)

	h.press(ButtonUp, PressShort)
	require.Equal(t, ModeNew, h.s.Control.Mode)
	h.press(ButtonUp, PressLong)
	require.True(t, h.s.Control.Reverse)

	h.press(ButtonDown, PressShort)

	tm := &h.s.Timer
	assert.Equal(t, int64(0), tm.LengthMs)
	assert.Equal(t, int64(0), tm.BaseLengthMs)
	assert.Equal(t, int64(0), tm.DisplayValueMs(h.ms()))
	assert.True(t, tm.IsPaused())
	assert.False(t, tm.IsVibrating(h.ms()))

	h.advance(3 * time.Second)
	h.fire(TokenEditExpiry)
	assert.Equal(t, ModeCounting, h.s.Control.Mode)
	assert.Equal(t, int64(0), h.s.Timer.BaseLengthMs)
}

func TestReduce_RepeatRestartRestoresCount(t *testing.T) {
	h := launched(t, Timer{LengthMs: 60_000, BaseLengthMs: 60_000, Anchor: Running(t0.UnixMilli()), CanVibrate: true})

	h.press(ButtonUp, PressLong)
	require.Equal(t, ModeEditRepeat, h.s.Control.Mode)
	require.True(t, h.s.Timer.IsRepeating)
	require.Equal(t, uint(2), h.s.Timer.RepeatCount)

	h.press(ButtonDown, PressShort)
	require.Equal(t, uint(3), h.s.Timer.RepeatCount)

	h.advance(3 * time.Second)
	h.fire(TokenEditExpiry)
	require.Equal(t, ModeCounting, h.s.Control.Mode)
	require.Equal(t, uint(3), h.s.Timer.BaseRepeatCount)

	h.advance(57_500 * time.Millisecond)
	rr := h.fire(TokenTick)
	vibes := commandsOf[CmdVibrate](rr.Commands)
	require.Len(t, vibes, 1)
	assert.Equal(t, AlertRepeat.String(), vibes[0].Reason)
	assert.Equal(t, uint(2), h.s.Timer.RepeatCount)
	assert.Equal(t, int64(59_500), h.s.Timer.DisplayValueMs(h.ms()))

	h.press(ButtonSelect, PressLong)
	assert.Equal(t, uint(3), h.s.Timer.RepeatCount)
	assert.Equal(t, int64(60_000), h.s.Timer.DisplayValueMs(h.ms()))
}

func TestReduce_StaleTimerFireIsIgnored(t *testing.T) {
	h := newReducerHarness(t, NewTimer(t0.UnixMilli()), true)
	h.send(Launch{})
	staleGen := h.s.Timers[TokenEditExpiry].Gen

	h.press(ButtonDown, PressShort)
	require.NotEqual(t, staleGen, h.s.Timers[TokenEditExpiry].Gen)

	rr := h.send(TimerFired{Token: TokenEditExpiry, Gen: staleGen})
	assert.Equal(t, ModeNew, h.s.Control.Mode)
	assert.Empty(t, rr.Commands)
	assert.Empty(t, rr.Broadcasts)

	h.fire(TokenEditExpiry)
	assert.Equal(t, ModeCounting, h.s.Control.Mode)
}

func TestReduce_UpPressDownHoldsEditExpiry(t *testing.T) {
	h := newReducerHarness(t, NewTimer(t0.UnixMilli()), true)
	h.send(Launch{})
	gen := h.s.Timers[TokenEditExpiry].Gen

	rr := h.press(ButtonUp, PressDown)
	assert.False(t, h.s.Timers[TokenEditExpiry].Armed)
	assert.Contains(t, rr.Commands, Command(CmdCancel{Token: TokenEditExpiry}))

	h.send(TimerFired{Token: TokenEditExpiry, Gen: gen})
	assert.Equal(t, ModeNew, h.s.Control.Mode)

	h.press(ButtonUp, PressShort)
	assert.True(t, h.s.Timers[TokenEditExpiry].Armed)
}

func TestReduce_AlarmHandlers(t *testing.T) {
	ringing := func(t *testing.T) *reducerHarness {
		h := launched(t, Timer{
			LengthMs:     60_000,
			BaseLengthMs: 60_000,
			Anchor:       Running(t0.UnixMilli() - 61_000),
			CanVibrate:   true,
		})
		require.True(t, h.s.Timer.IsVibrating(h.ms()))
		require.Len(t, commandsOf[CmdVibrate](h.last.Commands), 1)
		return h
	}

	t.Run("Back silences and stays open", func(t *testing.T) {
		h := ringing(t)
		rr := h.press(ButtonBack, PressShort)
		assert.True(t, h.s.Foreground)
		assert.False(t, h.s.Timer.IsVibrating(h.ms()))
		assert.True(t, h.s.Timer.IsChrono(h.ms()))
		assert.NotEmpty(t, commandsOf[CmdCancelVibe](rr.Commands))
	})

	t.Run("Down snoozes", func(t *testing.T) {
		h := ringing(t)
		h.press(ButtonDown, PressShort)
		assert.False(t, h.s.Timer.IsChrono(h.ms()))
		assert.Equal(t, snoozeMs-1_000, h.s.Timer.DisplayValueMs(h.ms()))
	})

	t.Run("Down advances a repeat", func(t *testing.T) {
		h := ringing(t)
		h.s.Timer.IsRepeating = true
		h.s.Timer.RepeatCount = 2
		h.press(ButtonDown, PressShort)
		assert.Equal(t, uint(1), h.s.Timer.RepeatCount)
		assert.Equal(t, int64(59_000), h.s.Timer.DisplayValueMs(h.ms()))
	})

	t.Run("long Up restarts without repeat", func(t *testing.T) {
		h := ringing(t)
		h.s.Timer.IsRepeating = true
		h.s.Timer.RepeatCount = 2
		h.press(ButtonUp, PressLong)
		assert.False(t, h.s.Timer.IsRepeating)
		assert.Equal(t, uint(0), h.s.Timer.RepeatCount)
		assert.Equal(t, int64(59_000), h.s.Timer.DisplayValueMs(h.ms()))
	})

	t.Run("Select silences and pauses", func(t *testing.T) {
		h := ringing(t)
		h.press(ButtonSelect, PressShort)
		assert.True(t, h.s.Timer.IsPaused())
		assert.False(t, h.s.Timer.CanVibrate)
		assert.Equal(t, ModeCounting, h.s.Control.Mode)
	})

	t.Run("Up silences and edits", func(t *testing.T) {
		h := ringing(t)
		h.press(ButtonUp, PressShort)
		assert.False(t, h.s.Timer.CanVibrate)
		assert.Equal(t, ModeNew, h.s.Control.Mode)
		assert.True(t, h.s.Control.EditingExisting)
	})
}

func TestReduce_CountingUpOnPausedZeroEditsSeconds(t *testing.T) {
	h := launched(t, Timer{Anchor: Paused(0)})
	require.Equal(t, ModeCounting, h.s.Control.Mode)

	h.press(ButtonUp, PressShort)

	assert.Equal(t, ModeEditSec, h.s.Control.Mode)
	assert.False(t, h.s.Timers[TokenEditExpiry].Armed)
}

func TestReduce_NewLongSelectEditsSeconds(t *testing.T) {
	h := newReducerHarness(t, NewTimer(t0.UnixMilli()), true)
	h.send(Launch{})

	h.press(ButtonSelect, PressLong)
	require.Equal(t, ModeEditSec, h.s.Control.Mode)
	require.True(t, h.s.Timer.IsPaused())
	require.False(t, h.s.Control.EditingExisting)

	h.press(ButtonSelect, PressShort)
	h.press(ButtonDown, PressShort)
	assert.Equal(t, int64(6_000), h.s.Timer.DisplayValueMs(h.ms()))

	h.advance(3 * time.Second)
	h.fire(TokenEditExpiry)
	assert.Equal(t, ModeCounting, h.s.Control.Mode)
	assert.Equal(t, int64(6_000), h.s.Timer.BaseLengthMs)
	assert.True(t, h.s.Timer.IsPaused())
	assert.False(t, h.s.Timers[TokenQuit].Armed)
}

func TestReduce_EditExpiryKeepsBaseWhenUnmodified(t *testing.T) {
	h := launched(t, Timer{LengthMs: 90_000, BaseLengthMs: 60_000, Anchor: Running(t0.UnixMilli()), CanVibrate: true})

	h.press(ButtonUp, PressShort)
	require.Equal(t, ModeNew, h.s.Control.Mode)
	h.fire(TokenEditExpiry)
	assert.Equal(t, int64(60_000), h.s.Timer.BaseLengthMs)

	h.press(ButtonUp, PressShort)
	h.press(ButtonDown, PressShort)
	h.fire(TokenEditExpiry)
	assert.Equal(t, int64(150_000), h.s.Timer.BaseLengthMs)
}

func TestReduce_BackgroundPressIsSwallowed(t *testing.T) {
	h := launched(t, Timer{LengthMs: 60_000, BaseLengthMs: 60_000, Anchor: Running(t0.UnixMilli()), CanVibrate: true})

	h.press(ButtonBack, PressShort)
	require.False(t, h.s.Foreground)
	require.True(t, h.s.Timers[TokenWakeup].Armed)

	h.advance(5 * time.Second)
	h.press(ButtonSelect, PressDown)
	require.True(t, h.s.Foreground)
	assert.False(t, h.s.Timers[TokenWakeup].Armed)

	h.press(ButtonSelect, PressShort)
	assert.False(t, h.s.Timer.IsPaused(), "the launching press must not toggle")

	h.press(ButtonSelect, PressShort)
	assert.True(t, h.s.Timer.IsPaused())
}

func TestReduce_LongDownResetsOnNextLaunch(t *testing.T) {
	h := launched(t, Timer{LengthMs: 60_000, Anchor: Running(t0.UnixMilli()), CanVibrate: true})

	rr := h.press(ButtonDown, PressLong)

	assert.False(t, h.s.Foreground)
	assert.True(t, h.s.ResetOnInit)
	_, wake := scheduled(rr.Commands, TokenWakeup)
	assert.False(t, wake)
	persist := commandsOf[CmdPersist](rr.Commands)
	require.Len(t, persist, 1)
	assert.True(t, persist[0].Record.ResetOnInit)

	h.send(Launch{})
	assert.Equal(t, ModeNew, h.s.Control.Mode)
	assert.Equal(t, int64(0), h.s.Timer.LengthMs)
	assert.False(t, h.s.ResetOnInit)
}

func TestReduce_TerminatePausedSkipsWakeup(t *testing.T) {
	h := launched(t, Timer{LengthMs: 60_000, Anchor: Paused(1_000), CanVibrate: true})

	rr := h.send(Terminate{Reason: "test"})

	assert.False(t, h.s.Foreground)
	_, wake := scheduled(rr.Commands, TokenWakeup)
	assert.False(t, wake)
	assert.Len(t, commandsOf[CmdPersist](rr.Commands), 1)
}

func TestReduce_RequestStateSnapshot(t *testing.T) {
	h := launched(t, Timer{LengthMs: 60_000, Anchor: Running(t0.UnixMilli()), IsRepeating: true, RepeatCount: 2})
	reply := make(chan StateSnapshot, 1)

	rr := h.send(RequestStateSnapshot{Reply: reply})

	pub := commandsOf[CmdPublishStateSnapshot](rr.Commands)
	require.Len(t, pub, 1)
	snap := pub[0].Snapshot
	assert.Equal(t, ModeCounting, snap.Mode)
	assert.Equal(t, int64(60_000), snap.DisplayValueMs)
	assert.Equal(t, int64(1), snap.Minutes)
	assert.True(t, snap.IsRepeating)
	assert.Equal(t, uint(2), snap.RepeatCount)
	assert.True(t, snap.Foreground)
	assert.True(t, snap.InteractionActive)
}

func TestReduce_TimedEventsAreDeterministic(t *testing.T) {
	replay := func() (*DaemonState, []Command) {
		h := launched(t, Timer{LengthMs: 90_000, Anchor: Running(t0.UnixMilli())})
		h.press(ButtonSelect, PressShort)
		h.advance(1500 * time.Millisecond)
		h.press(ButtonSelect, PressShort)
		h.advance(2 * time.Second)
		rr := h.fire(TokenTick)
		return h.s, rr.Commands
	}

	s1, cmds1 := replay()
	time.Sleep(5 * time.Millisecond)
	s2, cmds2 := replay()
	assert.Equal(t, s1, s2)
	assert.Equal(t, cmds1, cmds2)
}
