package main

import "time"

// ============================================================================
// Control state machine
// ============================================================================
// Button handling on top of the timer engine. Modes:
//
//   New        edit minutes of a fresh timer
//   EditSec    edit seconds
//   EditRepeat edit the repeat count
//   Counting   show the timer (Alarm and Chrono are derived sub-states)
//
// Every handler records the interaction, cancels the pending quit, re-arms
// the edit expiry and clears the auto-snooze counter.
// ============================================================================

// Edit step sizes per button, indexed by Button.
var (
	newModeSteps = [buttonCount]int64{
		ButtonBack:   60 * msPerMinute,
		ButtonUp:     20 * msPerMinute,
		ButtonSelect: 5 * msPerMinute,
		ButtonDown:   1 * msPerMinute,
	}
	secModeSteps = [buttonCount]int64{
		ButtonBack:   60 * msPerSecond,
		ButtonUp:     20 * msPerSecond,
		ButtonSelect: 5 * msPerSecond,
		ButtonDown:   1 * msPerSecond,
	}
	repeatSteps = [buttonCount]uint{
		ButtonUp:     20,
		ButtonSelect: 5,
		ButtonDown:   1,
	}
)

// refreshAfterInteraction is how soon the display refreshes after a press.
const refreshAfterInteraction = 10 * time.Millisecond

func (r *reduction) button(ev ButtonEvent) {
	if ev.Button >= buttonCount {
		return
	}
	s := r.s

	if !s.Foreground {
		r.launch("button")
		if ev.Press == PressDown {
			s.swallow[ev.Button] = true
		}
		return
	}
	if ev.Press != PressDown && s.swallow[ev.Button] {
		s.swallow[ev.Button] = false
		return
	}

	switch ev.Press {
	case PressDown:
		r.pressDown(ev.Button)
	case PressShort:
		r.shortPress(ev.Button)
	case PressLong:
		r.longPress(ev.Button)
	}
}

// markInteraction stamps the last interaction time.
func (r *reduction) markInteraction() {
	r.s.Control.LastInteractionMs = r.nowMs
	r.s.Control.LastInteractionWasDown = false
}

// recordInteraction stamps the interaction and pulls the next refresh in.
func (r *reduction) recordInteraction() {
	r.markInteraction()
	if r.s.Foreground {
		r.schedule(TokenTick, refreshAfterInteraction)
	}
}

// begin is the common prologue of every click handler.
func (r *reduction) begin() {
	r.recordInteraction()
	r.cancel(TokenQuit)
	r.schedule(TokenEditExpiry, r.cfg.EditExpiry)
	r.s.Timer.ResetAutoSnooze()
}

// silenceAlarm disarms a live alarm. Reports whether one was live.
func (r *reduction) silenceAlarm() bool {
	t := &r.s.Timer
	if !t.IsVibrating(r.nowMs) {
		return false
	}
	t.CanVibrate = false
	r.cancelVibe()
	return true
}

func (r *reduction) pressDown(b Button) {
	switch b {
	case ButtonUp:
		// Holding Up must not commit the edit mid-hold.
		r.recordInteraction()
		r.cancel(TokenEditExpiry)
	case ButtonSelect:
		r.begin()
		r.cancelVibe()
		r.broadcasts = append(r.broadcasts, BroadcastPressAnimation{Button: b, At: r.now})
	}
}

func (r *reduction) shortPress(b Button) {
	s := r.s
	c := &s.Control
	t := &s.Timer

	r.begin()

	switch b {
	case ButtonBack:
		switch c.Mode {
		case ModeCounting:
			if !r.silenceAlarm() {
				r.terminate("back")
				return
			}
		case ModeEditRepeat:
			t.RepeatCount = 1
		default:
			r.editStep(b)
		}

	case ButtonUp:
		r.silenceAlarm()
		switch c.Mode {
		case ModeCounting:
			c.Reverse = false
			if t.DisplayValueMs(r.nowMs) == 0 && t.IsPaused() {
				c.Mode = ModeEditSec
				r.cancel(TokenEditExpiry)
			} else {
				c.Mode = ModeNew
			}
			c.EditingExisting = true
			c.LengthModified = false
		case ModeEditRepeat:
			t.RepeatCount += repeatSteps[b]
		default:
			r.editStep(b)
		}

	case ButtonSelect:
		if r.silenceAlarm() {
			if c.Mode == ModeCounting {
				t.TogglePlayPause(r.nowMs)
			}
			break
		}
		switch c.Mode {
		case ModeCounting:
			t.TogglePlayPause(r.nowMs)
		case ModeEditRepeat:
			t.RepeatCount += repeatSteps[b]
		default:
			r.editStep(b)
		}

	case ButtonDown:
		if t.IsVibrating(r.nowMs) {
			r.cancelVibe()
			if t.IsRepeating && t.RepeatCount > 1 {
				t.RepeatCount--
				t.Increment(t.BaseLengthMs, r.nowMs)
			} else {
				t.Increment(snoozeMs, r.nowMs)
			}
			break
		}
		switch c.Mode {
		case ModeCounting:
			r.extendDownRefresh()
		case ModeEditRepeat:
			t.RepeatCount += repeatSteps[b]
		default:
			r.editStep(b)
		}
	}

	r.redraw()
}

func (r *reduction) longPress(b Button) {
	s := r.s
	c := &s.Control
	t := &s.Timer

	switch b {
	case ButtonUp:
		r.begin()
		if t.IsVibrating(r.nowMs) {
			if t.BaseLengthMs > 0 {
				r.cancelVibe()
				t.IsRepeating = false
				t.RepeatCount = 0
				t.Increment(t.BaseLengthMs, r.nowMs)
			}
			break
		}
		switch c.Mode {
		case ModeCounting:
			if t.IsChrono(r.nowMs) {
				break
			}
			t.IsRepeating = !t.IsRepeating
			if t.IsRepeating {
				t.RepeatCount = 2
				c.Mode = ModeEditRepeat
			} else {
				t.RepeatCount = 0
			}
			r.vibrate(vibeShortPulse, "repeat_toggle")
		default:
			c.Reverse = !c.Reverse
			r.vibrate(vibeShortPulse, "reverse_toggle")
		}

	case ButtonSelect:
		r.begin()
		c.Reverse = false
		switch c.Mode {
		case ModeCounting:
			t.Restart(r.nowMs)
		case ModeNew:
			t.Reset(r.nowMs)
			t.Anchor = Paused(0)
			c.Mode = ModeEditSec
			c.EditingExisting = false
		}

	case ButtonDown:
		r.recordInteraction()
		r.cancel(TokenQuit)
		t.ResetAutoSnooze()
		s.ResetOnInit = true
		r.terminate("reset")
		return

	default:
		// Back has no long press; the recognizer reports it as short.
		return
	}

	r.redraw()
}

// editStep applies the New/EditSec increment for b, signed by Reverse, and
// handles a zero crossing.
func (r *reduction) editStep(b Button) {
	c := &r.s.Control
	t := &r.s.Timer

	step := newModeSteps[b]
	if c.Mode == ModeEditSec {
		step = secModeSteps[b]
	}
	if c.Reverse {
		step = -step
	}

	wasChrono := t.IsChrono(r.nowMs)
	if c.EditingExisting && wasChrono {
		t.IncrementChrono(step)
	} else {
		t.Increment(step, r.nowMs)
	}
	c.LengthModified = true

	isChrono := t.IsChrono(r.nowMs)
	if isChrono == wasChrono {
		return
	}
	c.Reverse = false
	if isChrono {
		// A stopwatch reached by editing has no alarm to ring.
		t.CanVibrate = false
		t.BaseLengthMs = 0
		c.EditingExisting = true
		return
	}
	t.Rebase(r.nowMs)
	t.BaseLengthMs = t.DisplayValueMs(r.nowMs)
}

// extendDownRefresh keeps second-level refresh after a Down press in Counting
// unless the display is already within 3s of a minute boundary.
func (r *reduction) extendDownRefresh() {
	t := &r.s.Timer
	if t.IsPaused() {
		return
	}
	val := t.DisplayValueMs(r.nowMs)
	var near bool
	if t.IsChrono(r.nowMs) {
		near = msPerMinute-val%msPerMinute <= 3*msPerSecond
	} else {
		near = val%msPerMinute <= 3*msPerSecond
	}
	if !near {
		r.s.Control.LastInteractionWasDown = true
	}
}

// editExpired commits the edit and returns to Counting.
func (r *reduction) editExpired() {
	s := r.s
	c := &s.Control
	t := &s.Timer

	c.Reverse = false
	if c.Mode.IsEditing() {
		if !c.EditingExisting || c.LengthModified {
			t.BaseLengthMs = max(t.LengthMs, 0)
		}
		if t.IsRepeating {
			t.BaseRepeatCount = t.RepeatCount
		}
		c.Mode = ModeCounting

		if t.LengthMs > r.cfg.AutoBackgroundLength.Milliseconds() ||
			(r.cfg.AutoBackgroundChrono && t.IsChrono(r.nowMs)) {
			r.schedule(TokenQuit, r.cfg.QuitDelay)
		}
	}
	r.redraw()
}
