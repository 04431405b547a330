package main

import "fmt"

// ============================================================================
// Timer Engine
// ============================================================================
// A single countdown/stopwatch value and its time arithmetic.
//
// All operations take "now" as epoch milliseconds so the engine stays pure and
// deterministic under test. The engine knows nothing about buttons or modes.
//
//   elapsed   = paused ? stored : now - epoch
//   raw       = LengthMs - elapsed        (negative past zero)
//   chrono    = raw <= 0
//   display   = |raw|
// ============================================================================

const (
	msPerSecond = int64(1000)
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute

	// snoozeMs is added when an alarm is snoozed or auto-snoozed.
	snoozeMs = 5 * msPerMinute

	// alarmLiveMs is how long an unacknowledged alarm keeps vibrating.
	alarmLiveMs = 30 * msPerSecond

	// maxAutoSnooze caps the number of automatic re-snoozes.
	maxAutoSnooze = 5
)

// AnchorKind tags the meaning of TimeAnchor.Ms.
type AnchorKind uint8

const (
	// AnchorRunning: Ms is the wall-clock epoch (ms) counting began at.
	AnchorRunning AnchorKind = iota
	// AnchorPaused: Ms is the elapsed time (ms) accumulated before pausing.
	AnchorPaused
)

func (k AnchorKind) String() string {
	switch k {
	case AnchorRunning:
		return "running"
	case AnchorPaused:
		return "paused"
	default:
		return fmt.Sprintf("AnchorKind(%d)", k)
	}
}

// TimeAnchor is either Running(epochMs) or Paused(elapsedMs).
type TimeAnchor struct {
	Kind AnchorKind
	Ms   int64
}

// Running returns an anchor that started counting at epochMs.
func Running(epochMs int64) TimeAnchor { return TimeAnchor{Kind: AnchorRunning, Ms: epochMs} }

// Paused returns an anchor holding elapsedMs of accumulated time.
func Paused(elapsedMs int64) TimeAnchor { return TimeAnchor{Kind: AnchorPaused, Ms: elapsedMs} }

// Elapsed returns the elapsed time at now. It is negative when a running anchor
// starts in the future.
func (a TimeAnchor) Elapsed(now int64) int64 {
	if a.Kind == AnchorPaused {
		return a.Ms
	}
	return now - a.Ms
}

func (a TimeAnchor) String() string {
	return fmt.Sprintf("%s(%d)", a.Kind, a.Ms)
}

// Alert is what CheckElapsed asks the caller to signal.
type Alert uint8

const (
	AlertNone Alert = iota
	// AlertPrimary is the regular alarm pattern.
	AlertPrimary
	// AlertRepeat marks an automatic restart of a repeating timer.
	AlertRepeat
)

func (a Alert) String() string {
	switch a {
	case AlertNone:
		return "none"
	case AlertPrimary:
		return "primary"
	case AlertRepeat:
		return "repeat"
	default:
		return fmt.Sprintf("Alert(%d)", a)
	}
}

// Timer is the single timer owned by the daemon loop.
type Timer struct {
	LengthMs        int64
	Anchor          TimeAnchor
	BaseLengthMs    int64
	CanVibrate      bool
	AutoSnoozeCount uint
	IsRepeating     bool
	RepeatCount     uint
	BaseRepeatCount uint
}

// NewTimer returns a freshly reset timer.
func NewTimer(now int64) Timer {
	var t Timer
	t.Reset(now)
	return t
}

func (t *Timer) raw(now int64) int64 {
	return t.LengthMs - t.Anchor.Elapsed(now)
}

// DisplayValueMs is the value shown to the user: time left for a countdown or
// time past zero for a chrono.
func (t *Timer) DisplayValueMs(now int64) int64 {
	r := t.raw(now)
	if r < 0 {
		return -r
	}
	return r
}

// IsChrono reports whether the timer is counting up past zero.
func (t *Timer) IsChrono(now int64) bool {
	return t.raw(now) <= 0
}

// IsPaused reports whether the anchor is paused.
func (t *Timer) IsPaused() bool {
	return t.Anchor.Kind == AnchorPaused
}

// IsVibrating reports whether the alarm is live.
func (t *Timer) IsVibrating(now int64) bool {
	return t.IsChrono(now) && !t.IsPaused() && t.CanVibrate
}

// Reset clears the timer to a running 0:00. Also used to commit a reset mid-edit.
func (t *Timer) Reset(now int64) {
	t.LengthMs = 0
	t.BaseLengthMs = 0
	t.Anchor = Running(now)
	t.CanVibrate = false
	t.AutoSnoozeCount = 0
	t.IsRepeating = false
	t.RepeatCount = 0
}

// Increment adds delta to the countdown length. Values that land below one
// second collapse to a reset.
func (t *Timer) Increment(delta, now int64) {
	t.LengthMs += delta
	if t.DisplayValueMs(now) < msPerSecond {
		t.Reset(now)
	}
	if t.LengthMs > 0 {
		t.CanVibrate = true
	}
}

// IncrementChrono adds delta to a stopwatch by moving its anchor instead of its
// length. Subtracting past now yields a running anchor in the future.
func (t *Timer) IncrementChrono(delta int64) {
	if t.IsPaused() {
		t.Anchor.Ms += delta
		return
	}
	t.Anchor.Ms -= delta
}

// TogglePlayPause switches the anchor between its running and paused forms
// without changing the elapsed time.
func (t *Timer) TogglePlayPause(now int64) {
	if t.IsPaused() {
		t.Anchor = Running(now - t.Anchor.Ms)
		return
	}
	t.Anchor = Paused(now - t.Anchor.Ms)
}

// Restart returns the timer to its committed length, keeping it paused or
// running as it was.
func (t *Timer) Restart(now int64) {
	if t.BaseLengthMs > 0 {
		t.LengthMs = t.BaseLengthMs
	} else {
		t.LengthMs = 0
	}

	if t.IsPaused() {
		t.Anchor = Paused(0)
	} else {
		t.Anchor = Running(now)
	}

	if t.IsRepeating {
		t.RepeatCount = t.BaseRepeatCount
	}
	t.CanVibrate = t.LengthMs > 0
	t.AutoSnoozeCount = 0
}

// Rewind pauses at zero elapsed, keeping the length.
func (t *Timer) Rewind() {
	t.Anchor = Paused(0)
	if t.LengthMs != 0 {
		t.CanVibrate = true
	}
}

// Rebase folds a countdown that only exists through a shifted anchor into
// LengthMs so that elapsed is zero again. The display value is unchanged,
// except that a countdown under one second collapses to a reset like it does
// in Increment. A paused timer stays paused.
func (t *Timer) Rebase(now int64) {
	r := t.raw(now)
	if r <= 0 {
		return
	}
	if r < msPerSecond {
		paused := t.IsPaused()
		t.Reset(now)
		if paused {
			t.Anchor = Paused(0)
		}
		return
	}
	t.LengthMs = r
	if t.IsPaused() {
		t.Anchor = Paused(0)
	} else {
		t.Anchor = Running(now)
	}
	t.CanVibrate = true
}

// ResetAutoSnooze clears the auto-snooze counter after user interaction.
func (t *Timer) ResetAutoSnooze() {
	t.AutoSnoozeCount = 0
}

// CheckElapsed runs on every tick. It advances repeats, auto-snoozes stale
// alarms, and reports which alert (if any) should be signalled.
func (t *Timer) CheckElapsed(now int64) Alert {
	if !t.IsVibrating(now) {
		return AlertNone
	}

	if t.IsRepeating && t.RepeatCount > 1 {
		t.RepeatCount--
		t.Increment(t.BaseLengthMs, now)
		return AlertRepeat
	}

	if t.DisplayValueMs(now) > alarmLiveMs {
		t.CanVibrate = false
		if t.AutoSnoozeCount < maxAutoSnooze {
			t.AutoSnoozeCount++
			t.Increment(snoozeMs, now)
		}
		return AlertNone
	}

	return AlertPrimary
}

// TimeParts splits the display value into hours, minutes and seconds.
func (t *Timer) TimeParts(now int64) (hr, min, sec int64) {
	v := t.DisplayValueMs(now)
	return v / msPerHour, v % msPerHour / msPerMinute, v % msPerMinute / msPerSecond
}
