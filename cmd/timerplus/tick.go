package main

import "time"

// refreshInput is what the refresh policy needs to know about the display.
type refreshInput struct {
	Mode             ControlMode
	ValueMs          int64
	Chrono           bool
	SinceInteraction time.Duration
	DownExtended     bool
}

const (
	// editRepeatRefresh keeps the repeat editor animating.
	editRepeatRefresh = 100 * time.Millisecond
	// boundarySlack lands the refresh just past the boundary.
	boundarySlack = 5 * time.Millisecond
	// downBoundaryWindow ends the Down-extended refresh near a minute boundary.
	downBoundaryWindow = 500
)

// refreshDelay returns the delay until the next display refresh and whether
// the Down-extended high refresh is still in effect.
//
// Seconds are only redrawn while the user is interacting; otherwise, with
// ReduceScreenUpdates, long values refresh on minute or ten-second boundaries.
func refreshDelay(in refreshInput, cfg ControlConfig) (time.Duration, bool) {
	if in.Mode == ModeEditRepeat {
		return editRepeatRefresh + boundarySlack, in.DownExtended
	}

	high := in.SinceInteraction < cfg.InteractionTimeout
	keepDown := in.DownExtended
	if in.DownExtended {
		rem := in.ValueMs % msPerMinute
		if rem < downBoundaryWindow || rem > msPerMinute-downBoundaryWindow {
			keepDown = false
		} else {
			high = true
		}
	}

	interval := msPerSecond
	if !high && cfg.ReduceScreenUpdates {
		switch {
		case in.ValueMs > 5*msPerMinute:
			interval = msPerMinute
		case in.ValueMs >= 30*msPerSecond:
			interval = 10 * msPerSecond
		}
	}

	var d int64
	if in.Chrono {
		d = interval - in.ValueMs%interval
	} else {
		d = in.ValueMs % interval
	}
	return time.Duration(d)*time.Millisecond + boundarySlack, keepDown
}
