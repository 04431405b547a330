package main

import "time"

// ClockTimer is a timer that can be stopped.
type ClockTimer interface {
	Stop() bool
}

// Clock provides the time operations used outside the reducer, so tests can
// drive them by hand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) ClockTimer
	Now() time.Time
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) ClockTimer {
	return time.AfterFunc(d, f)
}

func (systemClock) Now() time.Time {
	return time.Now()
}
