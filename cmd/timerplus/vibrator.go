package main

import (
	"log/slog"
	"time"
)

// Vibrator drives the vibration motor.
type Vibrator interface {
	Vibrate(pattern []time.Duration) error
	Cancel() error
}

// logVibrator stands in for a motor on headless hosts: it logs the pattern.
// Observers see vibrations through the WebSocket feed.
type logVibrator struct {
	logger *slog.Logger
}

func newLogVibrator(logger *slog.Logger) *logVibrator {
	return &logVibrator{logger: logger}
}

func (v *logVibrator) Vibrate(pattern []time.Duration) error {
	var total time.Duration
	for _, d := range pattern {
		total += d
	}
	v.logger.Info("vibrate", "pattern", pattern, "total", total)
	return nil
}

func (v *logVibrator) Cancel() error {
	v.logger.Debug("vibrate cancel")
	return nil
}
