package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshDelay(t *testing.T) {
	const active = 2 * time.Second
	const idle = 20 * time.Second

	reduced := DefaultControlConfig()
	everySecond := DefaultControlConfig()
	everySecond.ReduceScreenUpdates = false

	cases := []struct {
		name     string
		in       refreshInput
		cfg      ControlConfig
		want     time.Duration
		wantDown bool
	}{
		{"edit repeat animates", refreshInput{Mode: ModeEditRepeat, ValueMs: 372_345, SinceInteraction: idle}, reduced, 105 * time.Millisecond, false},
		{"countdown while interacting", refreshInput{Mode: ModeCounting, ValueMs: 125_300, SinceInteraction: active}, reduced, 305 * time.Millisecond, false},
		{"idle countdown over five minutes", refreshInput{Mode: ModeCounting, ValueMs: 372_345, SinceInteraction: idle}, reduced, 12_350 * time.Millisecond, false},
		{"idle countdown over thirty seconds", refreshInput{Mode: ModeCounting, ValueMs: 45_250, SinceInteraction: idle}, reduced, 5_255 * time.Millisecond, false},
		{"idle countdown under thirty seconds", refreshInput{Mode: ModeCounting, ValueMs: 12_400, SinceInteraction: idle}, reduced, 405 * time.Millisecond, false},
		{"idle chrono counts up to the boundary", refreshInput{Mode: ModeCounting, ValueMs: 372_345, Chrono: true, SinceInteraction: idle}, reduced, 47_660 * time.Millisecond, false},
		{"chrono while interacting", refreshInput{Mode: ModeCounting, ValueMs: 1_200, Chrono: true, SinceInteraction: active}, reduced, 805 * time.Millisecond, false},
		{"reduction disabled", refreshInput{Mode: ModeCounting, ValueMs: 372_345, SinceInteraction: idle}, everySecond, 350 * time.Millisecond, false},
		{"down extended keeps seconds", refreshInput{Mode: ModeCounting, ValueMs: 372_345, SinceInteraction: idle, DownExtended: true}, reduced, 350 * time.Millisecond, true},
		{"down extended ends at minute boundary", refreshInput{Mode: ModeCounting, ValueMs: 360_200, SinceInteraction: idle, DownExtended: true}, reduced, 205 * time.Millisecond, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, down := refreshDelay(tc.in, tc.cfg)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantDown, down)
		})
	}
}
