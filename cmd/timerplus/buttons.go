package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultLongPress is the hold time after which a press counts as long.
const defaultLongPress = 750 * time.Millisecond

// ClickRecognizer turns raw key down/up transitions into ButtonEvents:
//
//   - PressDown as soon as a key goes down
//   - PressLong once it has been held for the long-press threshold
//   - PressShort on release, unless the long press already fired
//
// Back has no long press and always reports short on release.
type ClickRecognizer struct {
	clock     Clock
	longPress time.Duration
	emit      func(ButtonEvent)

	mu   sync.Mutex
	held [buttonCount]*heldKey
}

type heldKey struct {
	timer    ClockTimer
	longSent bool
}

// NewClickRecognizer creates a recognizer reporting through emit. emit may be
// called from the clock's timer goroutine.
func NewClickRecognizer(clock Clock, longPress time.Duration, emit func(ButtonEvent)) *ClickRecognizer {
	if clock == nil {
		clock = SystemClock
	}
	if longPress <= 0 {
		longPress = defaultLongPress
	}
	return &ClickRecognizer{clock: clock, longPress: longPress, emit: emit}
}

func hasLongPress(b Button) bool { return b != ButtonBack }

// KeyDown records a press of b. Auto-repeat of a held key is ignored.
func (r *ClickRecognizer) KeyDown(b Button) {
	if b >= buttonCount {
		return
	}

	r.mu.Lock()
	if r.held[b] != nil {
		r.mu.Unlock()
		return
	}
	h := &heldKey{}
	r.held[b] = h
	if hasLongPress(b) {
		h.timer = r.clock.AfterFunc(r.longPress, func() { r.longFired(b, h) })
	}
	r.mu.Unlock()

	r.emit(ButtonEvent{Button: b, Press: PressDown})
}

// KeyUp records the release of b.
func (r *ClickRecognizer) KeyUp(b Button) {
	if b >= buttonCount {
		return
	}

	r.mu.Lock()
	h := r.held[b]
	r.held[b] = nil
	if h == nil {
		r.mu.Unlock()
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	short := !h.longSent
	r.mu.Unlock()

	if short {
		r.emit(ButtonEvent{Button: b, Press: PressShort})
	}
}

// Reset forgets every held key without emitting anything.
func (r *ClickRecognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.held {
		if h != nil && h.timer != nil {
			h.timer.Stop()
		}
		r.held[i] = nil
	}
}

func (r *ClickRecognizer) longFired(b Button, h *heldKey) {
	r.mu.Lock()
	if r.held[b] != h || h.longSent {
		r.mu.Unlock()
		return
	}
	h.longSent = true
	r.mu.Unlock()

	r.emit(ButtonEvent{Button: b, Press: PressLong})
}

// runButtonInput maps raw evdev key events through keymap into the recognizer
// until ctx is done or the input channel closes.
func runButtonInput(ctx context.Context, raw <-chan inputEvent, keymap map[uint16]Button, rec *ClickRecognizer, logger *slog.Logger) {
	defer rec.Reset()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}
			if ev.Type != EV_KEY {
				continue
			}
			b, ok := keymap[ev.Code]
			if !ok {
				continue
			}
			switch ev.Value {
			case evValuePress:
				logger.Debug("key down", "button", b.String(), "code", ev.Code)
				rec.KeyDown(b)
			case evValueRelease:
				logger.Debug("key up", "button", b.String(), "code", ev.Code)
				rec.KeyUp(b)
			case evValueRepeat:
				// Long presses are timed by the recognizer, not by autorepeat.
			}
		}
	}
}
