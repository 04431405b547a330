package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that executes side effects.
//   - Scheduled timers come back as TimerFired events on the same channel as
//     button and IPC events, so every mutation is serialized here.
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Launches the app once at startup
//   - Receives Events from input, IPC, WebSocket and scheduler sources
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and publishes broadcasts
//
// Shutdown semantics:
//   - On ctx cancellation or a closed events channel, a final Terminate is
//     reduced so the timer is persisted before returning.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	cfg ControlConfig,
	state *DaemonState,
	eff Effects,
	broadcasts chan<- StateBroadcast,
	clock Clock,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}
	if clock == nil {
		clock = SystemClock
	}

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event, at time.Time) {
		eventQueue = append(eventQueue, TimedEvent{Event: ev, At: at})
	}

	publish := func(bcs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, bc := range bcs {
			select {
			case broadcasts <- bc:
			default:
				logger.Warn("broadcast channel full; dropping", "type", broadcastType(bc))
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]
			_ = runEffect(eff, cmd, logger)
		}
	}

	step := func(ev Event) {
		if te, ok := ev.(TimedEvent); ok {
			eventQueue = append(eventQueue, te)
		} else {
			enqueueEvent(ev, clock.Now())
		}
		flushEvents()
		flushCommands()
	}

	shutdown := func(reason string) {
		logger.Info("daemon stopping", "reason", reason)
		step(Terminate{Reason: "shutdown"})
	}

	step(Launch{Reason: "start"})
	logger.Info("daemon started",
		"mode", state.Control.Mode.String(),
		"display_ms", state.Timer.DisplayValueMs(clock.Now().UnixMilli()),
	)

	for {
		select {
		case <-ctx.Done():
			shutdown("context canceled")
			return

		case ev, ok := <-events:
			if !ok {
				shutdown("events channel closed")
				return
			}
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Debug("event", "type", eventType(ev))
			}
			step(ev)
		}
	}
}

func eventType(ev Event) string {
	switch e := ev.(type) {
	case ButtonEvent:
		return "button:" + e.Button.String() + ":" + e.Press.String()
	case TimerFired:
		return "fired:" + e.Token.String()
	case Launch:
		return "launch"
	case Terminate:
		return "terminate"
	case RequestStateSnapshot:
		return "snapshot_request"
	case TimedEvent:
		return eventType(e.Event)
	default:
		return "unknown"
	}
}
