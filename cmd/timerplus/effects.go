package main

import (
	"log/slog"
)

// RecordSaver persists timer records.
type RecordSaver interface {
	Save(r TimerRecord) error
}

// Effects bundles the collaborators runEffect talks to.
type Effects struct {
	Scheduler Scheduler
	Vibrator  Vibrator
	Store     RecordSaver
}

// runEffect executes a single reducer-emitted Command against external systems.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly. Scheduled timers come back to the
//   daemon loop as TimerFired events.
// - Failures are logged here; the reducer keeps its state as-is.
func runEffect(eff Effects, cmd Command, logger *slog.Logger) error {
	var err error

	switch c := cmd.(type) {
	case CmdSchedule:
		if eff.Scheduler == nil {
			err = errMissingEffect{cmd: cmd}
			break
		}
		err = eff.Scheduler.Schedule(c.Token, c.Gen, c.Delay)

	case CmdCancel:
		if eff.Scheduler == nil {
			err = errMissingEffect{cmd: cmd}
			break
		}
		err = eff.Scheduler.Cancel(c.Token)

	case CmdVibrate:
		if eff.Vibrator == nil {
			err = errMissingEffect{cmd: cmd}
			break
		}
		err = eff.Vibrator.Vibrate(c.Pattern)

	case CmdCancelVibe:
		if eff.Vibrator == nil {
			err = errMissingEffect{cmd: cmd}
			break
		}
		err = eff.Vibrator.Cancel()

	case CmdPersist:
		if eff.Store == nil {
			err = errMissingEffect{cmd: cmd}
			break
		}
		err = eff.Store.Save(c.Record)
		if err == nil {
			logger.Debug("timer persisted", "command", cmd.String())
		}

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return nil
		}

		// Never block the daemon loop.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		err = errUnknownCommand{cmd: cmd}
	}

	if err != nil {
		logger.Error("effect failed", "command", cmd.String(), "error", err)
	}
	return err
}

// errMissingEffect indicates a command arrived without the collaborator to run it.
type errMissingEffect struct {
	cmd Command
}

func (e errMissingEffect) Error() string { return "no handler configured for " + e.cmd.String() }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
