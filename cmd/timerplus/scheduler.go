package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// ErrSchedulerNotStarted is returned when scheduling before Start.
var ErrSchedulerNotStarted = errors.New("scheduler has not started")

// Scheduler arms and disarms one-shot token timers. A fired timer is reported
// as TimerFired{Token, Gen}.
type Scheduler interface {
	Schedule(tok Token, gen uint64, d time.Duration) error
	Cancel(tok Token) error
}

// jobScheduler backs Scheduler with a quartz scheduler. Each token has at
// most one pending job; scheduling a token replaces its previous job.
type jobScheduler struct {
	mu sync.Mutex
	// underlying quartz scheduler
	quartzScheduler quartz.Scheduler
	// states whether the quartz scheduler has started or not
	started *atomic.Bool
	// pending job per token
	keys [tokenCount]*quartz.JobKey

	post        func(Event)
	logger      *slog.Logger
	stopTimeout time.Duration
}

// newJobScheduler creates a scheduler that reports fires through post.
func newJobScheduler(post func(Event), logger *slog.Logger, stopTimeout time.Duration) (*jobScheduler, error) {
	// quartz logs through its own logger; keep it quiet and log here instead
	qs, err := quartz.NewStdScheduler(quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))
	if err != nil {
		return nil, fmt.Errorf("create quartz scheduler: %w", err)
	}
	return &jobScheduler{
		quartzScheduler: qs,
		started:         atomic.NewBool(false),
		post:            post,
		logger:          logger,
		stopTimeout:     stopTimeout,
	}, nil
}

// Start starts the scheduler
func (x *jobScheduler) Start(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.quartzScheduler.Start(ctx)
	x.started.Store(x.quartzScheduler.IsStarted())
	x.logger.Debug("token scheduler started")
}

// Stop drops every pending job and waits for running ones to finish.
func (x *jobScheduler) Stop(ctx context.Context) error {
	if !x.started.Load() {
		return nil
	}

	x.mu.Lock()
	err := x.quartzScheduler.Clear()
	if err != nil {
		err = fmt.Errorf("clear pending jobs: %w", err)
	}
	x.keys = [tokenCount]*quartz.JobKey{}
	x.quartzScheduler.Stop()
	x.started.Store(x.quartzScheduler.IsStarted())
	x.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, x.stopTimeout)
	defer cancel()
	x.quartzScheduler.Wait(ctx)
	if ctx.Err() != nil {
		err = multierr.Append(err, fmt.Errorf("wait for running jobs: %w", ctx.Err()))
	}
	x.logger.Debug("token scheduler stopped")
	return err
}

// Schedule arms tok to fire after d, replacing any pending job for it.
func (x *jobScheduler) Schedule(tok Token, gen uint64, d time.Duration) error {
	if tok >= tokenCount {
		return fmt.Errorf("schedule: invalid token %d", tok)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.started.Load() {
		return ErrSchedulerNotStarted
	}

	if err := x.deleteLocked(tok); err != nil {
		return err
	}

	fired := job.NewFunctionJob[bool](
		func(context.Context) (bool, error) {
			x.post(TimerFired{Token: tok, Gen: gen})
			return true, nil
		},
	)

	key := quartz.NewJobKey(fmt.Sprintf("%s-%s", tok, uuid.NewString()))
	detail := quartz.NewJobDetail(fired, key)
	if err := x.quartzScheduler.ScheduleJob(detail, quartz.NewRunOnceTrigger(d)); err != nil {
		return fmt.Errorf("schedule %s: %w", tok, err)
	}
	x.keys[tok] = key
	return nil
}

// Cancel removes the pending job for tok, if any.
func (x *jobScheduler) Cancel(tok Token) error {
	if tok >= tokenCount {
		return fmt.Errorf("cancel: invalid token %d", tok)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.started.Load() {
		return ErrSchedulerNotStarted
	}
	return x.deleteLocked(tok)
}

func (x *jobScheduler) deleteLocked(tok Token) error {
	key := x.keys[tok]
	if key == nil {
		return nil
	}
	x.keys[tok] = nil

	// A run-once job that already fired is gone; that is fine.
	if err := x.quartzScheduler.DeleteJob(key); err != nil && !errors.Is(err, quartz.ErrJobNotFound) {
		return fmt.Errorf("cancel %s: %w", tok, err)
	}
	return nil
}
