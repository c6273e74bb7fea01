// Package scheduler triggers fleet runs on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// RunFunc performs one complete run
type RunFunc func(ctx context.Context) error

// Scheduler runs a RunFunc every interval. A tick that arrives while a run
// is still going is rescheduled rather than overlapping it.
type Scheduler struct {
	sched    gocron.Scheduler
	logger   *zap.Logger
	interval time.Duration
}

// New creates a scheduler. The first run starts as soon as Start is called.
// ctx is handed to every run and cancelling it aborts the run in progress.
func New(ctx context.Context, logger *zap.Logger, interval time.Duration, run RunFunc) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	task := func() {
		start := time.Now()
		if err := run(ctx); err != nil {
			logger.Error("Scheduled run failed", zap.Error(err))
			return
		}
		logger.Debug("Scheduled run finished", zap.Duration("took", time.Since(start)))
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName("fleet-run"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule run: %w", err)
	}

	return &Scheduler{sched: s, logger: logger, interval: interval}, nil
}

// Start begins scheduling
func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
}

// Shutdown stops scheduling and waits for a running job to return
func (s *Scheduler) Shutdown() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}
