package embedding

import (
	"context"
	"log/slog"
	"time"
)

// drainFunc matches Drainer.DrainOnce; the indirection lets tests schedule
// a counting stub and keeps the drain logic invokable without a scheduler
// (manual tick, cron, or HTTP trigger all share the same contract).
type drainFunc func(ctx context.Context) (int, error)

// Scheduler periodically drains the embedding queue.
type Scheduler struct {
	drain    drainFunc
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a queue-drain scheduler.
func NewScheduler(drainer *Drainer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return newScheduler(drainer.DrainOnce, interval, logger)
}

func newScheduler(drain drainFunc, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{drain: drain, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled, draining the queue on each tick.
// Callers must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes a single drain tick. Failures are logged, never fatal:
// the next tick retries.
func (s *Scheduler) runOnce(ctx context.Context) {
	n, err := s.drain(ctx)
	if err != nil {
		s.logger.Warn("drain tick failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("drain tick completed", "processed", n)
	}
}
