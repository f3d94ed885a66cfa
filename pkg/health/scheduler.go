package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs batch checks on a cron schedule.
type Scheduler struct {
	batch    *BatchChecker
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool

	// entry and stopped belong to the current run; both are replaced on
	// every Start.
	entry   cron.EntryID
	stopped chan struct{}
}

// NewScheduler creates a scheduler for batch using a standard five-field
// cron expression, e.g. "0 */6 * * *" for every six hours. An empty
// schedule makes Start a no-op.
func NewScheduler(batch *BatchChecker, schedule string) *Scheduler {
	return &Scheduler{
		batch:    batch,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "health.scheduler"),
	}
}

// Start schedules the batch and returns. The scheduler stops when ctx is
// canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("health check schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	entry, err := s.cron.AddFunc(s.schedule, func() { s.runBatch(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule batch check: %w", err)
	}

	s.cron.Start()
	s.entry = entry
	s.stopped = make(chan struct{})
	s.running = true
	s.logger.Info("health scheduler started", "schedule", s.schedule)

	go func(stopped <-chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}(s.stopped)
	return nil
}

func (s *Scheduler) runBatch(ctx context.Context) {
	s.logger.Info("starting scheduled batch health check")

	report, err := s.batch.Run(ctx)
	if errors.Is(err, ErrBatchInProgress) {
		s.logger.Warn("skipping scheduled batch, previous run still in progress")
		return
	}
	if err != nil {
		s.logger.Error("scheduled batch health check failed", "error", err)
		return
	}

	s.logger.Info("scheduled batch health check completed",
		"total", report.Total,
		"valid", report.Valid,
		"invalid", report.Invalid,
	)
}

// Stop stops the scheduler and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.cron.Remove(s.entry)
		close(s.stopped)
		s.running = false
		s.logger.Info("health scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled batch time, or nil.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
