package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"mercator-hq/keyrelay/pkg/keys"
)

// DefaultPacing is the delay between consecutive probes in a batch.
const DefaultPacing = 500 * time.Millisecond

// ErrBatchInProgress is returned when a batch is started while another is
// still running.
var ErrBatchInProgress = errors.New("health: batch check already in progress")

// BatchDetail is the outcome for one key.
type BatchDetail struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Success reports whether a verdict was obtained and persisted.
	Success bool `json:"success"`

	IsValid  bool   `json:"is_valid"`
	HasQuota bool   `json:"has_quota"`
	Code     Code   `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`

	// Error is set when the key's check failed outside the classifier.
	Error string `json:"error,omitempty"`
}

// BatchReport aggregates one batch run. Valid counts keys the upstream
// accepted, regardless of quota; ValidWithQuota and ValidWithoutQuota
// partition it. Invalid counts every other key, including failed checks.
type BatchReport struct {
	Total             int           `json:"total"`
	Valid             int           `json:"valid"`
	ValidWithQuota    int           `json:"valid_with_quota"`
	ValidWithoutQuota int           `json:"valid_without_quota"`
	Invalid           int           `json:"invalid"`
	Details           []BatchDetail `json:"details"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// BatchChecker checks every stored key, enabled or not, one at a time with
// a fixed delay between keys. Serial execution bounds the outbound request
// rate while diagnosing rate limits.
type BatchChecker struct {
	checker *Checker
	store   keys.Store
	pacing  time.Duration
	running atomic.Bool
	logger  *slog.Logger

	// sleep waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchChecker creates a batch checker. A zero pacing uses
// DefaultPacing; a negative pacing disables the delay.
func NewBatchChecker(checker *Checker, pacing time.Duration) *BatchChecker {
	if pacing == 0 {
		pacing = DefaultPacing
	}
	if pacing < 0 {
		pacing = 0
	}
	return &BatchChecker{
		checker: checker,
		store:   checker.store,
		pacing:  pacing,
		logger:  slog.Default().With("component", "health.batch"),
		sleep:   sleepContext,
	}
}

// Running reports whether a batch is in progress.
func (b *BatchChecker) Running() bool {
	return b.running.Load()
}

// Run checks every key in store order and returns the aggregate report.
// N keys produce N probes and N-1 pacing delays. A failure while checking
// one key is recorded against that key and the scan continues.
//
// If ctx is canceled mid-run, the remaining keys are reported as failed
// without being probed. Only a store listing failure or a concurrent run is
// returned as an error.
func (b *BatchChecker) Run(ctx context.Context) (BatchReport, error) {
	return b.RunWithProgress(ctx, nil)
}

// ProgressFunc is told about each key as its check finishes.
type ProgressFunc func(done, total int, detail BatchDetail)

// RunWithProgress is Run with a per-key callback. progress may be nil.
func (b *BatchChecker) RunWithProgress(ctx context.Context, progress ProgressFunc) (BatchReport, error) {
	if !b.running.CompareAndSwap(false, true) {
		return BatchReport{}, ErrBatchInProgress
	}
	defer b.running.Store(false)

	report := BatchReport{StartedAt: time.Now()}

	records, err := b.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list keys: %w", err)
	}

	b.logger.Info("batch health check started", "keys", len(records), "pacing", b.pacing)

	report.Total = len(records)
	report.Details = make([]BatchDetail, 0, len(records))

	for i, rec := range records {
		if i > 0 && b.pacing > 0 {
			if err := b.sleep(ctx, b.pacing); err != nil {
				b.abandon(&report, records[i:], err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			b.abandon(&report, records[i:], err)
			break
		}

		detail := b.checkOne(ctx, rec)
		report.add(detail)
		if progress != nil {
			progress(len(report.Details), report.Total, detail)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	if b.checker.observer != nil {
		b.checker.observer.ObserveBatch(report.Total, report.Valid, report.Invalid, report.Duration)
	}

	b.logger.Info("batch health check completed",
		"total", report.Total,
		"valid", report.Valid,
		"valid_with_quota", report.ValidWithQuota,
		"valid_without_quota", report.ValidWithoutQuota,
		"invalid", report.Invalid,
		"duration", report.Duration,
	)
	return report, nil
}

// checkOne isolates a single key's check, including panics.
func (b *BatchChecker) checkOne(ctx context.Context, rec keys.KeyRecord) (detail BatchDetail) {
	detail = BatchDetail{ID: rec.ID, Name: rec.Name}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while checking key", "key_id", rec.ID, "panic", r)
			detail = BatchDetail{ID: rec.ID, Name: rec.Name, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	verdict, _, err := b.checker.checkRecord(ctx, rec)
	detail.Code = verdict.Code
	detail.Message = verdict.Message
	if err != nil {
		b.logger.Warn("key check failed", "key_id", rec.ID, "error", err)
		detail.Error = err.Error()
		return detail
	}

	detail.Success = true
	detail.IsValid = verdict.IsValid
	detail.HasQuota = verdict.HasQuota
	return detail
}

func (b *BatchChecker) abandon(report *BatchReport, rest []keys.KeyRecord, cause error) {
	b.logger.Warn("batch health check interrupted", "remaining", len(rest), "error", cause)
	for _, rec := range rest {
		report.add(BatchDetail{ID: rec.ID, Name: rec.Name, Error: cause.Error()})
	}
}

func (r *BatchReport) add(d BatchDetail) {
	r.Details = append(r.Details, d)
	switch {
	case d.Success && d.IsValid && d.HasQuota:
		r.Valid++
		r.ValidWithQuota++
	case d.Success && d.IsValid:
		r.Valid++
		r.ValidWithoutQuota++
	default:
		r.Invalid++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
