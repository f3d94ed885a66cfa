package health

import (
	"context"
	"testing"
	"time"

	"mercator-hq/keyrelay/pkg/keys"
)

func newTestBatch() *BatchChecker {
	return NewBatchChecker(NewChecker(newFakeProber(), keys.NewMemoryStore(), CheckerConfig{}), -1)
}

func TestScheduler_EmptyScheduleIsNoop(t *testing.T) {
	s := NewScheduler(newTestBatch(), "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true with empty schedule")
	}
	if s.NextRun() != nil {
		t.Error("NextRun() should be nil with empty schedule")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestBatch(), "every tuesday")
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should reject an invalid cron expression")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(newTestBatch(), "0 */6 * * *")
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}

	next := s.NextRun()
	if next == nil {
		t.Fatal("NextRun() = nil")
	}
	if until := time.Until(*next); until <= 0 || until > 6*time.Hour {
		t.Errorf("NextRun() in %v, want within 6h", until)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestScheduler_RestartRegistersOneJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(newTestBatch(), "@hourly")
	for i := 0; i < 3; i++ {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
		if got := len(s.cron.Entries()); got != 1 {
			t.Fatalf("after Start() #%d: %d cron entries, want 1", i+1, got)
		}
		s.Stop()
		if s.NextRun() != nil {
			t.Errorf("after Stop() #%d: NextRun() != nil", i+1)
		}
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(newTestBatch(), "@hourly")
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("scheduler still running after context cancel")
	}
}

func TestScheduler_RunBatchSkipsWhenBusy(t *testing.T) {
	b := newTestBatch()
	b.running.Store(true)
	s := NewScheduler(b, "@hourly")

	// Must return without blocking or panicking.
	s.runBatch(context.Background())
}
