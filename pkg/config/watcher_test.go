package config

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	prev := GetConfig()
	t.Cleanup(func() { SetConfig(prev) })

	path := writeConfig(t, minimalYAML)
	w, err := NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func(c *Config) { changes <- c }) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(minimalYAML+"pool:\n  policy: sequential\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.Pool.Policy != "sequential" {
			t.Errorf("reloaded Policy = %q", cfg.Pool.Policy)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after file change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() = %v", err)
	}
}

func TestWatcher_InvalidFileKeepsConfig(t *testing.T) {
	prev := GetConfig()
	t.Cleanup(func() { SetConfig(prev) })

	path := writeConfig(t, minimalYAML)
	w, err := NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() { _ = w.Watch(ctx, func(*Config) { calls.Add(1) }) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("pool:\n  policy: nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("onChange called %d times for an invalid file", calls.Load())
	}
}

func TestWatcher_AlreadyRunning(t *testing.T) {
	w, err := NewWatcher(writeConfig(t, minimalYAML), 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Watch(ctx, nil) }()
	time.Sleep(50 * time.Millisecond)
	if err := w.Watch(ctx, nil); !errors.Is(err, ErrWatcherRunning) {
		t.Errorf("second Watch() = %v", err)
	}
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired.Add(1) })
	}
	time.Sleep(120 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}

	d.Stop()
	d.Trigger(func() { fired.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 1 {
		t.Error("callback fired after Stop")
	}
}
