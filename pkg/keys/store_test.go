package keys

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "keys.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStore_AddAndList(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := store.Add(ctx, "first", "secret-a")
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if !a.Enabled {
				t.Error("new key should be enabled")
			}
			if a.QuotaStatus != QuotaUnknown {
				t.Errorf("QuotaStatus = %q, want %q", a.QuotaStatus, QuotaUnknown)
			}
			if a.UsageCount != 0 {
				t.Errorf("UsageCount = %d, want 0", a.UsageCount)
			}

			if _, err := store.Add(ctx, "second", "secret-b"); err != nil {
				t.Fatalf("Add() error = %v", err)
			}

			list, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("List() returned %d records, want 2", len(list))
			}
			if list[0].Name != "first" || list[1].Name != "second" {
				t.Errorf("List() order = [%s %s], want [first second]", list[0].Name, list[1].Name)
			}
		})
	}
}

func TestStore_AddRejectsDuplicateAndEmpty(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Add(ctx, "a", "dup"); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if _, err := store.Add(ctx, "b", "dup"); !errors.Is(err, ErrDuplicateSecret) {
				t.Errorf("Add() duplicate error = %v, want ErrDuplicateSecret", err)
			}
			if _, err := store.Add(ctx, "c", "   "); !errors.Is(err, ErrEmptySecret) {
				t.Errorf("Add() empty error = %v, want ErrEmptySecret", err)
			}
		})
	}
}

func TestStore_UpdatePreservesUnmentionedFields(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.Add(ctx, "key", "secret")
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if _, err := store.RecordUsage(ctx, rec.ID, time.Now()); err != nil {
				t.Fatalf("RecordUsage() error = %v", err)
			}

			exceeded := QuotaExceeded
			checkedAt := time.Now()
			updated, err := store.Update(ctx, rec.ID, Patch{
				QuotaStatus:   &exceeded,
				LastCheckTime: &checkedAt,
				LastCheckResult: &CheckResult{
					IsValid: true,
					Code:    "QUOTA_EXCEEDED",
				},
			})
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}

			if updated.QuotaStatus != QuotaExceeded {
				t.Errorf("QuotaStatus = %q, want %q", updated.QuotaStatus, QuotaExceeded)
			}
			if updated.Name != "key" || updated.Secret != "secret" {
				t.Errorf("Update() changed unmentioned fields: %+v", updated)
			}
			if !updated.Enabled {
				t.Error("Update() changed Enabled without being asked")
			}
			if updated.UsageCount != 1 {
				t.Errorf("UsageCount = %d, want 1", updated.UsageCount)
			}
			if updated.LastCheckResult == nil || updated.LastCheckResult.Code != "QUOTA_EXCEEDED" {
				t.Errorf("LastCheckResult = %+v, want QUOTA_EXCEEDED", updated.LastCheckResult)
			}
			if updated.UpdatedAt.Before(rec.UpdatedAt) {
				t.Error("UpdatedAt should be stamped on update")
			}

			got, err := store.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.LastCheckResult == nil || got.LastCheckResult.Code != "QUOTA_EXCEEDED" {
				t.Errorf("Get() LastCheckResult = %+v, want persisted result", got.LastCheckResult)
			}
		})
	}
}

func TestStore_ToggleAndDelete(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.Add(ctx, "key", "secret")
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}

			toggled, err := store.Toggle(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Toggle() error = %v", err)
			}
			if toggled.Enabled {
				t.Error("Toggle() should disable an enabled key")
			}

			deleted, err := store.Delete(ctx, rec.ID)
			if err != nil || !deleted {
				t.Fatalf("Delete() = %v, %v; want true, nil", deleted, err)
			}
			deleted, err = store.Delete(ctx, rec.ID)
			if err != nil || deleted {
				t.Errorf("second Delete() = %v, %v; want false, nil", deleted, err)
			}

			if _, err := store.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
			}
			if _, err := store.Toggle(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("Toggle() after delete error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_ConcurrentUsageIsNotLost(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.Add(ctx, "key", "secret")
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}

			const workers = 20
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.RecordUsage(ctx, rec.ID, time.Now()); err != nil {
						t.Errorf("RecordUsage() error = %v", err)
					}
				}()
			}
			wg.Wait()

			got, err := store.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.UsageCount != workers {
				t.Errorf("UsageCount = %d, want %d", got.UsageCount, workers)
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		secret string
		want   string
	}{
		{"AIzaSyABCDEF1234", "****1234"},
		{"abc", "****"},
		{"", "****"},
	}

	for _, tt := range tests {
		if got := MaskSecret(tt.secret); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.secret, got, tt.want)
		}
	}
}
