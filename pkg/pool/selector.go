package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/keyrelay/pkg/keys"
)

var (
	// ErrNoAvailableKeys is returned when the pool has no enabled key.
	ErrNoAvailableKeys = errors.New("key pool: no available keys")

	// ErrInvalidPolicy is returned for an unknown rotation policy name.
	ErrInvalidPolicy = errors.New("invalid rotation policy")
)

// SelectionObserver receives a callback for every selection attempt.
// It is satisfied by the metrics collector.
type SelectionObserver interface {
	ObserveSelection(policy string, ok bool)
}

// Selector hands out one enabled key per call according to its Policy and
// records usage on the chosen key.
type Selector struct {
	store    keys.Store
	mu       sync.RWMutex
	policy   Policy
	observer SelectionObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewSelector creates a selector over store using policy.
func NewSelector(store keys.Store, policy Policy) *Selector {
	return &Selector{
		store:  store,
		policy: policy,
		logger: slog.Default().With("component", "pool.selector"),
		now:    time.Now,
	}
}

// WithObserver attaches an observer and returns the selector.
func (s *Selector) WithObserver(o SelectionObserver) *Selector {
	s.observer = o
	return s
}

// Policy returns the configured policy name.
func (s *Selector) Policy() string {
	return s.currentPolicy().Name()
}

// SetPolicy swaps the rotation policy. Selections already in flight finish
// with the old one.
func (s *Selector) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.logger.Info("rotation policy changed", "policy", p.Name())
}

func (s *Selector) currentPolicy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Select chooses an enabled key, increments its usage count and stamps
// LastUsed. It returns ErrNoAvailableKeys when no key is enabled.
//
// The returned record reflects the usage update. If the chosen key is
// deleted before its usage is recorded, selection runs once more over a
// fresh listing.
func (s *Selector) Select(ctx context.Context) (keys.KeyRecord, error) {
	policy := s.currentPolicy()

	for attempt := 0; ; attempt++ {
		updated, err := s.selectOnce(ctx, policy)
		if errors.Is(err, keys.ErrNotFound) {
			if attempt == 0 {
				s.logger.Debug("selected key was deleted, selecting again")
				continue
			}
			err = ErrNoAvailableKeys
		}
		if err != nil {
			s.observe(policy, false)
			return keys.KeyRecord{}, err
		}

		s.observe(policy, true)
		s.logger.Debug("key selected",
			"key_id", updated.ID,
			"key", keys.MaskSecret(updated.Secret),
			"policy", policy.Name(),
			"usage_count", updated.UsageCount,
		)
		return updated, nil
	}
}

// selectOnce returns keys.ErrNotFound unwrapped when the chosen key
// disappeared between List and RecordUsage.
func (s *Selector) selectOnce(ctx context.Context, policy Policy) (keys.KeyRecord, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return keys.KeyRecord{}, fmt.Errorf("failed to list keys: %w", err)
	}

	enabled := make([]keys.KeyRecord, 0, len(records))
	for _, rec := range records {
		if rec.Enabled {
			enabled = append(enabled, rec)
		}
	}
	if len(enabled) == 0 {
		s.logger.Warn("no enabled keys in pool", "total_keys", len(records))
		return keys.KeyRecord{}, ErrNoAvailableKeys
	}

	chosen := enabled[policy.Pick(enabled)]
	updated, err := s.store.RecordUsage(ctx, chosen.ID, s.now())
	if errors.Is(err, keys.ErrNotFound) {
		return keys.KeyRecord{}, keys.ErrNotFound
	}
	if err != nil {
		return keys.KeyRecord{}, fmt.Errorf("failed to record key usage: %w", err)
	}
	return updated, nil
}

func (s *Selector) observe(policy Policy, ok bool) {
	if s.observer != nil {
		s.observer.ObserveSelection(policy.Name(), ok)
	}
}
