package keys

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. Records keep their
// insertion order. All data is lost when the process exits.
//
// MemoryStore is thread-safe; every operation holds mu for its whole
// read-modify-write cycle.
type MemoryStore struct {
	mu sync.RWMutex

	// order holds ids in insertion order.
	order []string

	// records maps id to record.
	records map[string]*KeyRecord

	// secrets maps secret to id for uniqueness checks.
	secrets map[string]string

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*KeyRecord),
		secrets: make(map[string]string),
		now:     time.Now,
	}
}

// Add creates a new enabled record.
func (s *MemoryStore) Add(ctx context.Context, name, secret string) (KeyRecord, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return KeyRecord{}, ErrEmptySecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.secrets[secret]; exists {
		return KeyRecord{}, ErrDuplicateSecret
	}

	now := s.now()
	rec := &KeyRecord{
		ID:          uuid.NewString(),
		Secret:      secret,
		Name:        name,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
		QuotaStatus: QuotaUnknown,
	}
	s.records[rec.ID] = rec
	s.secrets[secret] = rec.ID
	s.order = append(s.order, rec.ID)

	return cloneRecord(rec), nil
}

// List returns all records in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]KeyRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRecord(s.records[id]))
	}
	return out, nil
}

// Get returns a single record.
func (s *MemoryStore) Get(ctx context.Context, id string) (KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return KeyRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Update applies a partial update.
func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) (KeyRecord, error) {
	return s.mutate(id, func(rec *KeyRecord) {
		patch.apply(rec)
	})
}

// Toggle flips Enabled.
func (s *MemoryStore) Toggle(ctx context.Context, id string) (KeyRecord, error) {
	return s.mutate(id, func(rec *KeyRecord) {
		rec.Enabled = !rec.Enabled
	})
}

// RecordUsage increments UsageCount and sets LastUsed.
func (s *MemoryStore) RecordUsage(ctx context.Context, id string, at time.Time) (KeyRecord, error) {
	return s.mutate(id, func(rec *KeyRecord) {
		rec.UsageCount++
		rec.LastUsed = &at
	})
}

// Delete removes a record.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, nil
	}
	delete(s.records, id)
	delete(s.secrets, rec.Secret)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// mutate runs fn on the stored record under the write lock and stamps
// UpdatedAt.
func (s *MemoryStore) mutate(id string, fn func(*KeyRecord)) (KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return KeyRecord{}, ErrNotFound
	}
	fn(rec)
	rec.UpdatedAt = s.now()
	return cloneRecord(rec), nil
}

// cloneRecord deep-copies the pointer fields so callers cannot alias
// stored state.
func cloneRecord(rec *KeyRecord) KeyRecord {
	out := *rec
	if rec.LastUsed != nil {
		t := *rec.LastUsed
		out.LastUsed = &t
	}
	if rec.LastCheckTime != nil {
		t := *rec.LastCheckTime
		out.LastCheckTime = &t
	}
	if rec.LastCheckResult != nil {
		res := *rec.LastCheckResult
		out.LastCheckResult = &res
	}
	return out
}
