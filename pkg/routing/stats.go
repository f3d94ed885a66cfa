package routing

import (
	"sync"
	"sync/atomic"
	"time"
)

// AtomicRoutingStats implements thread-safe routing statistics using atomic operations.
type AtomicRoutingStats struct {
	totalRequests  atomic.Int64
	successes      atomic.Int64
	failures       atomic.Int64
	fallbacks      atomic.Int64
	quotaExhausted atomic.Int64

	// winsPerTier and failuresPerTier hold *atomic.Int64 keyed by tier name.
	winsPerTier     sync.Map
	failuresPerTier sync.Map

	// lastResetTime is when statistics were last reset
	lastResetTime time.Time

	// mu protects lastResetTime
	mu sync.RWMutex
}

// NewAtomicRoutingStats creates a new atomic routing statistics tracker.
func NewAtomicRoutingStats() *AtomicRoutingStats {
	return &AtomicRoutingStats{
		lastResetTime: time.Now(),
	}
}

// record folds one result into the counters.
func (s *AtomicRoutingStats) record(res *Result) {
	s.totalRequests.Add(1)

	for _, a := range res.Attempts {
		if !a.Success {
			increment(&s.failuresPerTier, a.Tier)
		}
	}

	if res.Success {
		s.successes.Add(1)
		increment(&s.winsPerTier, res.Tier)
		if res.UsedFallback {
			s.fallbacks.Add(1)
		}
		return
	}

	s.failures.Add(1)
	if res.QuotaExhausted {
		s.quotaExhausted.Add(1)
	}
}

func increment(m *sync.Map, key string) {
	val, _ := m.LoadOrStore(key, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

func collect(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(key, value interface{}) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Snapshot returns a point-in-time snapshot of the statistics.
func (s *AtomicRoutingStats) Snapshot() *RoutingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &RoutingStats{
		TotalRequests:   s.totalRequests.Load(),
		Successes:       s.successes.Load(),
		Failures:        s.failures.Load(),
		Fallbacks:       s.fallbacks.Load(),
		QuotaExhausted:  s.quotaExhausted.Load(),
		WinsPerTier:     collect(&s.winsPerTier),
		FailuresPerTier: collect(&s.failuresPerTier),
		LastResetTime:   s.lastResetTime,
	}
}

// Reset resets all statistics to zero.
func (s *AtomicRoutingStats) Reset() {
	s.totalRequests.Store(0)
	s.successes.Store(0)
	s.failures.Store(0)
	s.fallbacks.Store(0)
	s.quotaExhausted.Store(0)

	s.winsPerTier.Range(func(key, value interface{}) bool {
		s.winsPerTier.Delete(key)
		return true
	})
	s.failuresPerTier.Range(func(key, value interface{}) bool {
		s.failuresPerTier.Delete(key)
		return true
	})

	s.mu.Lock()
	s.lastResetTime = time.Now()
	s.mu.Unlock()
}
