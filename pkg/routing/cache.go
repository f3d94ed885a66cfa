package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"mercator-hq/keyrelay/pkg/health"
)

// verdictEntry is a single cached caller-key verdict.
type verdictEntry struct {
	verdict        health.Verdict
	expiresAt      time.Time
	lastAccessedAt time.Time
}

// VerdictCache remembers recent validation verdicts for caller-supplied
// keys so a caller reusing a key is not re-probed on every request.
// Entries expire after the TTL; when full, the least recently accessed
// entry is evicted. Keys are stored as SHA-256 digests, never in clear.
type VerdictCache struct {
	entries    map[string]*verdictEntry
	ttl        time.Duration
	maxEntries int
	mu         sync.Mutex

	// stopCh signals the cleanup goroutine to stop
	stopCh    chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

// NewVerdictCache creates a cache. A zero ttl disables caching entirely;
// a zero maxEntries means unlimited size.
func NewVerdictCache(ttl time.Duration, maxEntries int) *VerdictCache {
	c := &VerdictCache{
		entries:    make(map[string]*verdictEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
	if ttl > 0 {
		interval := ttl / 2
		if interval < 10*time.Second {
			interval = 10 * time.Second
		}
		go c.cleanupExpired(interval)
	}
	return c
}

// Get returns the cached verdict for key, if present and fresh.
func (c *VerdictCache) Get(key string) (health.Verdict, bool) {
	if c == nil || c.ttl <= 0 {
		return health.Verdict{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[digest(key)]
	if !ok {
		return health.Verdict{}, false
	}
	now := c.now()
	if now.After(entry.expiresAt) {
		return health.Verdict{}, false
	}
	entry.lastAccessedAt = now
	return entry.verdict, true
}

// Set caches v for key. Verdicts from probes that failed to run are not
// cached, since they say nothing about the key.
func (c *VerdictCache) Set(key string, v health.Verdict) {
	if c == nil || c.ttl <= 0 || v.IsCheckError() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d := digest(key)
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[d]; !exists {
			c.evictLRU()
		}
	}

	now := c.now()
	c.entries[d] = &verdictEntry{
		verdict:        v,
		expiresAt:      now.Add(c.ttl),
		lastAccessedAt: now,
	}
}

// Delete removes key from the cache.
func (c *VerdictCache) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, digest(key))
}

// Size returns the current number of entries in the cache.
func (c *VerdictCache) Size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Close stops the background cleanup goroutine.
func (c *VerdictCache) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.stopCh) })
}

// evictLRU evicts the least recently used entry.
// Must be called with the lock held.
func (c *VerdictCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *VerdictCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *VerdictCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
