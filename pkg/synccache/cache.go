package synccache

import (
	"sync"
	"time"
)

// Cache tracks the last transmitted value per key and decides whether an
// output write may be skipped. It is safe for concurrent use.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	fingerprint string
	sentAt      time.Time
}

// New creates a cache with the given TTL. A zero or negative TTL yields
// a cache that never suppresses.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Modified reports whether the value behind key must be transmitted:
// true when the fingerprint differs from the last transmitted one, or
// when the cached entry has aged past the TTL. A true result records the
// fingerprint as transmitted; call Invalidate if the transmission fails
// afterwards.
func (c *Cache) Modified(key string, fingerprint []byte) bool {
	if c.ttl <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	fp := string(fingerprint)
	if e, ok := c.entries[key]; ok {
		if e.fingerprint == fp && now.Sub(e.sentAt) < c.ttl {
			return false
		}
	}
	c.entries[key] = entry{fingerprint: fp, sentAt: now}
	return true
}

// Invalidate forgets the cached entry for key so the next Modified call
// reports true. Used after a failed transmission.
func (c *Cache) Invalidate(key string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset drops all cached entries.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
