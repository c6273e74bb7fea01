package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stone-age-io/fleetcheck/internal/utils"
)

// RatioUndefined is reported as the hit ratio when the cache saw no lookups
const RatioUndefined = -1.0

// Cache stores command replies for one device during one run.
// Each key is computed at most once; lookups for different keys never wait
// on each other.
type Cache struct {
	enabled bool

	mu      sync.Mutex
	entries map[string]Reply
	locks   map[string]*sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a snapshot of cache accounting
type CacheStats struct {
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Total  int64   `json:"total"`
	Ratio  float64 `json:"ratio"`
}

// String formats the ratio as a percentage, or "n/a" when undefined
func (s CacheStats) String() string {
	if s.Ratio == RatioUndefined {
		return fmt.Sprintf("hits=%d total=%d ratio=n/a", s.Hits, s.Total)
	}
	return fmt.Sprintf("hits=%d total=%d ratio=%.2f%%", s.Hits, s.Total, utils.Percent(s.Hits, s.Total))
}

// NewCache creates a cache. A disabled cache misses on every lookup.
func NewCache(enabled bool) *Cache {
	return &Cache{
		enabled: enabled,
		entries: make(map[string]Reply),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Enabled reports whether the cache stores replies
func (c *Cache) Enabled() bool {
	return c.enabled
}

// keyLock returns the mutex guarding key, creating it on first access
func (c *Cache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func (c *Cache) lookup(key string) (Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

// GetOrCompute returns the stored reply for key, computing and storing it on
// the first request. The boolean is true when the reply came from the cache.
// Callers waiting on an in-flight computation observe its reply, errors
// included.
func (c *Cache) GetOrCompute(key string, compute func() Reply) (Reply, bool) {
	if !c.enabled {
		c.misses.Add(1)
		return compute(), false
	}

	if r, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return r, true
	}

	l := c.keyLock(key)
	l.Lock()
	defer l.Unlock()

	// another caller may have filled the entry while we waited
	if r, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return r, true
	}

	c.misses.Add(1)
	r := compute()

	c.mu.Lock()
	c.entries[key] = r
	c.mu.Unlock()

	return r, false
}

// Len returns the number of stored entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss accounting since the last reset
func (c *Cache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	ratio := RatioUndefined
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}

	return CacheStats{Hits: hits, Misses: misses, Total: total, Ratio: ratio}
}

// Reset drops all entries and counters
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Reply)
	c.locks = make(map[string]*sync.Mutex)
	c.hits.Store(0)
	c.misses.Store(0)
}
