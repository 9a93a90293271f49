package indicators

import (
	"sync"
	"time"
)

// DefaultTTL is the indicator cache entry lifetime
const DefaultTTL = 5 * time.Second

// DefaultSoftCap triggers an expired-entry sweep when exceeded
const DefaultSoftCap = 100

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// CacheStats is a point-in-time snapshot of cache effectiveness
type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"` // percent
}

// Cache is a TTL-based indicator result cache. Concurrent computations for
// the same key are collapsed: one caller computes, the rest wait and reuse
// the result.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	inFlight map[string]*sync.WaitGroup

	softCap int
	hits    uint64
	misses  uint64

	now func() time.Time
}

// NewCache creates a cache with the default soft cap
func NewCache() *Cache {
	return NewCacheAt(DefaultSoftCap, time.Now)
}

// NewCacheAt creates a cache with an explicit soft cap and clock, for tests
func NewCacheAt(softCap int, now func() time.Time) *Cache {
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}
	return &Cache{
		entries:  make(map[string]*cacheEntry),
		inFlight: make(map[string]*sync.WaitGroup),
		softCap:  softCap,
		now:      now,
	}
}

// Get returns the cached value for key if present and unexpired
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value, ttl)
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// across concurrent callers and caches its result. Failed computations cache
// nothing, so the next caller retries.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, compute func() (interface{}, error)) (interface{}, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && !c.now().After(e.expiresAt) {
			c.hits++
			c.mu.Unlock()
			return e.value, nil
		}

		if wg, busy := c.inFlight[key]; busy {
			c.mu.Unlock()
			wg.Wait()
			continue
		}

		c.misses++
		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.inFlight[key] = wg
		c.mu.Unlock()

		value, err := compute()

		c.mu.Lock()
		delete(c.inFlight, key)
		if err == nil {
			c.storeLocked(key, value, ttl)
		}
		c.mu.Unlock()
		wg.Done()

		return value, err
	}
}

// Invalidate removes key from the cache
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix removes every key with the given prefix, typically one
// symbol's indicator set.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

// Stats returns a snapshot of cache counters
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// storeLocked writes an entry and sweeps expired entries past the soft cap.
// Caller holds mu.
func (c *Cache) storeLocked(key string, value interface{}, ttl time.Duration) {
	now := c.now()
	c.entries[key] = &cacheEntry{value: value, expiresAt: now.Add(ttl)}

	if len(c.entries) > c.softCap {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}
