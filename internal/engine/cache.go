package engine

import (
	"sync"
	"time"

	"optionsbot/internal/broker"
	"optionsbot/internal/observ"
)

// barCache holds the last good historical fetch per symbol so a transient
// Gateway failure can fall back to recent data instead of skipping the
// symbol outright. Entries expire after the configured TTL.
type barCache struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	entries map[string]cacheEntry
}

type cacheEntry struct {
	bars     []broker.Bar
	storedAt time.Time
}

func newBarCache(ttl time.Duration) *barCache {
	return &barCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *barCache) Put(symbol string, bars []broker.Bar) {
	if len(bars) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = cacheEntry{bars: bars, storedAt: c.now()}
}

// Get returns the cached bars when present and fresh. Expired entries are
// dropped on read.
func (c *barCache) Get(symbol string) ([]broker.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		observ.IncCounter("bar_cache_miss_total", map[string]string{"symbol": symbol})
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, symbol)
		observ.IncCounter("bar_cache_expired_total", map[string]string{"symbol": symbol})
		return nil, false
	}
	observ.IncCounter("bar_cache_hit_total", map[string]string{"symbol": symbol})
	return e.bars, true
}

func (c *barCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
