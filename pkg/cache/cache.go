// Package cache provides a bounded, thread-safe LRU cache with optional
// entry expiry.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	createdAt time.Time
}

// LRU is an O(1) least-recently-used cache. The zero value is not usable;
// create one with New.
type LRU[K comparable, V any] struct {
	cap   int
	ttl   time.Duration
	now   func() time.Time
	stats *StatsCollector

	mu    sync.Mutex
	lru   *list.List // front = most-recent
	items map[K]*list.Element
}

// New returns a cache configured by cfg. A nil cfg uses DefaultConfig.
func New[K comparable, V any](cfg *Config) (*LRU[K, V], error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &LRU[K, V]{
		cap:   cfg.MaxEntries,
		ttl:   cfg.TTL,
		now:   time.Now,
		lru:   list.New(),
		items: make(map[K]*list.Element, cfg.MaxEntries),
	}
	if cfg.EnableStats {
		c.stats = NewStatsCollector()
	}
	return c, nil
}

// Get returns the cached value and refreshes its position. Expired entries
// are dropped and reported as misses.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ele, ok := c.items[key]
	if !ok {
		c.recordMiss()
		return zero, false
	}

	e := ele.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(ele)
		c.recordMiss()
		return zero, false
	}

	c.lru.MoveToFront(ele)
	if c.stats != nil {
		c.stats.RecordHit()
	}
	return e.value, true
}

// Put inserts or replaces the value for key.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, ok := c.items[key]; ok {
		e := ele.Value.(*entry[K, V])
		e.value = value
		e.createdAt = c.now()
		c.lru.MoveToFront(ele)
		return
	}

	c.items[key] = c.lru.PushFront(&entry[K, V]{
		key:       key,
		value:     value,
		createdAt: c.now(),
	})

	if len(c.items) > c.cap {
		c.evictOldest()
	}
	c.updateSize()
}

// Len returns the current number of cached entries, expired ones included.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	n := len(c.items)
	c.mu.Unlock()
	return n
}

// Stats returns the collected statistics, or the zero Stats when
// collection is disabled.
func (c *LRU[K, V]) Stats() Stats {
	if c.stats == nil {
		return Stats{}
	}
	return c.stats.GetStats()
}

// HitRate returns the fraction of lookups served from the cache.
func (c *LRU[K, V]) HitRate() float64 {
	if c.stats == nil {
		return 0
	}
	return c.stats.HitRate()
}

// evictOldest removes the LRU element (caller holds the lock).
func (c *LRU[K, V]) evictOldest() {
	ele := c.lru.Back()
	if ele == nil {
		return
	}
	c.removeElement(ele)
	if c.stats != nil {
		c.stats.RecordEviction()
	}
}

// removeElement drops ele from both indexes (caller holds the lock).
func (c *LRU[K, V]) removeElement(ele *list.Element) {
	c.lru.Remove(ele)
	delete(c.items, ele.Value.(*entry[K, V]).key)
	c.updateSize()
}

func (c *LRU[K, V]) expired(e *entry[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl
}

func (c *LRU[K, V]) recordMiss() {
	if c.stats != nil {
		c.stats.RecordMiss()
	}
}

func (c *LRU[K, V]) updateSize() {
	if c.stats != nil {
		c.stats.UpdateSize(int64(len(c.items)))
	}
}
