package utils

import (
	"container/list"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type cacheEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// SmartCache is an LRU cache with TTL support
type SmartCache[V any] struct {
	maxSize   int
	ttl       time.Duration
	clock     clock.Clock
	items     map[string]*list.Element
	lruList   *list.List
	mu        sync.Mutex
	hits      int64
	misses    int64
	evictions int64
}

// NewSmartCache creates a new cache with LRU eviction and TTL; ttl 0 never expires
func NewSmartCache[V any](maxSize int, ttl time.Duration, clk clock.Clock) *SmartCache[V] {
	if clk == nil {
		clk = clock.New()
	}
	if maxSize < 1 {
		maxSize = 1
	}

	return &SmartCache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		clock:   clk,
		items:   make(map[string]*list.Element),
		lruList: list.New(),
	}
}

func (c *SmartCache[V]) expired(e *cacheEntry[V]) bool {
	return !e.expiresAt.IsZero() && c.clock.Now().After(e.expiresAt)
}

// Get retrieves a value from the cache
func (c *SmartCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, exists := c.items[key]
	if !exists {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[V])
	if c.expired(entry) {
		c.removeLocked(key)
		c.misses++
		return zero, false
	}

	c.lruList.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Set adds or updates a value in the cache
func (c *SmartCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.clock.Now().Add(c.ttl)
	}

	if elem, exists := c.items[key]; exists {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(elem)
		return
	}

	elem := c.lruList.PushFront(&cacheEntry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	if c.lruList.Len() > c.maxSize {
		c.evictOldestLocked()
	}
}

// Delete removes a value from the cache
func (c *SmartCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Size returns the current number of entries
func (c *SmartCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Stats returns cache statistics
func (c *SmartCache[V]) Stats() (hits, misses, evictions int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions, c.lruList.Len()
}

// CleanupExpired removes all expired entries
func (c *SmartCache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if c.expired(elem.Value.(*cacheEntry[V])) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// must be called with lock held
func (c *SmartCache[V]) removeLocked(key string) {
	if elem, exists := c.items[key]; exists {
		c.lruList.Remove(elem)
		delete(c.items, key)
	}
}

// must be called with lock held
func (c *SmartCache[V]) evictOldestLocked() {
	if elem := c.lruList.Back(); elem != nil {
		c.removeLocked(elem.Value.(*cacheEntry[V]).key)
		c.evictions++
	}
}

// StartCleanupWorker periodically removes expired entries until stop closes
func (c *SmartCache[V]) StartCleanupWorker(interval time.Duration, stop <-chan struct{}) {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stop:
			return
		}
	}
}
