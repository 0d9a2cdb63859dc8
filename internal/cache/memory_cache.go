package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// cacheItem represents an item in the memory cache
type cacheItem struct {
	value      []byte
	expiration time.Time
}

// itemOverhead is the estimated per-entry bookkeeping cost in bytes
const itemOverhead = 64

// MemoryCache implements Cache with an in-process map. Values are copied on
// both Set and Get so callers never share a backing array with the cache.
type MemoryCache struct {
	mu            sync.RWMutex
	items         map[string]*cacheItem
	maxMemory     int64
	currentMemory int64
	hits          int64
	misses        int64
	evictions     int64
	now           func() time.Time
	stop          chan struct{}
	closeOnce     sync.Once
	closed        bool
}

// NewMemoryCache creates a new in-memory cache and starts its cleanup loop
func NewMemoryCache(config *CacheConfig) *MemoryCache {
	if config == nil {
		config = DefaultCacheConfig()
	}

	c := &MemoryCache{
		items:     make(map[string]*cacheItem),
		maxMemory: config.MaxMemory,
		now:       time.Now,
		stop:      make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go c.cleanupLoop(config.CleanupInterval)
	}

	return c
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrCacheDisabled
	}
	item, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrKeyNotFound
	}

	if !c.now().Before(item.expiration) {
		atomic.AddInt64(&c.misses, 1)
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it.
		if current, ok := c.items[key]; ok && current == item {
			c.removeLocked(key, item)
		}
		c.mu.Unlock()
		return nil, ErrKeyNotFound
	}

	atomic.AddInt64(&c.hits, 1)
	result := make([]byte, len(item.value))
	copy(result, item.value)
	return result, nil
}

// Set stores a value in cache with expiration
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	newItem := &cacheItem{
		value:      valueCopy,
		expiration: c.now().Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheDisabled
	}

	if old, ok := c.items[key]; ok {
		c.removeLocked(key, old)
	}
	c.items[key] = newItem
	c.currentMemory += itemSize(key, newItem)

	c.evictLocked(key)
	return nil
}

// Delete removes a value from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		c.removeLocked(key, item)
	}
	return nil
}

// Close stops the cleanup loop and drops all entries
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)

		c.mu.Lock()
		c.items = make(map[string]*cacheItem)
		c.currentMemory = 0
		c.closed = true
		c.mu.Unlock()
	})
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := int64(0)
	now := c.now()
	for _, item := range c.items {
		if now.Before(item.expiration) {
			active++
		}
	}

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	return CacheStats{
		Hits:        hits,
		Misses:      misses,
		HitRatio:    hitRatio(hits, misses),
		Keys:        active,
		MemoryUsage: c.currentMemory,
		Evictions:   atomic.LoadInt64(&c.evictions),
	}
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stop:
			return
		}
	}
}

// cleanupExpired removes expired items from the cache
func (c *MemoryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if !now.Before(item.expiration) {
			c.removeLocked(key, item)
		}
	}
}

// evictLocked drops expired entries, then the entries closest to expiry,
// until memory usage is back under the limit. keep is never evicted.
func (c *MemoryCache) evictLocked(keep string) {
	if c.maxMemory <= 0 || c.currentMemory <= c.maxMemory {
		return
	}

	type candidate struct {
		key        string
		expiration time.Time
	}
	candidates := make([]candidate, 0, len(c.items))
	for key, item := range c.items {
		if key == keep {
			continue
		}
		candidates = append(candidates, candidate{key: key, expiration: item.expiration})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiration.Before(candidates[j].expiration)
	})

	for _, cand := range candidates {
		if c.currentMemory <= c.maxMemory {
			return
		}
		c.removeLocked(cand.key, c.items[cand.key])
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *MemoryCache) removeLocked(key string, item *cacheItem) {
	delete(c.items, key)
	c.currentMemory -= itemSize(key, item)
}

func itemSize(key string, item *cacheItem) int64 {
	if item == nil {
		return 0
	}
	return int64(len(key) + len(item.value) + itemOverhead)
}

func hitRatio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
