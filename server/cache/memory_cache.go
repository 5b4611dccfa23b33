package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type MemoryCache[V any] struct {
	items   map[string]*CacheItem[V]
	mutex   sync.RWMutex
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
	cleanup *time.Ticker
	stopCh  chan struct{}
	once    sync.Once
	hits    int64
	misses  int64
	now     func() time.Time
}

type CacheItem[V any] struct {
	Value       V
	ExpiresAt   time.Time
	LastUsed    time.Time
	AccessCount int64
}

func NewMemoryCache[V any](maxSize int, ttl time.Duration, logger *zap.Logger) *MemoryCache[V] {
	cache := &MemoryCache[V]{
		items:   make(map[string]*CacheItem[V]),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	cache.cleanup = time.NewTicker(1 * time.Minute)
	go cache.cleanupExpired()

	return cache
}

func (c *MemoryCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

func (c *MemoryCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	now := c.now()
	c.items[key] = &CacheItem[V]{
		Value:       value,
		ExpiresAt:   now.Add(ttl),
		LastUsed:    now,
		AccessCount: 1,
	}
}

func (c *MemoryCache[V]) Get(key string) (V, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		c.misses++
		return zero, ErrCacheMiss
	}

	now := c.now()
	if now.After(item.ExpiresAt) {
		delete(c.items, key)
		c.misses++
		return zero, ErrCacheMiss
	}

	item.LastUsed = now
	item.AccessCount++
	c.hits++

	return item.Value, nil
}

func (c *MemoryCache[V]) Exists(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.items[key]
	return exists && !c.now().After(item.ExpiresAt)
}

func (c *MemoryCache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
}

func (c *MemoryCache[V]) GetStats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	expired := 0
	for _, item := range c.items {
		if now.After(item.ExpiresAt) {
			expired++
		}
	}

	return CacheStats{
		Items:   len(c.items),
		Expired: expired,
		Hits:    c.hits,
		Misses:  c.misses,
		MaxSize: c.maxSize,
	}
}

func (c *MemoryCache[V]) Close() error {
	c.once.Do(func() {
		c.cleanup.Stop()
		close(c.stopCh)
	})
	return nil
}

func (c *MemoryCache[V]) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.LastUsed
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
		c.logger.Debug("Evicted cache entry", zap.String("key", oldestKey))
	}
}

func (c *MemoryCache[V]) removeExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache[V]) cleanupExpired() {
	for {
		select {
		case <-c.cleanup.C:
			if removed := c.removeExpired(); removed > 0 {
				c.logger.Debug("Removed expired cache entries", zap.Int("count", removed))
			}
		case <-c.stopCh:
			return
		}
	}
}
