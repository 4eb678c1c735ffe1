// Package cache provides a bounded in-memory cache with LRU eviction and TTL
// expiry. The engine uses it for live cursor positions and element bounding
// boxes; entries that outlive their TTL are reclaimed by a background sweep
// rather than by finalizers, keeping memory use explicit and bounded.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats reports cache effectiveness counters
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Size      int    `json:"size"`
}

// BoundedCache is a size-and-age-bounded cache interface
type BoundedCache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Invalidate(key string)
	Stats() Stats
	Close()
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Config holds cache tunables
type Config struct {
	Size          int
	TTL           time.Duration
	SweepInterval time.Duration
}

type boundedCache[V any] struct {
	mu    sync.Mutex
	inner *lru.Cache[string, entry[V]]
	ttl   time.Duration

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	done chan struct{}
	once sync.Once
}

// New creates a bounded cache and starts its background sweep
func New[V any](config Config) (BoundedCache[V], error) {
	if config.Size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", config.Size)
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = config.TTL / 2
	}

	c := &boundedCache[V]{
		ttl:  config.TTL,
		done: make(chan struct{}),
	}
	inner, err := lru.New[string, entry[V]](config.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru store: %w", err)
	}
	c.inner = inner

	go c.sweep(config.SweepInterval)
	return c, nil
}

// Get returns the cached value if present and not expired
func (c *boundedCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.inner.Get(key)
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if time.Since(e.storedAt) > c.ttl {
		c.inner.Remove(key)
		c.expired++
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores a value, evicting the least recently used entry when full
func (c *boundedCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evicted := c.inner.Add(key, entry[V]{value: value, storedAt: time.Now()}); evicted {
		c.evictions++
	}
}

// Invalidate removes a key
func (c *boundedCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

// Stats returns a snapshot of the cache counters
func (c *boundedCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      c.inner.Len(),
	}
}

// Close stops the background sweep
func (c *boundedCache[V]) Close() {
	c.once.Do(func() { close(c.done) })
}

// sweep walks the store on an interval removing aged entries so that idle
// keys do not pin memory until their next Get
func (c *boundedCache[V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			for _, key := range c.inner.Keys() {
				if e, ok := c.inner.Peek(key); ok && time.Since(e.storedAt) > c.ttl {
					c.inner.Remove(key)
					c.expired++
				}
			}
			c.mu.Unlock()
		}
	}
}
