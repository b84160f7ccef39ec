package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ClassConfig describes one cache class: capacity, time to live and expiry mode.
type ClassConfig struct {
	Name       string        `mapstructure:"name"`
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
	// Sliding resets the expiry window on every hit instead of counting from insertion.
	Sliding bool `mapstructure:"sliding"`
}

// ClassStat reports the state of one class.
type ClassStat struct {
	Size      int           `json:"size"`
	Max       int           `json:"max"`
	TTL       time.Duration `json:"ttl"`
	Sliding   bool          `json:"sliding"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Evictions uint64        `json:"evictions"`
}

// class wraps one ttlcache instance. Mutations hold mu so eviction deltas belong to one call.
type class struct {
	cfg   ClassConfig
	items *ttlcache.Cache[string, any]

	mu sync.Mutex
	// generation advances on every invalidation, guarded by mu.
	generation uint64
	evictions  atomic.Uint64
}

func newClass(cfg ClassConfig) *class {
	opts := []ttlcache.Option[string, any]{
		ttlcache.WithTTL[string, any](cfg.TTL),
		ttlcache.WithCapacity[string, any](uint64(cfg.MaxEntries)),
	}
	if !cfg.Sliding {
		opts = append(opts, ttlcache.WithDisableTouchOnHit[string, any]())
	}
	return &class{cfg: cfg, items: ttlcache.New[string, any](opts...)}
}

func (c *class) get(key string) (any, bool) {
	item := c.items.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// set stores the value and reports how many entries were evicted to make room.
func (c *class) set(key string, value any) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setLocked(key, value)
}

// setAt stores the value only while the class is still at generation.
func (c *class) setAt(generation uint64, key string, value any) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != generation {
		return 0, false
	}
	return c.setLocked(key, value), true
}

func (c *class) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generation
}

func (c *class) setLocked(key string, value any) int {
	before := c.items.Metrics().Evictions
	c.items.Set(key, value, ttlcache.DefaultTTL)
	evicted := int(c.items.Metrics().Evictions - before)
	c.evictions.Add(uint64(evicted))
	return evicted
}

func (c *class) invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	present := c.items.Has(key)
	c.items.Delete(key)
	return present
}

func (c *class) invalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	removed := 0
	for _, key := range c.items.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

func (c *class) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.items.DeleteAll()
}

func (c *class) purgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.items.Metrics().Evictions
	c.items.DeleteExpired()
	return int(c.items.Metrics().Evictions - before)
}

func (c *class) stats() ClassStat {
	metrics := c.items.Metrics()
	return ClassStat{
		Size:      c.items.Len(),
		Max:       c.cfg.MaxEntries,
		TTL:       c.cfg.TTL,
		Sliding:   c.cfg.Sliding,
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		Evictions: c.evictions.Load(),
	}
}
