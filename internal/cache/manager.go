package cache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charlesng35/tandem/internal/monitoring"
)

var (
	// ErrUnknownClass is returned when a write targets a class that was never configured.
	ErrUnknownClass = errors.New("cache: unknown class")
	// ErrInvalidClass is returned by NewManager for malformed class configurations.
	ErrInvalidClass = errors.New("cache: invalid class configuration")
)

// Class names used by the routing table.
const (
	ClassUsers         = "users"
	ClassClubs         = "clubs"
	ClassPayments      = "payments"
	ClassPosts         = "posts"
	ClassListings      = "listings"
	ClassNotifications = "notifications"
	ClassStats         = "stats"
)

// DefaultClasses returns the class table the service starts with when configuration is silent.
func DefaultClasses() []ClassConfig {
	return []ClassConfig{
		{Name: ClassUsers, MaxEntries: 100, TTL: 5 * time.Minute, Sliding: true},
		{Name: ClassClubs, MaxEntries: 100, TTL: 5 * time.Minute},
		{Name: ClassPayments, MaxEntries: 200, TTL: 2 * time.Minute},
		{Name: ClassPosts, MaxEntries: 50, TTL: time.Minute},
		{Name: ClassListings, MaxEntries: 100, TTL: 2 * time.Minute},
		{Name: ClassNotifications, MaxEntries: 200, TTL: 30 * time.Second},
		{Name: ClassStats, MaxEntries: 20, TTL: 30 * time.Second},
	}
}

// Manager holds the in-process cache classes, one ttlcache instance per class.
type Manager struct {
	classes map[string]*class
}

// NewManager validates the class configurations and builds an empty cache.
func NewManager(configs []ClassConfig) (*Manager, error) {
	m := &Manager{classes: make(map[string]*class, len(configs))}

	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("%w: class name is required", ErrInvalidClass)
		case cfg.MaxEntries <= 0:
			return nil, fmt.Errorf("%w: class %q needs max_entries > 0", ErrInvalidClass, name)
		case cfg.TTL <= 0:
			return nil, fmt.Errorf("%w: class %q needs ttl > 0", ErrInvalidClass, name)
		}
		if _, exists := m.classes[name]; exists {
			return nil, fmt.Errorf("%w: class %q declared twice", ErrInvalidClass, name)
		}
		cfg.Name = name
		m.classes[name] = newClass(cfg)
	}
	return m, nil
}

// HasClass reports whether the class is configured.
func (m *Manager) HasClass(name string) bool {
	_, ok := m.classes[name]
	return ok
}

// Get returns the live value for key. Unknown classes, absent and expired keys are all misses.
func (m *Manager) Get(className, key string) (any, bool) {
	c, ok := m.classes[className]
	if !ok {
		return nil, false
	}
	value, hit := c.get(key)
	monitoring.RecordCacheLookup(className, hit)
	return value, hit
}

// Set stores value under key, evicting least recently used entries past capacity.
func (m *Manager) Set(className, key string, value any) error {
	c, ok := m.classes[className]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownClass, className)
	}
	for evicted := c.set(key, value); evicted > 0; evicted-- {
		monitoring.RecordCacheEviction(className)
	}
	return nil
}

// Generation returns a counter that advances on every invalidation of the class. A reader takes
// it before loading from a store and hands it to SetIfCurrent.
func (m *Manager) Generation(className string) uint64 {
	c, ok := m.classes[className]
	if !ok {
		return 0
	}
	return c.currentGeneration()
}

// SetIfCurrent stores value only when the class has not been invalidated since generation was
// taken, so a load that raced a write cannot cache the pre-write value.
func (m *Manager) SetIfCurrent(className, key string, value any, generation uint64) (bool, error) {
	c, ok := m.classes[className]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownClass, className)
	}
	evicted, stored := c.setAt(generation, key, value)
	for ; evicted > 0; evicted-- {
		monitoring.RecordCacheEviction(className)
	}
	return stored, nil
}

// Invalidate removes a single key.
func (m *Manager) Invalidate(className, key string) {
	c, ok := m.classes[className]
	if !ok {
		return
	}
	if c.invalidate(key) {
		monitoring.RecordCacheInvalidation(className, "key")
	}
}

// InvalidatePrefix removes every key in the class starting with prefix and returns the count.
func (m *Manager) InvalidatePrefix(className, prefix string) int {
	c, ok := m.classes[className]
	if !ok {
		return 0
	}
	removed := c.invalidatePrefix(prefix)
	if removed > 0 {
		monitoring.RecordCacheInvalidation(className, "prefix")
	}
	return removed
}

// Clear empties one class.
func (m *Manager) Clear(className string) error {
	c, ok := m.classes[className]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownClass, className)
	}
	c.clear()
	monitoring.RecordCacheInvalidation(className, "class")
	return nil
}

// ClearAll empties every class.
func (m *Manager) ClearAll() {
	for name, c := range m.classes {
		c.clear()
		monitoring.RecordCacheInvalidation(name, "class")
	}
}

// PurgeExpired drops expired entries from every class and returns how many were removed.
func (m *Manager) PurgeExpired() int {
	total := 0
	for _, c := range m.classes {
		total += c.purgeExpired()
	}
	return total
}

// Stats returns a snapshot of every class keyed by class name.
func (m *Manager) Stats() map[string]ClassStat {
	out := make(map[string]ClassStat, len(m.classes))
	for name, c := range m.classes {
		out[name] = c.stats()
	}
	return out
}

// Classes lists the configured class names in sorted order.
func (m *Manager) Classes() []string {
	names := make([]string, 0, len(m.classes))
	for name := range m.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
