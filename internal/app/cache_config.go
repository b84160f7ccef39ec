package app

import (
	"sort"

	"github.com/charlesng35/tandem/internal/cache"
)

// ClassConfigs merges configured cache classes over the built-in table. Unset fields keep
// their built-in values.
func (c CacheConfig) ClassConfigs() []cache.ClassConfig {
	defaults := cache.DefaultClasses()
	byName := make(map[string]cache.ClassConfig, len(defaults)+len(c.Classes))
	for _, class := range defaults {
		byName[class.Name] = class
	}

	for name, settings := range c.Classes {
		class, ok := byName[name]
		if !ok {
			class = cache.ClassConfig{Name: name}
		}
		if settings.MaxEntries > 0 {
			class.MaxEntries = settings.MaxEntries
		}
		if settings.TTL > 0 {
			class.TTL = settings.TTL
		}
		class.Sliding = settings.Sliding
		byName[name] = class
	}

	out := make([]cache.ClassConfig, 0, len(byName))
	for _, class := range byName {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
