package stores

import (
	"fmt"
	"sort"
)

// Route binds an entity to its owning store, mirrors, cache class and snapshot policy.
type Route struct {
	Entity string
	// Table is the table or collection name used by every store for this entity.
	Table    string
	Owner    Name
	Mirrors  []Name
	Fallback Name
	// Pinned routes always write to their owner and never skip it on reads.
	Pinned     bool
	CacheClass string
	// Invalidates lists cache classes cleared wholesale when the entity mutates.
	Invalidates []string
	// Critical tables are included in backup snapshots.
	Critical bool
}

// Cached reports whether reads of this entity go through the cache.
func (r Route) Cached() bool {
	return r.CacheClass != ""
}

// HasMirror reports whether name is one of the route's mirrors.
func (r Route) HasMirror(name Name) bool {
	for _, mirror := range r.Mirrors {
		if mirror == name {
			return true
		}
	}
	return false
}

func (r Route) validate() error {
	switch {
	case r.Entity == "":
		return fmt.Errorf("route: entity is required")
	case r.Table == "":
		return fmt.Errorf("route %s: table is required", r.Entity)
	case r.Owner == "":
		return fmt.Errorf("route %s: owner is required", r.Entity)
	case r.Pinned && r.Owner != Primary:
		return fmt.Errorf("route %s: pinned routes must be owned by %s", r.Entity, Primary)
	}
	for _, mirror := range r.Mirrors {
		if mirror == r.Owner {
			return fmt.Errorf("route %s: owner %s listed as mirror", r.Entity, mirror)
		}
	}
	if r.Fallback != "" && !r.HasMirror(r.Fallback) {
		return fmt.Errorf("route %s: fallback %s is not a mirror", r.Entity, r.Fallback)
	}
	return nil
}

// Router resolves routes and picks stores for them based on registry health.
// The route table is fixed at construction.
type Router struct {
	registry *Registry
	routes   map[string]Route
}

// NewRouter validates the route table and binds it to the registry.
func NewRouter(registry *Registry, routes []Route) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("router: registry is required")
	}
	table := make(map[string]Route, len(routes))
	for _, route := range routes {
		if err := route.validate(); err != nil {
			return nil, err
		}
		if _, exists := table[route.Entity]; exists {
			return nil, fmt.Errorf("route %s: declared twice", route.Entity)
		}
		route.Mirrors = append([]Name(nil), route.Mirrors...)
		route.Invalidates = append([]string(nil), route.Invalidates...)
		table[route.Entity] = route
	}
	return &Router{registry: registry, routes: table}, nil
}

// Registry returns the registry the router consults.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Classify returns the route for an entity name.
func (r *Router) Classify(entity string) (Route, error) {
	route, ok := r.routes[entity]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	return route, nil
}

// Routes lists every route ordered by entity name.
func (r *Router) Routes() []Route {
	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// Owner returns the owning store as a Writer regardless of its health; callers surface failures.
func (r *Router) Owner(route Route) (Writer, error) {
	store, ok := r.registry.Handle(route.Owner)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, route.Owner)
	}
	writer, ok := store.(Writer)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot own %s", ErrUnsupported, route.Owner, route.Entity)
	}
	return writer, nil
}

// ReadPlan returns the readers to try in order. The owner comes first unless it is unhealthy,
// not pinned and a healthy fallback exists. An unhealthy fallback is never included.
func (r *Router) ReadPlan(route Route) []Reader {
	owner, ownerOK := r.reader(route.Owner)
	var fallback Reader
	fallbackOK := false
	if route.Fallback != "" && r.registry.Healthy(route.Fallback) {
		fallback, fallbackOK = r.reader(route.Fallback)
	}

	plan := make([]Reader, 0, 2)
	if ownerOK && !(fallbackOK && !route.Pinned && !r.registry.Healthy(route.Owner)) {
		plan = append(plan, owner)
	}
	if fallbackOK {
		plan = append(plan, fallback)
	}
	return plan
}

// Mirrors returns the healthy, upsert-capable mirrors of a route.
func (r *Router) Mirrors(route Route) []Upserter {
	out := make([]Upserter, 0, len(route.Mirrors))
	for _, name := range route.Mirrors {
		if !r.registry.Healthy(name) {
			continue
		}
		store, ok := r.registry.Handle(name)
		if !ok {
			continue
		}
		if upserter, ok := store.(Upserter); ok {
			out = append(out, upserter)
		}
	}
	return out
}

func (r *Router) reader(name Name) (Reader, bool) {
	store, ok := r.registry.Handle(name)
	if !ok {
		return nil, false
	}
	reader, ok := store.(Reader)
	return reader, ok
}
