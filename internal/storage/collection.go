package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/stores"
	apperrors "github.com/charlesng35/tandem/pkg/errors"
	"github.com/charlesng35/tandem/pkg/validator"
)

// ReadInfo reports where a read was served from.
type ReadInfo struct {
	Source   stores.Name `json:"source,omitempty"`
	Degraded bool        `json:"degraded"`
	Cached   bool        `json:"cached"`
}

// Collection is the typed facade for one entity. PT is the pointer type implementing
// models.Entity, so callers write storage.For[models.User](svc, models.EntityUser).
type Collection[T any, PT interface {
	*T
	models.Entity
}] struct {
	svc   *Service
	route stores.Route
}

// For binds a collection to the route of entity.
func For[T any, PT interface {
	*T
	models.Entity
}](svc *Service, entity string) (*Collection[T, PT], error) {
	route, err := svc.router.Classify(entity)
	if err != nil {
		return nil, err
	}
	if name := PT(new(T)).EntityName(); name != entity {
		return nil, fmt.Errorf("storage: %T is entity %q, not %q", *new(T), name, entity)
	}
	return &Collection[T, PT]{svc: svc, route: route}, nil
}

// Route returns the routing rule the collection dispatches through.
func (c *Collection[T, PT]) Route() stores.Route {
	return c.route
}

// Get loads one record.
func (c *Collection[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	entity, _, err := c.Lookup(ctx, id)
	return entity, err
}

// Lookup loads one record and reports its provenance. Degraded reads are never cached.
// Fields hidden from JSON are not carried by Lookup results.
func (c *Collection[T, PT]) Lookup(ctx context.Context, id string) (PT, ReadInfo, error) {
	if id == "" {
		return nil, ReadInfo{}, apperrors.NewValidation("identifier is required", nil)
	}

	var key string
	if c.route.Cached() {
		var err error
		if key, err = cache.Key(c.route.Entity, id); err != nil {
			return nil, ReadInfo{}, translate(err)
		}
		if cached, ok := c.svc.cache.Get(c.route.CacheClass, key); ok {
			entity, err := decodeCached[T, PT](cached)
			if err == nil {
				return entity, ReadInfo{Source: c.route.Owner, Cached: true}, nil
			}
			c.svc.corrupted(c.route.CacheClass, key, err)
		}
	}

	result, err := c.svc.flight(getFlightKey(c.route.Entity, id), c.route.CacheClass, func() (readResult, error) {
		return readThrough(c.route, c.svc.router.ReadPlan(c.route), func(reader stores.Reader) (any, error) {
			dest := PT(new(T))
			if err := reader.Read(ctx, c.route, id, dest); err != nil {
				return nil, err
			}
			return dest, nil
		})
	})
	if err != nil {
		return nil, ReadInfo{}, translate(err)
	}

	entity := PT(new(T))
	if err := json.Unmarshal(result.data, entity); err != nil {
		return nil, ReadInfo{}, translate(err)
	}

	info := ReadInfo{Source: result.source, Degraded: result.degraded}
	if result.degraded {
		c.svc.degraded(c.route, result.source, "get", result.cause)
		return entity, info, nil
	}
	if c.route.Cached() {
		c.fill(key, result)
	}
	return entity, info, nil
}

// List returns the records matching filter, newest first unless the filter orders otherwise.
func (c *Collection[T, PT]) List(ctx context.Context, filter stores.Filter) ([]T, error) {
	if err := filter.Validate(); err != nil {
		return nil, translate(err)
	}
	key, err := cache.Key(c.route.Entity, "list", filter.CacheToken())
	if err != nil {
		return nil, translate(err)
	}

	if c.route.Cached() {
		if cached, ok := c.svc.cache.Get(c.route.CacheClass, key); ok {
			var out []T
			data, isBytes := cached.([]byte)
			if isBytes {
				if err = json.Unmarshal(data, &out); err == nil {
					return out, nil
				}
			} else {
				err = fmt.Errorf("unexpected %T", cached)
			}
			c.svc.corrupted(c.route.CacheClass, key, err)
		}
	}

	result, err := c.svc.flight("list/"+key, c.route.CacheClass, func() (readResult, error) {
		return readThrough(c.route, c.svc.router.ReadPlan(c.route), func(reader stores.Reader) (any, error) {
			out := make([]T, 0)
			if err := reader.List(ctx, c.route, filter, &out); err != nil {
				return nil, err
			}
			return out, nil
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	var out []T
	if err := json.Unmarshal(result.data, &out); err != nil {
		return nil, translate(err)
	}
	if result.degraded {
		c.svc.degraded(c.route, result.source, "list", result.cause)
		return out, nil
	}
	if c.route.Cached() {
		c.fill(key, result)
	}
	return out, nil
}

// Create validates and writes a new record to the owner, then caches it and schedules mirror
// propagation.
func (c *Collection[T, PT]) Create(ctx context.Context, entity PT) error {
	if entity == nil {
		return apperrors.NewValidation("entity is required", nil)
	}
	if err := validator.ValidateStruct(entity); err != nil {
		return translate(err)
	}
	owner, err := c.svc.router.Owner(c.route)
	if err != nil {
		return translate(err)
	}

	entity.Stamp(c.svc.now().UTC())
	if err := owner.Insert(ctx, c.route, entity); err != nil {
		return translate(err)
	}

	id := entity.EntityKey()
	c.svc.invalidate(c.route, id)
	if c.route.Cached() {
		if data, err := json.Marshal(entity); err == nil {
			if key, err := cache.Key(c.route.Entity, id); err == nil {
				c.store(key, data)
			}
		}
	}
	c.propagate(id)
	return nil
}

// Update merges patch into the current record. Patch keys use the JSON field names of the
// entity; the identifier and creation time cannot be patched.
func (c *Collection[T, PT]) Update(ctx context.Context, id string, patch map[string]any) (PT, error) {
	for _, field := range []string{"id", "created_at", "updated_at"} {
		if _, ok := patch[field]; ok {
			return nil, apperrors.NewValidation(fmt.Sprintf("field %q cannot be updated", field), stores.ErrInvalidPatch)
		}
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return nil, apperrors.NewValidation("patch is not serialisable", err)
	}

	return c.UpdateFunc(ctx, id, func(entity PT) error {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(entity); err != nil {
			return fmt.Errorf("%w: %v", stores.ErrInvalidPatch, err)
		}
		return nil
	})
}

// UpdateFunc applies mutate to the owner's current record and writes it back. Fields hidden
// from JSON survive, which makes this the path for secret columns.
func (c *Collection[T, PT]) UpdateFunc(ctx context.Context, id string, mutate func(PT) error) (PT, error) {
	owner, err := c.svc.router.Owner(c.route)
	if err != nil {
		return nil, translate(err)
	}
	entity, err := c.load(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if err := mutate(entity); err != nil {
		return nil, translate(err)
	}
	if entity.EntityKey() != id {
		return nil, apperrors.NewValidation("identifier cannot be changed", stores.ErrInvalidPatch)
	}
	if err := validator.ValidateStruct(entity); err != nil {
		return nil, translate(err)
	}

	entity.Stamp(c.svc.now().UTC())
	if err := owner.Update(ctx, c.route, entity); err != nil {
		return nil, translate(err)
	}

	c.svc.invalidate(c.route, id)
	c.propagate(id)
	return entity, nil
}

// Load reads the record from its owner, bypassing the cache. Unlike Get the result keeps fields
// hidden from JSON.
func (c *Collection[T, PT]) Load(ctx context.Context, id string) (PT, error) {
	entity, err := c.load(ctx, id)
	return entity, translate(err)
}

// UpdateIf applies values only while cond holds on the owner and reports whether the record
// changed. It is the single-row arbiter for at-most-once transitions.
func (c *Collection[T, PT]) UpdateIf(ctx context.Context, id string, cond stores.Condition, values map[string]any) (bool, error) {
	owner, err := c.svc.router.Owner(c.route)
	if err != nil {
		return false, translate(err)
	}
	conditional, ok := owner.(stores.ConditionalWriter)
	if !ok {
		return false, translate(fmt.Errorf("%w: %s cannot update %s conditionally", stores.ErrUnsupported, c.route.Owner, c.route.Entity))
	}
	affected, err := conditional.UpdateIf(ctx, c.route, id, cond, values)
	if err != nil {
		return false, translate(err)
	}
	if affected == 0 {
		return false, nil
	}
	c.svc.invalidate(c.route, id)
	c.propagate(id)
	return true, nil
}

// Delete removes the record from the owner. Mirrors drop their copy asynchronously.
func (c *Collection[T, PT]) Delete(ctx context.Context, id string) error {
	owner, err := c.svc.router.Owner(c.route)
	if err != nil {
		return translate(err)
	}
	if err := owner.Delete(ctx, c.route, id); err != nil {
		return translate(err)
	}
	c.svc.invalidate(c.route, id)
	c.propagate(id)
	return nil
}

// Count counts records in the owner.
func (c *Collection[T, PT]) Count(ctx context.Context, filter stores.Filter) (int64, error) {
	owner, err := c.svc.router.Owner(c.route)
	if err != nil {
		return 0, translate(err)
	}
	counter, ok := owner.(stores.Counter)
	if !ok {
		return 0, translate(fmt.Errorf("%w: %s cannot count %s", stores.ErrUnsupported, c.route.Owner, c.route.Entity))
	}
	n, err := counter.Count(ctx, c.route, filter)
	return n, translate(err)
}

func (c *Collection[T, PT]) store(key string, data []byte) {
	if err := c.svc.cache.Set(c.route.CacheClass, key, data); err != nil {
		c.svc.log.Warn("failed to populate cache",
			zap.String("class", c.route.CacheClass),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// fill caches a read unless the class was invalidated while the read was in flight.
func (c *Collection[T, PT]) fill(key string, result readResult) {
	stored, err := c.svc.cache.SetIfCurrent(c.route.CacheClass, key, result.data, result.generation)
	switch {
	case err != nil:
		c.svc.log.Warn("failed to populate cache",
			zap.String("class", c.route.CacheClass),
			zap.String("key", key),
			zap.Error(err),
		)
	case !stored:
		c.svc.log.Debug("skipped cache fill after concurrent invalidation",
			zap.String("class", c.route.CacheClass),
			zap.String("key", key),
		)
	}
}

func (c *Collection[T, PT]) propagate(id string) {
	c.svc.replicator.Propagate(c.route, id, func(ctx context.Context) (models.Entity, error) {
		return c.load(ctx, id)
	})
}

// load reads the owner directly, bypassing the cache and the fallback.
func (c *Collection[T, PT]) load(ctx context.Context, id string) (PT, error) {
	owner, err := c.svc.router.Owner(c.route)
	if err != nil {
		return nil, err
	}
	reader, ok := owner.(stores.Reader)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot read %s", stores.ErrUnsupported, c.route.Owner, c.route.Entity)
	}
	entity := PT(new(T))
	if err := reader.Read(ctx, c.route, id, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func decodeCached[T any, PT interface {
	*T
	models.Entity
}](cached any) (PT, error) {
	data, ok := cached.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected %T", cached)
	}
	entity := PT(new(T))
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, err
	}
	if entity.EntityKey() == "" {
		return nil, errors.New("cached record has no identifier")
	}
	return entity, nil
}
