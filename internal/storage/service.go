package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
	apperrors "github.com/charlesng35/tandem/pkg/errors"
	"github.com/charlesng35/tandem/pkg/logger"
)

const (
	// DefaultReplicationTimeout bounds one asynchronous propagation to the mirrors of a route.
	DefaultReplicationTimeout = 5 * time.Second

	// AdminStatsKey caches the admin counters in the stats class.
	AdminStatsKey = "admin_stats"
)

// Option configures the storage service.
type Option func(*Service)

// WithReplicationTimeout bounds mirror propagation.
func WithReplicationTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.replicationTimeout = timeout
		}
	}
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the entity storage facade shared by every collection. It owns the read-through
// cache path, the write path with invalidation and the mirror replicator.
type Service struct {
	router             *stores.Router
	cache              *cache.Manager
	replicator         *Replicator
	group              singleflight.Group
	replicationTimeout time.Duration
	now                func() time.Time
	log                *zap.Logger
}

// New wires the facade over a router and cache.
func New(router *stores.Router, manager *cache.Manager, opts ...Option) (*Service, error) {
	if router == nil {
		return nil, errors.New("storage: router is required")
	}
	if manager == nil {
		return nil, errors.New("storage: cache manager is required")
	}

	svc := &Service{
		router:             router,
		cache:              manager,
		replicationTimeout: DefaultReplicationTimeout,
		now:                time.Now,
		log:                logger.WithModule("storage"),
	}
	for _, opt := range opts {
		opt(svc)
	}

	for _, route := range router.Routes() {
		if route.Cached() && !manager.HasClass(route.CacheClass) {
			return nil, fmt.Errorf("storage: route %s uses unknown cache class %q", route.Entity, route.CacheClass)
		}
	}

	svc.replicator = newReplicator(router, svc.replicationTimeout)
	return svc, nil
}

// Router exposes the router the service dispatches through.
func (s *Service) Router() *stores.Router {
	return s.router
}

// Cache exposes the cache manager.
func (s *Service) Cache() *cache.Manager {
	return s.cache
}

// Wait blocks until in-flight mirror propagation has finished.
func (s *Service) Wait() {
	s.replicator.Wait()
}

// LockRecord takes the lock mirror propagation holds for one record, so a reconciler repairing
// the record cannot interleave with a write being propagated.
func (s *Service) LockRecord(table, id string) func() {
	return s.replicator.keys.lock(recordKey(table, id))
}

// Stats holds the admin counters.
type Stats struct {
	Users    int64 `json:"users"`
	Clubs    int64 `json:"clubs"`
	Payments int64 `json:"payments"`
	Posts    int64 `json:"posts"`
	Listings int64 `json:"listings"`
}

// Stats returns the admin counters, cached in the stats class until a counted entity mutates
// or the class TTL passes.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if cached, ok := s.cache.Get(cache.ClassStats, AdminStatsKey); ok {
		if stats, ok := cached.(Stats); ok {
			return stats, nil
		}
		s.corrupted(cache.ClassStats, AdminStatsKey, fmt.Errorf("unexpected %T", cached))
	}

	type statsResult struct {
		stats      Stats
		generation uint64
	}
	value, err, _ := s.group.Do("stats/"+AdminStatsKey, func() (any, error) {
		generation := s.cache.Generation(cache.ClassStats)
		var stats Stats
		counts := []struct {
			entity string
			dest   *int64
		}{
			{models.EntityUser, &stats.Users},
			{models.EntityClub, &stats.Clubs},
			{models.EntityPayment, &stats.Payments},
			{models.EntityPost, &stats.Posts},
			{models.EntityListing, &stats.Listings},
		}
		for _, c := range counts {
			n, err := s.count(ctx, c.entity)
			if err != nil {
				return nil, err
			}
			*c.dest = n
		}
		return statsResult{stats: stats, generation: generation}, nil
	})
	if err != nil {
		return Stats{}, translate(err)
	}

	result := value.(statsResult)
	if _, err := s.cache.SetIfCurrent(cache.ClassStats, AdminStatsKey, result.stats, result.generation); err != nil {
		s.log.Warn("failed to cache admin stats", zap.Error(err))
	}
	return result.stats, nil
}

func (s *Service) count(ctx context.Context, entity string) (int64, error) {
	route, err := s.router.Classify(entity)
	if err != nil {
		return 0, err
	}
	owner, err := s.router.Owner(route)
	if err != nil {
		return 0, err
	}
	counter, ok := owner.(stores.Counter)
	if !ok {
		return 0, fmt.Errorf("%w: %s cannot count %s", stores.ErrUnsupported, route.Owner, entity)
	}
	return counter.Count(ctx, route, stores.Filter{})
}

// invalidate drops every cache entry a mutation of route/id can have made stale.
func (s *Service) invalidate(route stores.Route, id string) {
	s.group.Forget(getFlightKey(route.Entity, id))
	if route.Cached() {
		if key, err := cache.Key(route.Entity, id); err == nil {
			s.cache.Invalidate(route.CacheClass, key)
		}
		if prefix, err := cache.Prefix(route.Entity, "list"); err == nil {
			s.cache.InvalidatePrefix(route.CacheClass, prefix)
		}
	}
	for _, class := range route.Invalidates {
		if err := s.cache.Clear(class); err != nil {
			s.log.Warn("failed to clear cache class", zap.String("class", class), zap.Error(err))
		}
	}
}

func getFlightKey(entity, id string) string {
	return "get/" + entity + "/" + id
}

func (s *Service) corrupted(class, key string, cause error) {
	s.cache.Invalidate(class, key)
	s.log.Warn("discarding undecodable cache entry",
		zap.String("class", class),
		zap.String("key", key),
		zap.Error(apperrors.ErrCacheCorruption.WithInternal(cause)),
	)
}

func (s *Service) degraded(route stores.Route, source stores.Name, operation string, cause error) {
	monitoring.RecordDegradedRead(route.Entity, string(source))
	s.log.Warn("serving degraded read",
		zap.String("entity", route.Entity),
		zap.String("operation", operation),
		zap.String("source", string(source)),
		zap.Bool("degraded", true),
		zap.Error(cause),
	)
}

// readResult is shared between callers collapsed by singleflight. data is JSON so every caller
// decodes its own copy.
type readResult struct {
	data     []byte
	source   stores.Name
	degraded bool
	// cause is the owner failure that forced a degraded read, if any.
	cause error
	// generation is the cache class generation taken before the stores were read.
	generation uint64
}

// flight runs load once per key for concurrent callers. The class generation is taken inside
// the flight, before any store is read, so every caller sharing the result also shares its
// staleness check.
func (s *Service) flight(key, class string, load func() (readResult, error)) (readResult, error) {
	value, err, _ := s.group.Do(key, func() (any, error) {
		generation := s.cache.Generation(class)
		result, err := load()
		result.generation = generation
		return result, err
	})
	if err != nil {
		return readResult{}, err
	}
	return value.(readResult), nil
}

// readThrough tries each reader of the route's plan in order. A NotFound from the owner is
// authoritative; any other owner failure falls through to the fallback mirror.
func readThrough(route stores.Route, plan []stores.Reader, read func(stores.Reader) (any, error)) (readResult, error) {
	if len(plan) == 0 {
		return readResult{}, fmt.Errorf("%w: no healthy reader for %s", stores.ErrUnsupported, route.Entity)
	}

	var firstErr error
	for _, reader := range plan {
		value, err := read(reader)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if reader.Name() == route.Owner && errors.Is(err, stores.ErrNotFound) {
				return readResult{}, err
			}
			continue
		}

		data, err := json.Marshal(value)
		if err != nil {
			return readResult{}, err
		}
		result := readResult{data: data, source: reader.Name(), degraded: reader.Name() != route.Owner}
		if result.degraded {
			result.cause = firstErr
			if result.cause == nil {
				result.cause = fmt.Errorf("%s marked unhealthy", route.Owner)
			}
		}
		return result, nil
	}
	return readResult{}, firstErr
}
