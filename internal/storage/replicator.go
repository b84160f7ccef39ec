package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
	apperrors "github.com/charlesng35/tandem/pkg/errors"
	"github.com/charlesng35/tandem/pkg/logger"
)

const (
	replicationSuccess = "success"
	replicationFailure = "failure"
	replicationSkipped = "skipped"
)

// loadFunc re-reads the authoritative record from the owner.
type loadFunc func(ctx context.Context) (models.Entity, error)

// Replicator propagates owner writes to mirrors in the background. Every mirror sits behind its
// own circuit breaker; a tripped breaker skips the mirror until the reconciler repairs it.
type Replicator struct {
	router  *stores.Router
	timeout time.Duration

	mu       sync.Mutex
	breakers map[stores.Name]*gobreaker.CircuitBreaker

	keys keyedMutex
	wg   sync.WaitGroup
	log  *zap.Logger
}

func newReplicator(router *stores.Router, timeout time.Duration) *Replicator {
	return &Replicator{
		router:   router,
		timeout:  timeout,
		breakers: make(map[stores.Name]*gobreaker.CircuitBreaker),
		log:      logger.WithModule("storage.replicator"),
	}
}

// Propagate copies the current owner state of id to every healthy mirror of route. Propagations
// of one record run one at a time and each re-reads the owner, so the last one always carries the
// latest state and a deleted record is removed from the mirror instead of resurrected.
func (r *Replicator) Propagate(route stores.Route, id string, load loadFunc) {
	mirrors := r.router.Mirrors(route)
	if len(mirrors) == 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		unlock := r.keys.lock(recordKey(route.Table, id))
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		var wg sync.WaitGroup
		for _, mirror := range mirrors {
			wg.Add(1)
			go func(mirror stores.Upserter) {
				defer wg.Done()
				r.replicate(ctx, route, id, mirror, load)
			}(mirror)
		}
		wg.Wait()
	}()
}

// Wait blocks until every in-flight propagation has finished.
func (r *Replicator) Wait() {
	r.wg.Wait()
}

func (r *Replicator) replicate(ctx context.Context, route stores.Route, id string, mirror stores.Upserter, load loadFunc) {
	breaker := r.breaker(mirror.Name())
	_, err := breaker.Execute(func() (any, error) {
		entity, err := load(ctx)
		if errors.Is(err, stores.ErrNotFound) {
			return nil, mirror.Remove(ctx, route, id)
		}
		if err != nil {
			return nil, err
		}
		return nil, mirror.Upsert(ctx, route, entity)
	})

	switch {
	case err == nil:
		monitoring.RecordReplication(string(mirror.Name()), route.Entity, replicationSuccess)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		monitoring.RecordReplication(string(mirror.Name()), route.Entity, replicationSkipped)
		r.log.Debug("mirror circuit open, leaving repair to reconciler",
			zap.String("store", string(mirror.Name())),
			zap.String("entity", route.Entity),
			zap.String("id", id),
		)
	default:
		monitoring.RecordReplication(string(mirror.Name()), route.Entity, replicationFailure)
		r.log.Warn("mirror propagation failed",
			zap.String("store", string(mirror.Name())),
			zap.String("entity", route.Entity),
			zap.String("id", id),
			zap.Error(apperrors.ErrReplicationFailed.WithInternal(err)),
		)
	}
}

func (r *Replicator) breaker(name stores.Name) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mirror-" + string(name),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.log.Info("mirror circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	r.breakers[name] = cb
	return cb
}

func recordKey(table, id string) string {
	return table + "/" + id
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
