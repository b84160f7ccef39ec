package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/monitoring/checks"
	"github.com/charlesng35/tandem/pkg/logger"
)

const (
	defaultProbeTimeout   = 2 * time.Second
	defaultAlertThreshold = 2
)

// Alert is published when a non-primary store keeps failing its probes.
type Alert struct {
	Store    Name      `json:"store"`
	Failures int       `json:"failures"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// AlertSink receives store alerts. Publish must not block.
type AlertSink interface {
	Publish(alert Alert)
}

// Status is the liveness view of one store.
type Status struct {
	Name                Name      `json:"name"`
	Healthy             bool      `json:"healthy"`
	CheckedAt           time.Time `json:"checked_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

type handle struct {
	store   Store
	status  Status
	alerted bool
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithAlertSink sets where store alerts are published.
func WithAlertSink(sink AlertSink) RegistryOption {
	return func(r *Registry) {
		r.sink = sink
	}
}

// WithAlertThreshold sets how many consecutive failed probes trigger an alert.
func WithAlertThreshold(threshold int) RegistryOption {
	return func(r *Registry) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// WithProbeTimeout bounds each store ping.
func WithProbeTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithRegistryClock overrides the time source.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry owns the store handles and their liveness. Stores start optimistically healthy.
type Registry struct {
	mu      sync.RWMutex
	handles map[Name]*handle
	order   []Name

	sink      AlertSink
	threshold int
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handles:   make(map[Name]*handle),
		threshold: defaultAlertThreshold,
		timeout:   defaultProbeTimeout,
		now:       time.Now,
		log:       logger.WithModule("stores"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a store. Names must be unique.
func (r *Registry) Register(store Store) error {
	if store == nil {
		return fmt.Errorf("registry: nil store")
	}
	name := store.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[name]; exists {
		return fmt.Errorf("registry: store %s already registered", name)
	}
	r.handles[name] = &handle{store: store, status: Status{Name: name, Healthy: true}}
	r.order = append(r.order, name)
	monitoring.SetStoreHealth(string(name), true)
	return nil
}

// Handle returns the registered store.
func (r *Registry) Handle(name Name) (Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, false
	}
	return h.store, true
}

// Healthy reports whether the store is registered and passed its last probe.
func (r *Registry) Healthy(name Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return ok && h.status.Healthy
}

// Statuses returns the liveness of every store in registration order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handles[name].status)
	}
	return out
}

// Stores returns every registered store in registration order.
func (r *Registry) Stores() []Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Store, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handles[name].store)
	}
	return out
}

// HealthCheck pings every store in parallel and updates liveness. The report succeeds when at
// least one store is up.
func (r *Registry) HealthCheck(ctx context.Context) monitoring.HealthReport {
	stores := r.Stores()
	results := make([]monitoring.ProbeResult, len(stores))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, store := range stores {
		i, store := i, store
		group.Go(func() error {
			check := checks.Store(string(store.Name()), store, r.timeout)
			if store.Name() == Primary {
				check = check.AsRequired()
			}
			results[i] = monitoring.RunCheck(groupCtx, check)
			return nil
		})
	}
	_ = group.Wait()

	alerts := r.apply(stores, results)
	for _, alert := range alerts {
		r.log.Warn("store failing health probes",
			zap.String("store", string(alert.Store)),
			zap.Int("failures", alert.Failures),
			zap.String("error", alert.Error),
		)
		if r.sink != nil {
			r.sink.Publish(alert)
		}
	}

	return buildReport(results)
}

func (r *Registry) apply(stores []Store, results []monitoring.ProbeResult) []Alert {
	now := r.now()
	var alerts []Alert

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, store := range stores {
		h, ok := r.handles[store.Name()]
		if !ok {
			continue
		}
		result := results[i]
		up := result.Status == monitoring.StatusUp
		wasHealthy := h.status.Healthy
		h.status.CheckedAt = now
		h.status.Healthy = up

		if up {
			if !wasHealthy {
				r.log.Info("store recovered", zap.String("store", string(h.status.Name)))
			}
			h.status.ConsecutiveFailures = 0
			h.status.LastError = ""
			h.alerted = false
		} else {
			h.status.ConsecutiveFailures++
			h.status.LastError = result.Details
			r.log.Warn("store probe failed",
				zap.String("store", string(h.status.Name)),
				zap.Int("failures", h.status.ConsecutiveFailures),
				zap.String("error", result.Details),
			)
			if h.status.Name != Primary && !h.alerted && h.status.ConsecutiveFailures >= r.threshold {
				h.alerted = true
				alerts = append(alerts, Alert{
					Store:    h.status.Name,
					Failures: h.status.ConsecutiveFailures,
					Error:    result.Details,
					At:       now,
				})
			}
		}
		monitoring.SetStoreHealth(string(h.status.Name), up)
	}
	return alerts
}

func buildReport(results []monitoring.ProbeResult) monitoring.HealthReport {
	if len(results) == 0 {
		return monitoring.HealthReport{Status: monitoring.StatusDown, Checks: results}
	}
	return monitoring.Aggregate(results, monitoring.RequireAny)
}
