package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	cacheLookups        *prometheus.CounterVec
	cacheEvictions      *prometheus.CounterVec
	cacheInvalidations  *prometheus.CounterVec
	storeUp             *prometheus.GaugeVec
	storeOperations     *prometheus.CounterVec
	storeLatency        *prometheus.HistogramVec
	degradedReads       *prometheus.CounterVec
	replications        *prometheus.CounterVec
	reconcileUpserts    *prometheus.CounterVec
	reconcileSkipped    prometheus.Counter
	snapshotsWritten    *prometheus.CounterVec
	authAttempts        *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	apiLatency          *prometheus.HistogramVec
	maintenanceRuns     *prometheus.CounterVec
	maintenanceDuration *prometheus.HistogramVec
	maintenanceLastRun  *prometheus.GaugeVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	storeBuckets := []float64{
		0.001, 0.0025, 0.005, 0.01, 0.025,
		0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
	}

	return &collectors{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by class and result",
			},
			[]string{"class", "result"},
		),
		cacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Entries evicted from a cache class because it reached capacity",
			},
			[]string{"class"},
		),
		cacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Cache invalidations by class and scope",
			},
			[]string{"class", "scope"},
		),
		storeUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_up",
				Help:      "Liveness of each backing store (1 up, 0 down)",
			},
			[]string{"store"},
		),
		storeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Store operations by store, operation and result",
			},
			[]string{"store", "operation", "result"},
		),
		storeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_seconds",
				Help:      "Store operation latency",
				Buckets:   storeBuckets,
			},
			[]string{"store", "operation"},
		),
		degradedReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_reads_total",
				Help:      "Reads served by a fallback mirror while the owning store was unavailable",
			},
			[]string{"entity", "source"},
		),
		replications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replications_total",
				Help:      "Asynchronous mirror propagation outcomes",
			},
			[]string{"store", "entity", "result"},
		),
		reconcileUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_upserts_total",
				Help:      "Records re-applied to mirrors by the reconciler",
			},
			[]string{"store", "table"},
		),
		reconcileSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_skipped_total",
				Help:      "Reconcile ticks skipped because a pass was already running",
			},
		),
		snapshotsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_written_total",
				Help:      "Backup snapshots written by table",
			},
			[]string{"table"},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Session validations and reset code verifications by result",
			},
			[]string{"flow", "result"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions issued minus sessions revoked or expired since start",
			},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_success_timestamp",
				Help:      "Timestamp of the last successful maintenance run (seconds since epoch)",
			},
			[]string{"job"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.cacheLookups,
		c.cacheEvictions,
		c.cacheInvalidations,
		c.storeUp,
		c.storeOperations,
		c.storeLatency,
		c.degradedReads,
		c.replications,
		c.reconcileUpserts,
		c.reconcileSkipped,
		c.snapshotsWritten,
		c.authAttempts,
		c.activeSessions,
		c.apiLatency,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
	}
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
