package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	degradedReads      atomic.Uint64
	replicationSuccess atomic.Uint64
	replicationFailure atomic.Uint64
	replicationSkipped atomic.Uint64
	reconcileUpserts   atomic.Uint64
	reconcileSkipped   atomic.Uint64
	snapshots          atomic.Uint64

	authSuccess atomic.Uint64
	authFailure atomic.Uint64
	authError   atomic.Uint64

	activeSessions atomic.Int64

	stores      sync.Map // string -> *storeStats
	maintenance sync.Map // string -> *maintenanceStats
}

func newStatStore() *statStore {
	return &statStore{}
}

func (s *statStore) summary() Summary {
	return Summary{
		GeneratedAt: time.Now(),
		Cache: CacheSummary{
			Hits:   s.cacheHits.Load(),
			Misses: s.cacheMisses.Load(),
		},
		Stores: s.cloneStores(),
		Consistency: ConsistencySummary{
			DegradedReads:      s.degradedReads.Load(),
			ReplicationSuccess: s.replicationSuccess.Load(),
			ReplicationFailure: s.replicationFailure.Load(),
			ReplicationSkipped: s.replicationSkipped.Load(),
			ReconcileUpserts:   s.reconcileUpserts.Load(),
			ReconcileSkipped:   s.reconcileSkipped.Load(),
			Snapshots:          s.snapshots.Load(),
		},
		Auth: AuthSummary{
			Success: s.authSuccess.Load(),
			Failure: s.authFailure.Load(),
			Error:   s.authError.Load(),
		},
		Sessions: SessionSummary{
			Active: s.activeSessions.Load(),
		},
		Maintenance: MaintenanceSummary{
			Jobs: s.cloneMaintenance(),
		},
	}
}

func (s *statStore) cloneStores() []StoreSummary {
	summaries := []StoreSummary{}
	s.stores.Range(func(key, value any) bool {
		summaries = append(summaries, value.(*storeStats).snapshot(key.(string)))
		return true
	})
	return summaries
}

func (s *statStore) cloneMaintenance() []MaintenanceJobSummary {
	summaries := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		job := key.(string)
		stats := value.(*maintenanceStats)
		summaries = append(summaries, stats.snapshot(job))
		return true
	})
	return summaries
}

func (s *statStore) recordCacheLookup(hit bool) {
	if hit {
		s.cacheHits.Add(1)
		return
	}
	s.cacheMisses.Add(1)
}

func (s *statStore) recordReplication(result string) {
	switch result {
	case "success":
		s.replicationSuccess.Add(1)
	case "skipped":
		s.replicationSkipped.Add(1)
	default:
		s.replicationFailure.Add(1)
	}
}

func (s *statStore) recordAuth(result string) {
	switch result {
	case "success":
		s.authSuccess.Add(1)
	case "failure":
		s.authFailure.Add(1)
	default:
		s.authError.Add(1)
	}
}

func (s *statStore) adjustActiveSessions(delta int64) {
	newValue := s.activeSessions.Add(delta)
	if newValue < 0 {
		s.activeSessions.Store(0)
	}
}

func (s *statStore) recordStoreHealth(store string, up bool) {
	value, ok := s.stores.Load(store)
	if !ok {
		value, _ = s.stores.LoadOrStore(store, &storeStats{})
	}
	value.(*storeStats).record(up)
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	value, ok := s.maintenance.Load(job)
	if ok {
		return value.(*maintenanceStats)
	}
	stats := &maintenanceStats{}
	actual, _ := s.maintenance.LoadOrStore(job, stats)
	return actual.(*maintenanceStats)
}

type storeStats struct {
	up          atomic.Bool
	lastChecked atomic.Int64
	transitions atomic.Uint64
}

func (s *storeStats) record(up bool) {
	if s.up.Swap(up) != up && s.lastChecked.Load() != 0 {
		s.transitions.Add(1)
	}
	s.lastChecked.Store(time.Now().UnixNano())
}

func (s *storeStats) snapshot(store string) StoreSummary {
	return StoreSummary{
		Store:       store,
		Up:          s.up.Load(),
		LastChecked: time.Unix(0, s.lastChecked.Load()),
		Transitions: s.transitions.Load(),
	}
}

type maintenanceStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)
	lastRun := time.Unix(0, m.lastRun.Load())
	lastSuccess := time.Unix(0, m.lastSuccessfulRun.Load())

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          status,
		LastRunAt:           lastRun,
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		LastSuccessAt:       lastSuccess,
		TotalRuns:           m.totalRuns.Load(),
	}
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	switch result {
	case "success":
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
	default:
		m.consecutiveFailures.Add(1)
		m.consecutiveSuccesses.Store(0)
	}
}
