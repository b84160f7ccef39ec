package monitoring

import "time"

// Summary surfaces aggregated monitoring data for administrative dashboards.
type Summary struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Cache       CacheSummary       `json:"cache"`
	Stores      []StoreSummary     `json:"stores"`
	Consistency ConsistencySummary `json:"consistency"`
	Auth        AuthSummary        `json:"auth"`
	Sessions    SessionSummary     `json:"sessions"`
	Maintenance MaintenanceSummary `json:"maintenance"`
}

type CacheSummary struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

type StoreSummary struct {
	Store       string    `json:"store"`
	Up          bool      `json:"up"`
	LastChecked time.Time `json:"last_checked"`
	Transitions uint64    `json:"transitions"`
}

type ConsistencySummary struct {
	DegradedReads      uint64 `json:"degraded_reads"`
	ReplicationSuccess uint64 `json:"replication_success"`
	ReplicationFailure uint64 `json:"replication_failure"`
	ReplicationSkipped uint64 `json:"replication_skipped"`
	ReconcileUpserts   uint64 `json:"reconcile_upserts"`
	ReconcileSkipped   uint64 `json:"reconcile_skipped"`
	Snapshots          uint64 `json:"snapshots"`
}

type AuthSummary struct {
	Success uint64 `json:"success"`
	Failure uint64 `json:"failure"`
	Error   uint64 `json:"error"`
}

type SessionSummary struct {
	Active int64 `json:"active"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := ensureModule(); module != nil && module.stats != nil {
		return module.stats.summary()
	}
	return Summary{GeneratedAt: time.Now()}
}
