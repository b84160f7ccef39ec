package monitoring

import (
	"strings"
	"time"
)

// RecordCacheLookup counts a cache hit or miss for the class.
func RecordCacheLookup(class string, hit bool) {
	module := ensureModule()
	if module == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	module.metrics.cacheLookups.WithLabelValues(normalizeLabel(class), result).Inc()
	module.stats.recordCacheLookup(hit)
}

// RecordCacheEviction counts an LRU eviction in the class.
func RecordCacheEviction(class string) {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.cacheEvictions.WithLabelValues(normalizeLabel(class)).Inc()
}

// RecordCacheInvalidation counts an invalidation of the given scope (key, prefix, class).
func RecordCacheInvalidation(class, scope string) {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.cacheInvalidations.WithLabelValues(normalizeLabel(class), normalizeLabel(scope)).Inc()
}

// SetStoreHealth publishes the liveness of a backing store.
func SetStoreHealth(store string, up bool) {
	module := ensureModule()
	if module == nil {
		return
	}
	store = normalizeLabel(store)
	value := 0.0
	if up {
		value = 1
	}
	module.metrics.storeUp.WithLabelValues(store).Set(value)
	module.stats.recordStoreHealth(store, up)
}

// ObserveStoreOperation records the outcome and latency of a single store call.
func ObserveStoreOperation(store, operation string, err error, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	store = normalizeLabel(store)
	operation = normalizeLabel(operation)
	result := "success"
	if err != nil {
		result = "error"
	}
	module.metrics.storeOperations.WithLabelValues(store, operation, result).Inc()
	observeDuration(module.metrics.storeLatency.WithLabelValues(store, operation), duration)
}

// RecordDegradedRead counts a read answered by a fallback mirror.
func RecordDegradedRead(entity, source string) {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.degradedReads.WithLabelValues(normalizeLabel(entity), normalizeLabel(source)).Inc()
	module.stats.degradedReads.Add(1)
}

// RecordReplication counts the outcome of propagating one record to a mirror.
func RecordReplication(store, entity, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	result = normalizeLabel(result)
	module.metrics.replications.WithLabelValues(normalizeLabel(store), normalizeLabel(entity), result).Inc()
	module.stats.recordReplication(result)
}

// RecordReconcileUpserts adds the number of records re-applied to a mirror table.
func RecordReconcileUpserts(store, table string, count int) {
	module := ensureModule()
	if module == nil {
		return
	}
	if count <= 0 {
		return
	}
	module.metrics.reconcileUpserts.WithLabelValues(normalizeLabel(store), normalizeLabel(table)).Add(float64(count))
	module.stats.reconcileUpserts.Add(uint64(count))
}

// RecordReconcileSkipped counts a tick that found a pass already running.
func RecordReconcileSkipped() {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.reconcileSkipped.Inc()
	module.stats.reconcileSkipped.Add(1)
}

// RecordSnapshot counts a snapshot written to the backup store.
func RecordSnapshot(table string) {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.snapshotsWritten.WithLabelValues(normalizeLabel(table)).Inc()
	module.stats.snapshots.Add(1)
}

// RecordAuthAttempt increments the auth attempt counter for a flow (session, reset).
func RecordAuthAttempt(flow, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.authAttempts.WithLabelValues(normalizeLabel(flow), label).Inc()
	module.stats.recordAuth(label)
}

// AdjustActiveSessions modifies the live session gauge by delta.
func AdjustActiveSessions(delta int64) {
	module := ensureModule()
	if module == nil {
		return
	}
	if delta == 0 {
		return
	}
	module.metrics.activeSessions.Add(float64(delta))
	module.stats.adjustActiveSessions(delta)
	if module.stats.activeSessions.Load() < 0 {
		module.stats.activeSessions.Store(0)
		module.metrics.activeSessions.Set(0)
	}
}

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	stats := module.stats.maintenanceEntry(jobID)
	stats.record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, " ", "_")
}
