package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tandem/internal/database"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/monitoring/checks"
)

func setupModule(t *testing.T) *monitoring.Module {
	t.Helper()

	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(mod)
	return mod
}

func TestSummaryAggregatesMetrics(t *testing.T) {
	setupModule(t)

	monitoring.RecordCacheLookup("users", true)
	monitoring.RecordCacheLookup("users", false)
	monitoring.RecordAuthAttempt("session", "success")
	monitoring.RecordAuthAttempt("reset", "failure")
	monitoring.AdjustActiveSessions(2)
	monitoring.AdjustActiveSessions(-5)
	monitoring.SetStoreHealth("realtime", false)
	monitoring.RecordDegradedRead("user", "realtime")
	monitoring.RecordReplication("backup", "user", "success")
	monitoring.RecordReplication("backup", "user", "failure")
	monitoring.RecordReconcileUpserts("backup", "users", 3)
	monitoring.RecordReconcileSkipped()
	monitoring.RecordSnapshot("users")
	monitoring.RecordMaintenanceRun("session_cleanup", "success", "", time.Second)

	summary := monitoring.Snapshot()
	require.Equal(t, uint64(1), summary.Cache.Hits)
	require.Equal(t, uint64(1), summary.Cache.Misses)
	require.Equal(t, uint64(2), summary.Auth.Success+summary.Auth.Failure)
	require.Equal(t, int64(0), summary.Sessions.Active)
	require.Len(t, summary.Stores, 1)
	require.False(t, summary.Stores[0].Up)
	require.Equal(t, uint64(1), summary.Consistency.DegradedReads)
	require.Equal(t, uint64(1), summary.Consistency.ReplicationFailure)
	require.Equal(t, uint64(3), summary.Consistency.ReconcileUpserts)
	require.Equal(t, uint64(1), summary.Consistency.ReconcileSkipped)
	require.Equal(t, uint64(1), summary.Consistency.Snapshots)
	require.NotEmpty(t, summary.Maintenance.Jobs)
}

func TestCacheLookupsExportedToRegistry(t *testing.T) {
	mod := setupModule(t)

	monitoring.RecordCacheLookup("posts", true)
	monitoring.RecordCacheLookup("posts", true)
	monitoring.RecordCacheEviction("posts")

	families, err := mod.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			values[family.GetName()] += metric.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(2), values["tandem_cache_lookups_total"])
	require.Equal(t, float64(1), values["tandem_cache_evictions_total"])
}

func TestReadinessDegradesOnOptionalFailure(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("primary", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}).AsRequired())
	manager.RegisterReadiness(monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)
	require.True(t, report.Checks[0].Required)
	require.Equal(t, "realtime", report.Checks[1].Component)
}

func TestReadinessFailsOnRequiredFailure(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("primary", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "slow ping"}
	}).AsRequired())
	manager.RegisterReadiness(monitoring.NewCheck("backup", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
}

func TestAggregateRequireAny(t *testing.T) {
	down := monitoring.ProbeResult{Component: "realtime", Status: monitoring.StatusDown}
	up := monitoring.ProbeResult{Component: "backup", Status: monitoring.StatusUp}

	report := monitoring.Aggregate([]monitoring.ProbeResult{down, up}, monitoring.RequireAny)
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusDegraded, report.Status)

	report = monitoring.Aggregate([]monitoring.ProbeResult{down}, monitoring.RequireAny)
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)

	report = monitoring.Aggregate(nil, monitoring.RequireAny)
	require.True(t, report.Success)
	require.NotNil(t, report.Checks)
}

func TestRunCheckRecoversPanics(t *testing.T) {
	check := monitoring.NewCheck("broken", func(ctx context.Context) monitoring.ProbeResult {
		panic("boom")
	}).AsRequired()

	result := monitoring.RunCheck(context.Background(), check)
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Equal(t, "boom", result.Details)
	require.Equal(t, "broken", result.Component)
	require.True(t, result.Required)

	result = monitoring.RunCheck(context.Background(), monitoring.NewCheck("odd", func(context.Context) monitoring.ProbeResult {
		panic(42)
	}))
	require.Equal(t, "panic: 42", result.Details)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestStoreCheck(t *testing.T) {
	up := checks.Store("backup", pingFunc(func(context.Context) error { return nil }), time.Second)
	require.Equal(t, monitoring.StatusUp, monitoring.RunCheck(context.Background(), up).Status)

	down := checks.Store("analytics", pingFunc(func(context.Context) error { return errors.New("refused") }), time.Second)
	result := monitoring.RunCheck(context.Background(), down)
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Equal(t, "refused", result.Details)

	slow := checks.Store("realtime", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), 10*time.Millisecond)
	require.Equal(t, monitoring.StatusDown, monitoring.RunCheck(context.Background(), slow).Status)

	missing := checks.Store("primary", nil, time.Second)
	require.Equal(t, monitoring.StatusDown, monitoring.RunCheck(context.Background(), missing).Status)
}

func TestMaintenanceCheck(t *testing.T) {
	setupModule(t)

	monitoring.RecordMaintenanceRun("session_cleanup", "success", "", time.Second)
	monitoring.RecordMaintenanceRun("reconcile", "failure", "timeout", time.Second)

	check := checks.Maintenance([]checks.JobWindow{
		{Job: "session_cleanup", MaxAge: time.Hour},
		{Job: "reconcile", MaxAge: time.Hour},
		{Job: "backup_gc", MaxAge: time.Hour},
	})
	result := monitoring.RunCheck(context.Background(), check)
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "reconcile: failing (timeout)")
	require.Contains(t, result.Details, "backup_gc: pending first run")

	critical := checks.Maintenance([]checks.JobWindow{{Job: "reconcile", MaxAge: time.Hour, Critical: true}})
	require.Equal(t, monitoring.StatusDown, monitoring.RunCheck(context.Background(), critical).Status)
}

func TestMaintenanceCheckFlagsStaleJobs(t *testing.T) {
	setupModule(t)

	monitoring.RecordMaintenanceRun("cache_purge", "success", "", time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	check := checks.Maintenance([]checks.JobWindow{{Job: "cache_purge", MaxAge: 10 * time.Millisecond}})
	result := monitoring.RunCheck(context.Background(), check)
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "cache_purge: last success")
}

func TestModulePrimesKnownStoresAsDown(t *testing.T) {
	mod, err := monitoring.NewModule(monitoring.Options{
		Stores:                  []string{"primary", "backup"},
		Classes:                 []string{"posts"},
		DisableGoCollector:      true,
		DisableProcessCollector: true,
	})
	require.NoError(t, err)

	families, err := mod.Registry().Gather()
	require.NoError(t, err)

	up := map[string]float64{}
	lookups := 0
	for _, family := range families {
		switch family.GetName() {
		case "tandem_store_up":
			for _, metric := range family.GetMetric() {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "store" {
						up[label.GetValue()] = metric.GetGauge().GetValue()
					}
				}
			}
		case "tandem_cache_lookups_total":
			lookups = len(family.GetMetric())
		}
	}
	require.Equal(t, map[string]float64{"primary": 0, "backup": 0}, up)
	require.Equal(t, 2, lookups)
}

func TestPrimarySchemaCheck(t *testing.T) {
	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.AutoMigrateAndSeed(db))

	check := checks.PrimarySchema(db, time.Second)
	require.True(t, check.Required)

	result := monitoring.RunCheck(context.Background(), check)
	require.Equal(t, monitoring.StatusUp, result.Status)

	require.NoError(t, database.UpsertSystemSetting(context.Background(), db, database.SchemaVersionSetting, "1"))
	result = monitoring.RunCheck(context.Background(), check)
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, `schema version "1"`)

	missing := checks.PrimarySchema(nil, time.Second)
	require.Equal(t, monitoring.StatusDown, monitoring.RunCheck(context.Background(), missing).Status)
}
