package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tandem/internal/app/maintenance"
	"github.com/charlesng35/tandem/internal/cache"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	db := cfg.Stores.DatabaseConfig()
	require.Equal(t, "postgres", db.Driver)
	require.Equal(t, "db.example.com", db.Host)
	require.Equal(t, 5432, db.Port)
	require.Equal(t, "tandem", db.Name)
	require.Equal(t, 20, db.MaxOpenConns)

	rt := cfg.Stores.RealtimeConfig()
	require.True(t, cfg.Stores.Realtime.Enabled)
	require.Equal(t, "redis.example.com:6380", rt.Address)
	require.Equal(t, 2, rt.DB)
	require.Equal(t, "club:", rt.Prefix)

	require.True(t, cfg.Stores.Analytics.Enabled)
	an := cfg.Stores.AnalyticsConfig()
	require.Equal(t, "activity", an.Bucket)
	require.Equal(t, "influx-token", an.Token)

	bk := cfg.BackupConfig()
	require.Equal(t, "/var/lib/tandem/backup", bk.Path)
	require.Equal(t, 48, bk.Retention)

	require.Equal(t, 500*time.Millisecond, cfg.Stores.Health.ProbeTimeout)
	require.Equal(t, 3, cfg.Stores.Health.AlertThreshold)
	require.Len(t, cfg.Stores.RegistryOptions(), 2)

	require.Equal(t, 72*time.Hour, cfg.Auth.Session.StandardTTL)
	require.Equal(t, 30*time.Minute, cfg.Auth.Session.ShortTTL)
	require.Equal(t, 3, cfg.Auth.ResetManagerConfig().MaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.Auth.ResetManagerConfig().TTL)

	require.Equal(t, maintenance.Schedules{
		Health:         "@every 15s",
		Reconcile:      "@every 5m",
		SessionCleanup: "@hourly",
		ResetCleanup:   "@hourly",
		CachePurge:     "@every 1m",
		BackupGC:       "@every 1h",
	}, cfg.MaintenanceSchedules())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Stores.Primary.Driver)
	require.Equal(t, "./data/tandem.sqlite", cfg.Stores.Primary.Path)
	require.True(t, cfg.Stores.Realtime.Enabled)
	require.Equal(t, "tandem:", cfg.Stores.Realtime.Prefix)
	require.False(t, cfg.Stores.Analytics.Enabled)
	require.True(t, cfg.Stores.Backup.Enabled)
	require.Equal(t, 2*time.Second, cfg.Stores.Health.ProbeTimeout)
	require.Equal(t, 5*time.Second, cfg.Sync.ReplicationTimeout)
	require.Equal(t, 24, cfg.Sync.SnapshotRetention)
	require.Equal(t, 7*24*time.Hour, cfg.Auth.Session.StandardTTL)
	require.Equal(t, 6, cfg.Auth.Reset.CodeLength)
	require.Equal(t, 5, cfg.Auth.Reset.MaxAttempts)
	require.Equal(t, cache.DefaultClasses(), byDefaultOrder(cfg.Cache.ClassConfigs()))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TANDEM_SERVER_PORT", "7070")
	t.Setenv("TANDEM_STORES_REALTIME_ADDRESS", "10.0.0.5:6379")
	t.Setenv("TANDEM_SYNC_REPLICATION_TIMEOUT", "750ms")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "10.0.0.5:6379", cfg.Stores.Realtime.Address)
	require.Equal(t, 750*time.Millisecond, cfg.Sync.ReplicationTimeout)
}

func TestClassConfigsMergesOverrides(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	classes := map[string]cache.ClassConfig{}
	for _, class := range cfg.Cache.ClassConfigs() {
		classes[class.Name] = class
	}

	require.Equal(t, 500, classes[cache.ClassUsers].MaxEntries)
	require.Equal(t, 5*time.Minute, classes[cache.ClassUsers].TTL)
	require.True(t, classes[cache.ClassUsers].Sliding)
	require.Equal(t, cache.ClassConfig{Name: "feed", MaxEntries: 10, TTL: 10 * time.Second}, classes["feed"])
	require.Len(t, classes, len(cache.DefaultClasses())+1)

	_, err = cache.NewManager(cfg.Cache.ClassConfigs())
	require.NoError(t, err)
}

func byDefaultOrder(classes []cache.ClassConfig) []cache.ClassConfig {
	index := map[string]cache.ClassConfig{}
	for _, class := range classes {
		index[class.Name] = class
	}
	out := make([]cache.ClassConfig, 0, len(classes))
	for _, class := range cache.DefaultClasses() {
		out = append(out, index[class.Name])
	}
	return out
}
