package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/tandem/internal/cache"
)

// Config represents the runtime configuration for the tandem backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Stores     StoresConfig     `mapstructure:"stores"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is "json" for production or "console" for local runs.
	LogFormat string `mapstructure:"log_format"`
}

// StoresConfig groups the four backing stores and the health probe settings.
type StoresConfig struct {
	Primary   PrimaryStoreConfig   `mapstructure:"primary"`
	Realtime  RealtimeStoreConfig  `mapstructure:"realtime"`
	Analytics AnalyticsStoreConfig `mapstructure:"analytics"`
	Backup    BackupStoreConfig    `mapstructure:"backup"`
	Health    StoreHealthConfig    `mapstructure:"health"`
}

// PrimaryStoreConfig describes the relational database that owns most entities.
type PrimaryStoreConfig struct {
	Driver          string            `mapstructure:"driver"`
	Path            string            `mapstructure:"path"`
	DSN             string            `mapstructure:"dsn"`
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Name            string            `mapstructure:"name"`
	User            string            `mapstructure:"user"`
	Password        string            `mapstructure:"password"`
	Options         map[string]string `mapstructure:"options"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
}

// RealtimeStoreConfig holds Redis connection options for the real-time document store.
type RealtimeStoreConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AnalyticsStoreConfig holds InfluxDB connection options.
type AnalyticsStoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// BackupStoreConfig locates the embedded backup store.
type BackupStoreConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// StoreHealthConfig controls background store probing and alerting.
type StoreHealthConfig struct {
	Schedule       string        `mapstructure:"schedule"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	AlertThreshold int           `mapstructure:"alert_threshold"`
}

// CacheConfig describes the in-process cache classes.
type CacheConfig struct {
	PurgeSchedule string                        `mapstructure:"purge_schedule"`
	Classes       map[string]CacheClassSettings `mapstructure:"classes"`
}

// CacheClassSettings configures a single cache class.
type CacheClassSettings struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
	Sliding    bool          `mapstructure:"sliding"`
}

// SyncConfig controls mirror propagation and periodic reconciliation.
type SyncConfig struct {
	Schedule           string        `mapstructure:"schedule"`
	ReplicationTimeout time.Duration `mapstructure:"replication_timeout"`
	SnapshotRetention  int           `mapstructure:"snapshot_retention"`
	BackupGCSchedule   string        `mapstructure:"backup_gc_schedule"`
}

// AuthConfig captures session and credential reset settings.
type AuthConfig struct {
	Session SessionSettings `mapstructure:"session"`
	Reset   ResetSettings   `mapstructure:"reset"`
}

// SessionSettings configures session lifetimes.
type SessionSettings struct {
	StandardTTL     time.Duration `mapstructure:"standard_ttl"`
	ShortTTL        time.Duration `mapstructure:"short_ttl"`
	TokenBytes      int           `mapstructure:"token_bytes"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
}

// ResetSettings configures password and PIN reset codes.
type ResetSettings struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CodeLength      int           `mapstructure:"code_length"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles the liveness and readiness endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TANDEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("stores.primary.driver", "sqlite")
	v.SetDefault("stores.primary.path", "./data/tandem.sqlite")

	v.SetDefault("stores.realtime.enabled", true)
	v.SetDefault("stores.realtime.address", "127.0.0.1:6379")
	v.SetDefault("stores.realtime.username", "")
	v.SetDefault("stores.realtime.password", "")
	v.SetDefault("stores.realtime.db", 0)
	v.SetDefault("stores.realtime.prefix", "tandem:")

	v.SetDefault("stores.analytics.enabled", false)
	v.SetDefault("stores.analytics.url", "")
	v.SetDefault("stores.analytics.token", "")
	v.SetDefault("stores.analytics.org", "")
	v.SetDefault("stores.analytics.bucket", "")

	v.SetDefault("stores.backup.enabled", true)
	v.SetDefault("stores.backup.path", "./data/backup")
	v.SetDefault("stores.backup.in_memory", false)

	v.SetDefault("stores.health.schedule", "@every 30s")
	v.SetDefault("stores.health.probe_timeout", "2s")
	v.SetDefault("stores.health.alert_threshold", 2)

	v.SetDefault("cache.purge_schedule", "@every 1m")
	for _, class := range cache.DefaultClasses() {
		prefix := "cache.classes." + class.Name
		v.SetDefault(prefix+".max_entries", class.MaxEntries)
		v.SetDefault(prefix+".ttl", class.TTL.String())
		v.SetDefault(prefix+".sliding", class.Sliding)
	}

	v.SetDefault("sync.schedule", "@every 10m")
	v.SetDefault("sync.replication_timeout", "5s")
	v.SetDefault("sync.snapshot_retention", 24)
	v.SetDefault("sync.backup_gc_schedule", "@every 1h")

	v.SetDefault("auth.session.standard_ttl", "168h") // 7 days
	v.SetDefault("auth.session.short_ttl", "30m")
	v.SetDefault("auth.session.token_bytes", 32)
	v.SetDefault("auth.session.cleanup_schedule", "@hourly")
	v.SetDefault("auth.reset.ttl", "15m")
	v.SetDefault("auth.reset.code_length", 6)
	v.SetDefault("auth.reset.max_attempts", 5)
	v.SetDefault("auth.reset.cleanup_schedule", "@hourly")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
