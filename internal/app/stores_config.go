package app

import (
	"strings"

	"github.com/charlesng35/tandem/internal/database"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/internal/stores/analytics"
	"github.com/charlesng35/tandem/internal/stores/backup"
	"github.com/charlesng35/tandem/internal/stores/realtime"
)

// DatabaseConfig converts the primary store settings into the database package representation.
func (c StoresConfig) DatabaseConfig() database.Config {
	p := c.Primary
	return database.Config{
		Driver:          strings.TrimSpace(p.Driver),
		Path:            strings.TrimSpace(p.Path),
		DSN:             strings.TrimSpace(p.DSN),
		Host:            strings.TrimSpace(p.Host),
		Port:            p.Port,
		Name:            strings.TrimSpace(p.Name),
		User:            strings.TrimSpace(p.User),
		Password:        p.Password,
		Options:         p.Options,
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
	}
}

// RealtimeConfig converts the Redis settings into the realtime store representation.
func (c StoresConfig) RealtimeConfig() realtime.Config {
	return realtime.Config{
		Address:  strings.TrimSpace(c.Realtime.Address),
		Username: strings.TrimSpace(c.Realtime.Username),
		Password: c.Realtime.Password,
		DB:       c.Realtime.DB,
		Prefix:   c.Realtime.Prefix,
	}
}

// AnalyticsConfig converts the InfluxDB settings into the analytics store representation.
func (c StoresConfig) AnalyticsConfig() analytics.Config {
	return analytics.Config{
		URL:    strings.TrimSpace(c.Analytics.URL),
		Token:  c.Analytics.Token,
		Org:    strings.TrimSpace(c.Analytics.Org),
		Bucket: strings.TrimSpace(c.Analytics.Bucket),
	}
}

// BackupConfig converts the backup settings; retention comes from the sync section.
func (c *Config) BackupConfig() backup.Config {
	return backup.Config{
		Path:      strings.TrimSpace(c.Stores.Backup.Path),
		InMemory:  c.Stores.Backup.InMemory,
		Retention: c.Sync.SnapshotRetention,
	}
}

// RegistryOptions converts the health settings into registry options.
func (c StoresConfig) RegistryOptions() []stores.RegistryOption {
	var opts []stores.RegistryOption
	if c.Health.ProbeTimeout > 0 {
		opts = append(opts, stores.WithProbeTimeout(c.Health.ProbeTimeout))
	}
	if c.Health.AlertThreshold > 0 {
		opts = append(opts, stores.WithAlertThreshold(c.Health.AlertThreshold))
	}
	return opts
}
