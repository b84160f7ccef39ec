package app

import (
	"github.com/charlesng35/tandem/internal/app/maintenance"
	"github.com/charlesng35/tandem/internal/auth"
)

// SessionManagerConfig converts AuthConfig into SessionManager parameters.
func (c AuthConfig) SessionManagerConfig() auth.SessionConfig {
	return auth.SessionConfig{
		StandardTTL: c.Session.StandardTTL,
		ShortTTL:    c.Session.ShortTTL,
		TokenBytes:  c.Session.TokenBytes,
	}
}

// ResetManagerConfig converts AuthConfig into ResetManager parameters.
func (c AuthConfig) ResetManagerConfig() auth.ResetConfig {
	return auth.ResetConfig{
		TTL:         c.Reset.TTL,
		CodeLength:  c.Reset.CodeLength,
		MaxAttempts: c.Reset.MaxAttempts,
	}
}

// MaintenanceSchedules collects the cron specifications spread across the configuration.
func (c *Config) MaintenanceSchedules() maintenance.Schedules {
	return maintenance.Schedules{
		Health:         c.Stores.Health.Schedule,
		Reconcile:      c.Sync.Schedule,
		SessionCleanup: c.Auth.Session.CleanupSchedule,
		ResetCleanup:   c.Auth.Reset.CleanupSchedule,
		CachePurge:     c.Cache.PurgeSchedule,
		BackupGC:       c.Sync.BackupGCSchedule,
	}
}
