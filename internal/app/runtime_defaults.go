package app

import (
	"fmt"
	"strings"
)

// ApplyRuntimeDefaults reconciles settings that cannot work together, e.g. an analytics store
// enabled without credentials. It returns the keys it changed so callers can log them.
func ApplyRuntimeDefaults(cfg *Config) (map[string]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	adjusted := make(map[string]string)

	if strings.TrimSpace(cfg.Stores.Primary.Driver) == "" {
		cfg.Stores.Primary.Driver = "sqlite"
		adjusted["stores.primary.driver"] = "defaulted to sqlite"
	}

	if cfg.Stores.Realtime.Enabled && strings.TrimSpace(cfg.Stores.Realtime.Address) == "" {
		cfg.Stores.Realtime.Enabled = false
		adjusted["stores.realtime.enabled"] = "disabled: address missing"
	}

	a := cfg.Stores.Analytics
	if a.Enabled && (strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Token) == "" ||
		strings.TrimSpace(a.Org) == "" || strings.TrimSpace(a.Bucket) == "") {
		cfg.Stores.Analytics.Enabled = false
		adjusted["stores.analytics.enabled"] = "disabled: url, token, org and bucket are required"
	}

	if cfg.Stores.Backup.Enabled && !cfg.Stores.Backup.InMemory && strings.TrimSpace(cfg.Stores.Backup.Path) == "" {
		cfg.Stores.Backup.InMemory = true
		adjusted["stores.backup.in_memory"] = "enabled: path missing"
	}

	if cfg.Sync.SnapshotRetention < 0 {
		cfg.Sync.SnapshotRetention = 0
		adjusted["sync.snapshot_retention"] = "negative value reset to default"
	}

	return adjusted, nil
}
