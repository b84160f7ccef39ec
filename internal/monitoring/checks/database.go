package checks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/tandem/internal/database"
	"github.com/charlesng35/tandem/internal/monitoring"
)

const defaultSchemaTimeout = 2 * time.Second

// PrimarySchema is a required readiness probe. It pings the primary store and compares the
// recorded schema version with the one this binary migrates to; drift degrades the result.
func PrimarySchema(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("primary_schema", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "primary store not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultSchemaTimeout))
		defer cancel()

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError("primary_schema", err, time.Since(start))
		}
		if err := sqlDB.PingContext(probeCtx); err != nil {
			result := monitoring.ResultFromError("primary_schema", err, time.Since(start))
			result.Status = monitoring.StatusDown
			return result
		}

		recorded, err := database.GetSystemSetting(probeCtx, db, database.SchemaVersionSetting)
		if err != nil {
			return monitoring.ResultFromError("primary_schema", err, time.Since(start))
		}
		if recorded != database.SchemaVersion {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  fmt.Sprintf("schema version %q, want %q", recorded, database.SchemaVersion),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	}).AsRequired()
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
