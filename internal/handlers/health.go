package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tandem/internal/monitoring"
)

// StoreProber probes the backing stores and refreshes their liveness.
type StoreProber interface {
	HealthCheck(ctx context.Context) monitoring.HealthReport
}

// Health probes every store. The service is usable, and answers 200, while at least one
// store is up.
func Health(prober StoreProber) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := prober.HealthCheck(c.Request.Context())
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success":    report.Success,
			"status":     report.Status,
			"stores":     report.Checks,
			"checked_at": time.Now().UTC(),
		})
	}
}
