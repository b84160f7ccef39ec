package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tandem/internal/app"
	"github.com/charlesng35/tandem/internal/handlers"
	"github.com/charlesng35/tandem/internal/monitoring"
)

// registerHealthRoutes exposes /health for the stores and, when enabled, the process probes
// under /health/live and /health/ready.
func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module, prober handlers.StoreProber) {
	r.GET("/health", handlers.Health(prober))

	if !cfg.Monitoring.Health.Enabled || mon == nil || mon.Health() == nil {
		r.GET("/health/live", disabledProbe)
		r.GET("/health/ready", disabledProbe)
		return
	}

	manager := mon.Health()
	r.GET("/health/live", probeHandler("liveness", manager.EvaluateLiveness))
	r.GET("/health/ready", probeHandler("readiness", manager.EvaluateReadiness))
}

func probeHandler(probe string, evaluate func(context.Context) monitoring.HealthReport) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := evaluate(c.Request.Context())
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(status, gin.H{
			"probe":      probe,
			"success":    report.Success,
			"status":     report.Status,
			"checks":     report.Checks,
			"checked_at": time.Now().UTC(),
		})
	}
}

func disabledProbe(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
