package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tandem/internal/app"
	"github.com/charlesng35/tandem/internal/handlers"
	"github.com/charlesng35/tandem/internal/middleware"
	"github.com/charlesng35/tandem/internal/monitoring"
)

const (
	reconcileRateLimit  = 6
	reconcileRateWindow = time.Minute
)

// Dependencies groups everything the HTTP surface needs.
type Dependencies struct {
	Config     *app.Config
	Monitoring *monitoring.Module
	Stores     handlers.StoreProber
	Sessions   middleware.SessionValidator
	Admin      handlers.AdminDependencies
}

// NewRouter builds the Gin engine, wires middleware and registers the health, metrics and
// admin routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Stores == nil {
		return nil, fmt.Errorf("store registry must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager must be provided")
	}

	adminHandler, err := handlers.NewAdminHandler(deps.Admin)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	// Store health and process probes (public)
	registerHealthRoutes(r, deps.Config, deps.Monitoring, deps.Stores)

	// Metrics endpoint
	if deps.Config.Monitoring.Prometheus.Enabled && deps.Monitoring != nil {
		endpoint := strings.TrimSpace(deps.Config.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(deps.Monitoring.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Sessions))

	admin := api.Group("/admin")
	registerAdminRoutes(admin, adminHandler)
	registerMonitoringRoutes(admin, handlers.NewMonitoringHandler(deps.Monitoring, deps.Config, deps.Admin.Cache, deps.Admin.Statuses))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerAdminRoutes(admin *gin.RouterGroup, handler *handlers.AdminHandler) {
	admin.GET("/cache", handler.CacheStats)
	admin.DELETE("/cache", handler.ClearCache)
	admin.DELETE("/cache/:class", handler.ClearCacheClass)
	admin.POST("/reconcile", middleware.RateLimit(reconcileRateLimit, reconcileRateWindow), handler.Reconcile)
	admin.GET("/alerts", handler.Alerts)
	admin.GET("/stores", handler.Stores)
	admin.GET("/stats", handler.Stats)
}
