package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tandem/internal/app"
	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/pkg/response"
)

// CacheReporter exposes per-class cache statistics.
type CacheReporter interface {
	Stats() map[string]cache.ClassStat
}

// MonitoringHandler serves the operator dashboard: counters, cache classes, store liveness
// and the readiness verdict in one payload.
type MonitoringHandler struct {
	module   *monitoring.Module
	cfg      *app.Config
	cache    CacheReporter
	statuses StatusSource
}

// MonitoringSummary is the payload of GET /api/admin/monitoring/summary.
type MonitoringSummary struct {
	Summary    monitoring.Summary         `json:"summary"`
	Readiness  *monitoring.HealthReport   `json:"readiness,omitempty"`
	Cache      map[string]cache.ClassStat `json:"cache,omitempty"`
	Stores     []stores.Status            `json:"stores,omitempty"`
	Prometheus PrometheusInfo             `json:"prometheus"`
}

// PrometheusInfo tells operators where metrics are scraped.
type PrometheusInfo struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// NewMonitoringHandler returns nil when neither health nor metrics are enabled. Cache and
// statuses are optional.
func NewMonitoringHandler(module *monitoring.Module, cfg *app.Config, cache CacheReporter, statuses StatusSource) *MonitoringHandler {
	if module == nil || cfg == nil {
		return nil
	}
	if !cfg.Monitoring.Health.Enabled && !cfg.Monitoring.Prometheus.Enabled {
		return nil
	}
	return &MonitoringHandler{module: module, cfg: cfg, cache: cache, statuses: statuses}
}

// Summary GET /api/admin/monitoring/summary
func (h *MonitoringHandler) Summary(c *gin.Context) {
	endpoint := strings.TrimSpace(h.cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}

	payload := MonitoringSummary{
		Summary:    monitoring.Snapshot(),
		Prometheus: PrometheusInfo{Enabled: h.cfg.Monitoring.Prometheus.Enabled, Endpoint: endpoint},
	}
	if h.cfg.Monitoring.Health.Enabled {
		if health := h.module.Health(); health != nil {
			report := health.EvaluateReadiness(c.Request.Context())
			payload.Readiness = &report
		}
	}
	if h.cache != nil {
		payload.Cache = h.cache.Stats()
	}
	if h.statuses != nil {
		payload.Stores = h.statuses.Statuses()
	}

	response.Success(c, http.StatusOK, payload)
}
