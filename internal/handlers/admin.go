package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/reconcile"
	"github.com/charlesng35/tandem/internal/storage"
	"github.com/charlesng35/tandem/internal/stores"
	appErrors "github.com/charlesng35/tandem/pkg/errors"
	"github.com/charlesng35/tandem/pkg/response"
)

// CacheAdmin is the administrative view of the cache manager.
type CacheAdmin interface {
	Stats() map[string]cache.ClassStat
	Clear(className string) error
	ClearAll()
}

// ReconcileRunner triggers a reconciliation pass.
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

// AlertSource lists recent store alerts.
type AlertSource interface {
	Recent() []stores.Alert
}

// StatsSource computes the cached admin dashboard aggregate.
type StatsSource interface {
	Stats(ctx context.Context) (storage.Stats, error)
}

// StatusSource reports the liveness view of every registered store.
type StatusSource interface {
	Statuses() []stores.Status
}

// AdminHandler serves the operational endpoints under /api/admin.
type AdminHandler struct {
	cache      CacheAdmin
	reconciler ReconcileRunner
	alerts     AlertSource
	stats      StatsSource
	statuses   StatusSource
}

// AdminDependencies groups the collaborators of AdminHandler.
type AdminDependencies struct {
	Cache      CacheAdmin
	Reconciler ReconcileRunner
	Alerts     AlertSource
	Stats      StatsSource
	Statuses   StatusSource
}

// NewAdminHandler constructs the admin handler. Cache and reconciler are required.
func NewAdminHandler(deps AdminDependencies) (*AdminHandler, error) {
	if deps.Cache == nil {
		return nil, errors.New("admin handler: cache is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("admin handler: reconciler is required")
	}
	return &AdminHandler{
		cache:      deps.Cache,
		reconciler: deps.Reconciler,
		alerts:     deps.Alerts,
		stats:      deps.Stats,
		statuses:   deps.Statuses,
	}, nil
}

// CacheStats GET /api/admin/cache
func (h *AdminHandler) CacheStats(c *gin.Context) {
	response.Success(c, http.StatusOK, h.cache.Stats())
}

// ClearCache DELETE /api/admin/cache
func (h *AdminHandler) ClearCache(c *gin.Context) {
	h.cache.ClearAll()
	response.Success(c, http.StatusOK, gin.H{"cleared": "all"})
}

// ClearCacheClass DELETE /api/admin/cache/:class
func (h *AdminHandler) ClearCacheClass(c *gin.Context) {
	class := strings.TrimSpace(c.Param("class"))
	if err := h.cache.Clear(class); err != nil {
		if errors.Is(err, cache.ErrUnknownClass) {
			response.Error(c, appErrors.ErrNotFound.WithMessage("cache class not found"))
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cleared": class})
}

// Reconcile POST /api/admin/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.RunOnce(c.Request.Context())
	if report.Skipped {
		c.JSON(http.StatusConflict, response.Response{
			Success: false,
			Data:    report,
			Error:   &response.ErrorInfo{Code: "RECONCILE_RUNNING", Message: "A reconciliation pass is already running"},
		})
		return
	}
	if err != nil {
		// Individual mirror failures do not abort the pass; report what was done.
		c.JSON(http.StatusMultiStatus, response.Response{
			Success: false,
			Data:    report,
			Error:   &response.ErrorInfo{Code: appErrors.ErrReplicationFailed.Code, Message: err.Error()},
		})
		return
	}
	response.Success(c, http.StatusOK, report)
}

// Alerts GET /api/admin/alerts
func (h *AdminHandler) Alerts(c *gin.Context) {
	alerts := []stores.Alert{}
	if h.alerts != nil {
		alerts = append(alerts, h.alerts.Recent()...)
	}
	response.Success(c, http.StatusOK, alerts)
}

// Stores GET /api/admin/stores
func (h *AdminHandler) Stores(c *gin.Context) {
	statuses := []stores.Status{}
	if h.statuses != nil {
		statuses = append(statuses, h.statuses.Statuses()...)
	}
	response.Success(c, http.StatusOK, statuses)
}

// Stats GET /api/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
