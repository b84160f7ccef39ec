package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/reconcile"
	"github.com/charlesng35/tandem/internal/stores"
)

type fakeCache struct {
	cleared []string
}

func (f *fakeCache) Stats() map[string]cache.ClassStat {
	return map[string]cache.ClassStat{"users": {Size: 2, Max: 100}}
}

func (f *fakeCache) Clear(class string) error {
	if class != "users" {
		return fmt.Errorf("%w: %s", cache.ErrUnknownClass, class)
	}
	f.cleared = append(f.cleared, class)
	return nil
}

func (f *fakeCache) ClearAll() { f.cleared = append(f.cleared, "*") }

type fakeRunner struct {
	report reconcile.Report
	err    error
}

func (f fakeRunner) RunOnce(context.Context) (reconcile.Report, error) { return f.report, f.err }

type fakeAlerts []stores.Alert

func (f fakeAlerts) Recent() []stores.Alert { return f }

func serveAdmin(t *testing.T, h *AdminHandler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/cache", h.CacheStats)
	r.DELETE("/cache", h.ClearCache)
	r.DELETE("/cache/:class", h.ClearCacheClass)
	r.POST("/reconcile", h.Reconcile)
	r.GET("/alerts", h.Alerts)
	r.GET("/stores", h.Stores)
	r.GET("/stats", h.Stats)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewAdminHandlerRequiresCollaborators(t *testing.T) {
	_, err := NewAdminHandler(AdminDependencies{Reconciler: fakeRunner{}})
	require.Error(t, err)
	_, err = NewAdminHandler(AdminDependencies{Cache: &fakeCache{}})
	require.Error(t, err)
}

func TestAdminCacheEndpoints(t *testing.T) {
	fc := &fakeCache{}
	h, err := NewAdminHandler(AdminDependencies{Cache: fc, Reconciler: fakeRunner{}})
	require.NoError(t, err)

	rec := serveAdmin(t, h, http.MethodGet, "/cache")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"users"`)

	rec = serveAdmin(t, h, http.MethodDelete, "/cache/users")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serveAdmin(t, h, http.MethodDelete, "/cache/ghosts")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveAdmin(t, h, http.MethodDelete, "/cache")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"users", "*"}, fc.cleared)
}

func TestAdminReconcileOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		runner fakeRunner
		status int
		code   string
	}{
		{name: "completed", runner: fakeRunner{report: reconcile.Report{Upserts: map[string]int{"realtime/users": 3}}}, status: http.StatusOK},
		{name: "already running", runner: fakeRunner{report: reconcile.Report{Skipped: true}}, status: http.StatusConflict, code: "RECONCILE_RUNNING"},
		{name: "partial failure", runner: fakeRunner{report: reconcile.Report{Failures: 1}, err: errors.New("backup/users: disk full")}, status: http.StatusMultiStatus, code: "REPLICATION_FAILED"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewAdminHandler(AdminDependencies{Cache: &fakeCache{}, Reconciler: tc.runner})
			require.NoError(t, err)

			rec := serveAdmin(t, h, http.MethodPost, "/reconcile")
			require.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			require.NotNil(t, body["data"])
			if tc.code != "" {
				require.Equal(t, false, body["success"])
				require.Equal(t, tc.code, body["error"].(map[string]any)["code"])
			}
		})
	}
}

func TestAdminOptionalSources(t *testing.T) {
	h, err := NewAdminHandler(AdminDependencies{Cache: &fakeCache{}, Reconciler: fakeRunner{}})
	require.NoError(t, err)

	rec := serveAdmin(t, h, http.MethodGet, "/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{}, decodeBody(t, rec)["data"])

	rec = serveAdmin(t, h, http.MethodGet, "/stats")
	require.Equal(t, http.StatusNotFound, rec.Code)

	h.alerts = fakeAlerts{{Store: stores.Realtime, Failures: 2, Error: "connection refused"}}
	rec = serveAdmin(t, h, http.MethodGet, "/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}
