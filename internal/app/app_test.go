package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/chronicle-activity/internal/config"
)

const token = "app-test-token"

func projectFile(t *testing.T, parts ...string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	return filepath.Join(append([]string{filepath.Dir(thisFile), "..", ".."}, parts...)...)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Env:  "development",
		Port: 0,
		Activity: config.ActivityConfig{
			EventsPath:        projectFile(t, "configs", "events.yaml"),
			AggregationWindow: time.Hour,
			PendingTTL:        time.Minute,
			IngestToken:       token,
			Strict:            true,
			Store:             config.StoreMemory,
		},
	}
}

func newTestApp(t *testing.T, rdb *redis.Client) *App {
	t.Helper()
	a := New(testConfig(t), nil, rdb)
	require.NoError(t, a.RegisterRoutes())
	return a
}

func serve(a *App, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t, nil)
	rec := serve(a, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"disabled","redis":"disabled"}`, rec.Body.String())
}

func TestHealthz_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	a := newTestApp(t, rdb)
	mr.Close()

	rec := serve(a, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}

func TestIngestAndMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	a := newTestApp(t, rdb)

	body := `{"request":{"screen":"public","ip":"203.0.113.9"},"calls":[{"kind":"action","hook":"wp_login_failed","args":["bob",7]}]}`
	rec := serve(a, http.MethodPost, "/api/v1/activity/hooks", body, map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(a, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `activity_occurrences_total{group="user",outcome="inserted"} 1`)
	assert.Contains(t, rec.Body.String(), "activity_enabled_definitions")
}

func TestErrorHandler(t *testing.T) {
	a := newTestApp(t, nil)

	rec := serve(a, http.MethodGet, "/api/v1/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	rec = serve(a, http.MethodGet, "/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "404 Not Found")

	rec = serve(a, http.MethodGet, "/api/v1/activity/0", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "record ID must be positive")
}

func TestRootRedirectsToFeed(t *testing.T) {
	a := newTestApp(t, nil)
	rec := serve(a, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/activity", rec.Header().Get("Location"))
}

func TestRegisterRoutes_MariaDBNeedsConnection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Activity.Store = config.StoreMariaDB
	a := New(cfg, nil, nil)
	require.Error(t, a.RegisterRoutes())
}

func TestRegisterRoutes_MissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Activity.EventsPath = filepath.Join(t.TempDir(), "missing.yaml")
	a := New(cfg, nil, nil)
	require.Error(t, a.RegisterRoutes())
}
