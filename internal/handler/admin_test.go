package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/internal/repository"
	"github.com/mir00r/stickylb/internal/service"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdmin(t *testing.T, backends []domain.BackendAddress, cache domain.CacheRepository) (*AdminHandler, *service.Metrics) {
	t.Helper()
	log := logger.Discard()
	prober := service.NewTCPProber(500*time.Millisecond, log)
	pool := service.NewBackendPool(backends, prober, log)
	metrics := service.NewMetrics()
	return NewAdminHandler(pool, prober, metrics, cache, log, "test"), metrics
}

func serveAdmin(t *testing.T, h *AdminHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestAdminListBackends(t *testing.T) {
	up := startBackend(t, staticResponse("200 OK", "ok"))
	down := closedAddress(t)
	h, metrics := newAdmin(t, []domain.BackendAddress{up.addr, down}, nil)

	metrics.IncrementRequests(up.addr.String())
	metrics.RecordLatency(up.addr.String(), 10*time.Millisecond)

	rec := serveAdmin(t, h, "/admin/backends")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var backends []BackendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backends))
	require.Len(t, backends, 2)

	assert.Equal(t, up.addr.String(), backends[0].Address)
	assert.Equal(t, "up", backends[0].Status)
	assert.Equal(t, int64(1), backends[0].Requests)
	assert.Equal(t, down.String(), backends[1].Address)
	assert.Equal(t, "down", backends[1].Status)
	assert.Zero(t, backends[1].Requests)
}

func TestAdminGetBackend(t *testing.T) {
	up := startBackend(t, staticResponse("200 OK", "ok"))
	h, _ := newAdmin(t, []domain.BackendAddress{up.addr}, nil)

	rec := serveAdmin(t, h, "/admin/backends/"+up.addr.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var backend BackendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backend))
	assert.Equal(t, up.addr.Port, backend.Port)
	assert.Equal(t, "up", backend.Status)

	rec = serveAdmin(t, h, "/admin/backends/10.0.0.1:9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHealth(t *testing.T) {
	up := startBackend(t, staticResponse("200 OK", "ok"))

	h, _ := newAdmin(t, []domain.BackendAddress{up.addr, closedAddress(t)}, nil)
	rec := serveAdmin(t, h, "/admin/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.TotalBackends)
	assert.Equal(t, 1, health.AvailableBackends)
	assert.Equal(t, "test", health.Version)

	h, _ = newAdmin(t, []domain.BackendAddress{closedAddress(t)}, nil)
	rec = serveAdmin(t, h, "/admin/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminStats(t *testing.T) {
	h, metrics := newAdmin(t, []domain.BackendAddress{closedAddress(t)}, nil)
	metrics.RecordCacheHit()
	metrics.RecordGatewayError(504)

	rec := serveAdmin(t, h, "/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, float64(1), stats["cache_hits"])
	assert.Equal(t, float64(1), stats["gateway_timeout"])
}

func TestAdminCache(t *testing.T) {
	cache := repository.NewFileCacheRepository(filepath.Join(t.TempDir(), "cache"), nil, logger.Discard())
	require.NoError(t, cache.Put("/", []byte("HTTP/1.1 200 OK\r\n\r\nhome")))
	require.NoError(t, cache.Put("/a/b", []byte("HTTP/1.1 200 OK\r\n\r\nab")))

	h, _ := newAdmin(t, []domain.BackendAddress{closedAddress(t)}, cache)
	rec := serveAdmin(t, h, "/admin/cache")
	require.Equal(t, http.StatusOK, rec.Code)

	var response CacheResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Enabled)
	assert.Equal(t, 2, response.Count)
	assert.Equal(t, "a_b", response.Entries[0].Key)
	assert.Equal(t, "root_index.html", response.Entries[1].Key)
	assert.Equal(t, int64(len("HTTP/1.1 200 OK\r\n\r\nhome")+len("HTTP/1.1 200 OK\r\n\r\nab")), response.TotalSize)
}

func TestAdminCacheDisabled(t *testing.T) {
	h, _ := newAdmin(t, []domain.BackendAddress{closedAddress(t)}, nil)
	rec := serveAdmin(t, h, "/admin/cache")
	require.Equal(t, http.StatusOK, rec.Code)

	var response CacheResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.False(t, response.Enabled)
	assert.Empty(t, response.Entries)
}

func TestAdminRejectsWrites(t *testing.T) {
	h, _ := newAdmin(t, []domain.BackendAddress{closedAddress(t)}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/backends", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
