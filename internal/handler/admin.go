package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/pkg/logger"
)

// BackendProber checks every backend of the pool at once
type BackendProber interface {
	ProbeAll(ctx context.Context, backends []domain.BackendAddress) map[domain.BackendAddress]bool
}

// AdminHandler provides read-only administrative API endpoints
type AdminHandler struct {
	pool      domain.BackendSelector
	prober    BackendProber
	metrics   domain.Metrics
	cache     domain.CacheRepository
	logger    *logger.Logger
	version   string
	startTime time.Time
}

// NewAdminHandler creates a new admin handler. cache may be nil when caching is disabled.
func NewAdminHandler(pool domain.BackendSelector, prober BackendProber, metrics domain.Metrics,
	cache domain.CacheRepository, logger *logger.Logger, version string) *AdminHandler {
	return &AdminHandler{
		pool:      pool,
		prober:    prober,
		metrics:   metrics,
		cache:     cache,
		logger:    logger.Component("admin_api"),
		version:   version,
		startTime: time.Now(),
	}
}

// BackendResponse represents backend information in API responses
type BackendResponse struct {
	Address      string  `json:"address"`
	Host         string  `json:"host"`
	Port         int     `json:"port"`
	Status       string  `json:"status"`
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	TotalBackends     int       `json:"total_backends"`
	AvailableBackends int       `json:"available_backends"`
	Uptime            string    `json:"uptime"`
	Timestamp         time.Time `json:"timestamp"`
}

// CacheResponse lists the stored responses
type CacheResponse struct {
	Enabled   bool                `json:"enabled"`
	Entries   []domain.CacheEntry `json:"entries"`
	Count     int                 `json:"count"`
	TotalSize int64               `json:"total_size"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// Router returns the admin routes mounted under /admin
func (h *AdminHandler) Router() *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes adds the admin routes to router
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/backends", h.ListBackendsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/backends/{address}", h.GetBackendHandler).Methods(http.MethodGet)
	admin.HandleFunc("/stats", h.GetStatsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/cache", h.ListCacheHandler).Methods(http.MethodGet)
	admin.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
}

// ListBackendsHandler handles GET /admin/backends
func (h *AdminHandler) ListBackendsHandler(w http.ResponseWriter, r *http.Request) {
	backends := h.pool.Backends()
	status := h.prober.ProbeAll(r.Context(), backends)

	response := make([]BackendResponse, 0, len(backends))
	for _, backend := range backends {
		response = append(response, h.backendResponse(backend, status[backend]))
	}

	h.writeJSON(w, http.StatusOK, response)

	h.logger.WithFields(map[string]interface{}{
		"action": "list_backends",
		"count":  len(response),
	}).Debug("Listed backends")
}

// GetBackendHandler handles GET /admin/backends/{address}
func (h *AdminHandler) GetBackendHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	for _, backend := range h.pool.Backends() {
		if backend.String() == address {
			available := h.pool.IsAvailable(r.Context(), backend)
			h.writeJSON(w, http.StatusOK, h.backendResponse(backend, available))
			return
		}
	}

	h.writeErrorResponse(w, "backend '"+address+"' not found", http.StatusNotFound)
}

func (h *AdminHandler) backendResponse(backend domain.BackendAddress, available bool) BackendResponse {
	stats := h.metrics.GetBackendStats(backend.String())

	status := "down"
	if available {
		status = "up"
	}

	response := BackendResponse{
		Address: backend.String(),
		Host:    backend.Host,
		Port:    backend.Port,
		Status:  status,
	}
	if v, ok := stats["requests"].(int64); ok {
		response.Requests = v
	}
	if v, ok := stats["errors"].(int64); ok {
		response.Errors = v
	}
	if v, ok := stats["avg_latency_ms"].(float64); ok {
		response.AvgLatencyMs = v
	}
	return response
}

// GetStatsHandler handles GET /admin/stats
func (h *AdminHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metrics.GetStats())
}

// ListCacheHandler handles GET /admin/cache
func (h *AdminHandler) ListCacheHandler(w http.ResponseWriter, r *http.Request) {
	response := CacheResponse{Entries: []domain.CacheEntry{}}
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, response)
		return
	}

	entries, err := h.cache.List()
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response.Enabled = true
	if entries != nil {
		response.Entries = entries
	}
	response.Count = len(entries)
	for _, entry := range entries {
		response.TotalSize += entry.Size
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HealthHandler handles GET /admin/health. The proxy is healthy while at least
// one backend accepts connections.
func (h *AdminHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	backends := h.pool.Backends()

	available := 0
	for _, up := range h.prober.ProbeAll(r.Context(), backends) {
		if up {
			available++
		}
	}

	response := HealthResponse{
		Status:            "healthy",
		Version:           h.version,
		TotalBackends:     len(backends),
		AvailableBackends: available,
		Uptime:            time.Since(h.startTime).String(),
		Timestamp:         time.Now().UTC(),
	}

	code := http.StatusOK
	if available == 0 {
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, response)
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Debug("Failed to encode admin response")
	}
}

// writeErrorResponse writes a standardized error response
func (h *AdminHandler) writeErrorResponse(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	})

	h.logger.WithFields(map[string]interface{}{
		"error": message,
		"code":  code,
	}).Warn("API error response")
}
