package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics implements the domain.Metrics interface
type Metrics struct {
	// Global counters
	totalRequests int64
	totalErrors   int64
	cacheHits     int64
	cacheMisses   int64
	badGateway    int64
	timeouts      int64

	startTime time.Time

	// Per-backend metrics
	backendMetrics map[string]*BackendMetrics
	mu             sync.RWMutex
}

// BackendMetrics holds metrics for a specific backend
type BackendMetrics struct {
	Requests     int64     `json:"requests"`
	Errors       int64     `json:"errors"`
	TotalLatency int64     `json:"total_latency_ms"`
	MinLatency   int64     `json:"min_latency_ms"`
	MaxLatency   int64     `json:"max_latency_ms"`
	LastRequest  time.Time `json:"last_request"`
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:      time.Now(),
		backendMetrics: make(map[string]*BackendMetrics),
	}
}

// backend returns the metrics record for backendID, creating it on first use.
// Callers must hold m.mu for writing.
func (m *Metrics) backend(backendID string) *BackendMetrics {
	bm := m.backendMetrics[backendID]
	if bm == nil {
		bm = &BackendMetrics{MinLatency: -1}
		m.backendMetrics[backendID] = bm
	}
	return bm
}

// IncrementRequests increments the total request count for a backend
func (m *Metrics) IncrementRequests(backendID string) {
	atomic.AddInt64(&m.totalRequests, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	bm := m.backend(backendID)
	bm.Requests++
	bm.LastRequest = time.Now()
}

// IncrementErrors increments the error count for a backend
func (m *Metrics) IncrementErrors(backendID string) {
	atomic.AddInt64(&m.totalErrors, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.backend(backendID).Errors++
}

// RecordLatency records request latency for a backend
func (m *Metrics) RecordLatency(backendID string, duration time.Duration) {
	latencyMs := duration.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	bm := m.backend(backendID)
	bm.TotalLatency += latencyMs
	if bm.MinLatency < 0 || latencyMs < bm.MinLatency {
		bm.MinLatency = latencyMs
	}
	if latencyMs > bm.MaxLatency {
		bm.MaxLatency = latencyMs
	}
}

// RecordCacheHit counts a request answered from the cache
func (m *Metrics) RecordCacheHit() {
	atomic.AddInt64(&m.cacheHits, 1)
}

// RecordCacheMiss counts a cacheable request that had to reach a backend
func (m *Metrics) RecordCacheMiss() {
	atomic.AddInt64(&m.cacheMisses, 1)
}

// RecordGatewayError counts a synthesized 502 or 504 response
func (m *Metrics) RecordGatewayError(statusCode int) {
	switch statusCode {
	case 504:
		atomic.AddInt64(&m.timeouts, 1)
	default:
		atomic.AddInt64(&m.badGateway, 1)
	}
}

// GetStats returns current statistics
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	backendStats := make(map[string]interface{}, len(m.backendMetrics))
	for backendID, bm := range m.backendMetrics {
		backendStats[backendID] = bm.snapshot()
	}

	return map[string]interface{}{
		"total_requests":  atomic.LoadInt64(&m.totalRequests),
		"total_errors":    atomic.LoadInt64(&m.totalErrors),
		"cache_hits":      atomic.LoadInt64(&m.cacheHits),
		"cache_misses":    atomic.LoadInt64(&m.cacheMisses),
		"bad_gateway":     atomic.LoadInt64(&m.badGateway),
		"gateway_timeout": atomic.LoadInt64(&m.timeouts),
		"backends":        backendStats,
		"uptime":          time.Since(m.startTime).String(),
	}
}

// GetBackendStats returns statistics for a specific backend
func (m *Metrics) GetBackendStats(backendID string) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bm, exists := m.backendMetrics[backendID]
	if !exists {
		return (&BackendMetrics{}).snapshot()
	}
	return bm.snapshot()
}

func (bm *BackendMetrics) snapshot() map[string]interface{} {
	var avgLatency float64
	if bm.Requests > 0 {
		avgLatency = float64(bm.TotalLatency) / float64(bm.Requests)
	}

	minLatency := bm.MinLatency
	if minLatency < 0 {
		minLatency = 0
	}

	return map[string]interface{}{
		"requests":       bm.Requests,
		"errors":         bm.Errors,
		"avg_latency_ms": avgLatency,
		"min_latency_ms": minLatency,
		"max_latency_ms": bm.MaxLatency,
		"last_request":   bm.LastRequest,
	}
}

// GetTotalRequests returns the total number of forwarded requests
func (m *Metrics) GetTotalRequests() int64 {
	return atomic.LoadInt64(&m.totalRequests)
}

// GetCacheHits returns the number of requests answered from the cache
func (m *Metrics) GetCacheHits() int64 {
	return atomic.LoadInt64(&m.cacheHits)
}
