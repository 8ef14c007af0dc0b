package service

import (
	"context"
	"net"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/pkg/logger"
)

// DefaultProbeTimeout bounds a single availability probe
const DefaultProbeTimeout = time.Second

// TCPProber implements domain.Prober with a bare connect/close.
// No payload is exchanged with the backend.
type TCPProber struct {
	timeout time.Duration
	logger  *logger.Logger
}

// NewTCPProber creates a prober; a non-positive timeout falls back to DefaultProbeTimeout
func NewTCPProber(timeout time.Duration, logger *logger.Logger) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &TCPProber{
		timeout: timeout,
		logger:  logger.Component("availability"),
	}
}

// Probe reports whether addr accepted a TCP connection within the probe timeout
func (p *TCPProber) Probe(ctx context.Context, addr domain.BackendAddress) bool {
	dialer := net.Dialer{Timeout: p.timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		p.logger.BackendLogger(addr.String()).WithError(err).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Debug("Backend not available")
		return false
	}
	conn.Close()

	return true
}

// ProbeAll probes every backend concurrently and returns the availability of each
func (p *TCPProber) ProbeAll(ctx context.Context, backends []domain.BackendAddress) map[domain.BackendAddress]bool {
	type result struct {
		addr domain.BackendAddress
		up   bool
	}

	results := make(chan result, len(backends))
	for _, addr := range backends {
		go func(addr domain.BackendAddress) {
			results <- result{addr: addr, up: p.Probe(ctx, addr)}
		}(addr)
	}

	status := make(map[domain.BackendAddress]bool, len(backends))
	for range backends {
		r := <-results
		status[r.addr] = r.up
	}
	return status
}
