package service

import (
	"context"
	"sync"

	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/pkg/logger"
)

// BackendPool holds the fixed, ordered set of backends and the round robin cursor.
// It implements domain.BackendSelector.
type BackendPool struct {
	backends []domain.BackendAddress
	prober   domain.Prober
	logger   *logger.Logger

	// cursor is the index of the next candidate; 0 <= cursor < len(backends).
	cursor int
	mu     sync.Mutex
}

// NewBackendPool creates a pool over backends. The slice must not be empty.
func NewBackendPool(backends []domain.BackendAddress, prober domain.Prober, logger *logger.Logger) *BackendPool {
	pool := make([]domain.BackendAddress, len(backends))
	copy(pool, backends)

	return &BackendPool{
		backends: pool,
		prober:   prober,
		logger:   logger.Component("load_balancer"),
	}
}

// SelectRoundRobin examines up to len(pool) candidates starting at the cursor and
// returns the first that probes available. The cursor moves past every examined
// candidate. If no backend is available the first configured backend is returned
// together with false; forwarding to it then surfaces as a gateway error.
func (p *BackendPool) SelectRoundRobin(ctx context.Context) (domain.BackendAddress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.backends {
		candidate := p.backends[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.backends)

		if p.prober.Probe(ctx, candidate) {
			p.logger.WithField("backend", candidate.String()).Debug("Round-robin selected backend")
			return candidate, true
		}
	}

	p.logger.Debug("All backends unavailable, returning first one")
	return p.backends[0], false
}

// IsAvailable probes a single backend
func (p *BackendPool) IsAvailable(ctx context.Context, addr domain.BackendAddress) bool {
	return p.prober.Probe(ctx, addr)
}

// Backends returns a copy of the configured backends in order
func (p *BackendPool) Backends() []domain.BackendAddress {
	out := make([]domain.BackendAddress, len(p.backends))
	copy(out, p.backends)
	return out
}

// Cursor returns the index of the next round robin candidate
func (p *BackendPool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
