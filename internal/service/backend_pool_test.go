package service

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber reports availability from a fixed set and records probe order
type fakeProber struct {
	mu     sync.Mutex
	up     map[domain.BackendAddress]bool
	probed []domain.BackendAddress
}

func newFakeProber(up ...domain.BackendAddress) *fakeProber {
	p := &fakeProber{up: make(map[domain.BackendAddress]bool)}
	for _, addr := range up {
		p.up[addr] = true
	}
	return p
}

func (p *fakeProber) Probe(_ context.Context, addr domain.BackendAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, addr)
	return p.up[addr]
}

func (p *fakeProber) set(addr domain.BackendAddress, up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.up[addr] = up
}

var (
	backendA = domain.BackendAddress{Host: "127.0.0.1", Port: 8001}
	backendB = domain.BackendAddress{Host: "127.0.0.1", Port: 8002}
	backendC = domain.BackendAddress{Host: "127.0.0.1", Port: 8003}
)

func TestSelectRoundRobin(t *testing.T) {
	tests := []struct {
		name     string
		pool     []domain.BackendAddress
		up       []domain.BackendAddress
		requests int
		expected []domain.BackendAddress
		found    bool
	}{
		{
			name:     "cycles through available backends",
			pool:     []domain.BackendAddress{backendA, backendB},
			up:       []domain.BackendAddress{backendA, backendB},
			requests: 4,
			expected: []domain.BackendAddress{backendA, backendB, backendA, backendB},
			found:    true,
		},
		{
			name:     "fails over past an unavailable backend",
			pool:     []domain.BackendAddress{backendA, backendB},
			up:       []domain.BackendAddress{backendB},
			requests: 3,
			expected: []domain.BackendAddress{backendB, backendB, backendB},
			found:    true,
		},
		{
			name:     "skips the middle backend",
			pool:     []domain.BackendAddress{backendA, backendB, backendC},
			up:       []domain.BackendAddress{backendA, backendC},
			requests: 4,
			expected: []domain.BackendAddress{backendA, backendC, backendA, backendC},
			found:    true,
		},
		{
			name:     "falls back to the first backend when all are down",
			pool:     []domain.BackendAddress{backendA, backendB, backendC},
			requests: 3,
			expected: []domain.BackendAddress{backendA, backendA, backendA},
			found:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewBackendPool(tt.pool, newFakeProber(tt.up...), logger.Discard())

			results := make([]domain.BackendAddress, tt.requests)
			for i := 0; i < tt.requests; i++ {
				backend, found := pool.SelectRoundRobin(context.Background())
				assert.Equal(t, tt.found, found)
				results[i] = backend
			}

			assert.Equal(t, tt.expected, results)
			assert.True(t, pool.Cursor() >= 0 && pool.Cursor() < len(tt.pool))
		})
	}
}

func TestSelectRoundRobinAdvancesCursorPastExaminedCandidates(t *testing.T) {
	prober := newFakeProber(backendB)
	pool := NewBackendPool([]domain.BackendAddress{backendA, backendB, backendC}, prober, logger.Discard())

	backend, found := pool.SelectRoundRobin(context.Background())
	require.True(t, found)
	assert.Equal(t, backendB, backend)
	assert.Equal(t, 2, pool.Cursor())
	assert.Equal(t, []domain.BackendAddress{backendA, backendB}, prober.probed)

	// A recovers: the next scan starts at C and wraps to A
	prober.set(backendA, true)
	backend, _ = pool.SelectRoundRobin(context.Background())
	assert.Equal(t, backendA, backend)
	assert.Equal(t, 1, pool.Cursor())
}

func TestSelectRoundRobinConcurrentCallersStayFair(t *testing.T) {
	pool := NewBackendPool([]domain.BackendAddress{backendA, backendB}, newFakeProber(backendA, backendB), logger.Discard())

	const callers = 100
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = make(map[domain.BackendAddress]int)
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			backend, _ := pool.SelectRoundRobin(context.Background())
			mu.Lock()
			counts[backend]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, callers/2, counts[backendA])
	assert.Equal(t, callers/2, counts[backendB])
}

func TestBackendsReturnsCopy(t *testing.T) {
	pool := NewBackendPool([]domain.BackendAddress{backendA, backendB}, newFakeProber(), logger.Discard())

	backends := pool.Backends()
	backends[0] = backendC

	assert.Equal(t, []domain.BackendAddress{backendA, backendB}, pool.Backends())
}

func TestTCPProber(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	up := addressOf(t, listener.Addr())

	// reserve a port and release it so nothing listens there
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	down := addressOf(t, closed.Addr())
	closed.Close()

	prober := NewTCPProber(0, logger.Discard())
	assert.True(t, prober.Probe(context.Background(), up))
	assert.False(t, prober.Probe(context.Background(), down))

	status := prober.ProbeAll(context.Background(), []domain.BackendAddress{up, down})
	assert.Equal(t, map[domain.BackendAddress]bool{up: true, down: false}, status)
}

func addressOf(t *testing.T, addr net.Addr) domain.BackendAddress {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	return domain.BackendAddress{Host: "127.0.0.1", Port: tcp.Port}
}
