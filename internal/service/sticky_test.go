package service

import (
	"context"
	"testing"

	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func newTestSticky(up ...domain.BackendAddress) *StickySessionManager {
	pool := NewBackendPool([]domain.BackendAddress{backendA, backendB}, newFakeProber(up...), logger.Discard())
	return NewStickySessionManager("sticky_backend", pool, logger.Discard())
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		up      []domain.BackendAddress
		want    domain.Selection
	}{
		{
			name:    "valid cookie for available backend pins without new cookie",
			headers: map[string]string{"Cookie": "theme=dark; sticky_backend=127.0.0.1:8002"},
			up:      []domain.BackendAddress{backendA, backendB},
			want:    domain.Selection{Backend: backendB, Sticky: true},
		},
		{
			name:    "no cookie uses round robin and issues cookie",
			headers: map[string]string{"Host": "localhost"},
			up:      []domain.BackendAddress{backendA, backendB},
			want:    domain.Selection{Backend: backendA, SetCookie: true},
		},
		{
			name:    "cookie for unavailable backend is re-pinned",
			headers: map[string]string{"Cookie": "sticky_backend=127.0.0.1:8001"},
			up:      []domain.BackendAddress{backendB},
			want:    domain.Selection{Backend: backendB, SetCookie: true},
		},
		{
			name:    "malformed cookie falls back to round robin",
			headers: map[string]string{"Cookie": "sticky_backend=garbage"},
			up:      []domain.BackendAddress{backendA, backendB},
			want:    domain.Selection{Backend: backendA, SetCookie: true},
		},
		{
			name:    "other cookie names are ignored",
			headers: map[string]string{"Cookie": "sticky_backend_old=127.0.0.1:8002"},
			up:      []domain.BackendAddress{backendA, backendB},
			want:    domain.Selection{Backend: backendA, SetCookie: true},
		},
		{
			name:    "no backend up falls back to the first one",
			headers: map[string]string{"Cookie": "sticky_backend=127.0.0.1:8002"},
			up:      nil,
			want:    domain.Selection{Backend: backendA, SetCookie: true, Fallback: true},
		},
		{
			name:    "cookie header key is case sensitive as received",
			headers: map[string]string{"cookie": "sticky_backend=127.0.0.1:8002"},
			up:      []domain.BackendAddress{backendA, backendB},
			want:    domain.Selection{Backend: backendA, SetCookie: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestSticky(tt.up...).Resolve(context.Background(), tt.headers)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveCookieOutsidePool(t *testing.T) {
	outside := domain.BackendAddress{Host: "10.0.0.9", Port: 6379}
	headers := map[string]string{"Cookie": "sticky_backend=10.0.0.9:6379"}
	prober := newFakeProber(backendA, backendB, outside)
	pool := NewBackendPool([]domain.BackendAddress{backendA, backendB}, prober, logger.Discard())

	t.Run("honoured by default", func(t *testing.T) {
		sticky := NewStickySessionManager("sticky_backend", pool, logger.Discard())
		got := sticky.Resolve(context.Background(), headers)
		assert.Equal(t, domain.Selection{Backend: outside, Sticky: true}, got)
	})

	t.Run("re-pinned when restricted to the pool", func(t *testing.T) {
		sticky := NewStickySessionManager("sticky_backend", pool, logger.Discard(), RestrictToPool())
		got := sticky.Resolve(context.Background(), headers)
		assert.False(t, got.Sticky)
		assert.True(t, got.SetCookie)
		assert.Contains(t, []domain.BackendAddress{backendA, backendB}, got.Backend)
	})

	t.Run("pool members still pin when restricted", func(t *testing.T) {
		sticky := NewStickySessionManager("sticky_backend", pool, logger.Discard(), RestrictToPool())
		got := sticky.Resolve(context.Background(), map[string]string{"Cookie": "sticky_backend=127.0.0.1:8002"})
		assert.Equal(t, domain.Selection{Backend: backendB, Sticky: true}, got)
	})
}

func TestBackendFromCookie(t *testing.T) {
	sticky := newTestSticky()

	addr, ok := sticky.BackendFromCookie("a=1;  sticky_backend=10.1.2.3:9000 ; b=2")
	assert.True(t, ok)
	assert.Equal(t, domain.BackendAddress{Host: "10.1.2.3", Port: 9000}, addr)

	for _, header := range []string{"", "sticky_backend=", "sticky_backend=host", "sticky_backend=host:port", "sticky_backend=a:b:1"} {
		_, ok := sticky.BackendFromCookie(header)
		assert.False(t, ok, header)
	}
}

func TestCookieHeader(t *testing.T) {
	assert.Equal(t,
		"Set-Cookie: sticky_backend=127.0.0.1:8001; Path=/",
		newTestSticky().CookieHeader(backendA))
}
