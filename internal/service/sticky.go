package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/pkg/logger"
)

// StickySessionManager derives backend affinity from a cookie.
// There is no session table: the cookie value is the backend address itself.
type StickySessionManager struct {
	cookieName string
	selector   domain.BackendSelector
	poolOnly   bool
	logger     *logger.Logger
}

// StickyOption configures a StickySessionManager
type StickyOption func(*StickySessionManager)

// RestrictToPool makes cookies naming an address outside the configured pool
// fall back to round robin instead of being honoured.
func RestrictToPool() StickyOption {
	return func(s *StickySessionManager) {
		s.poolOnly = true
	}
}

// NewStickySessionManager creates a manager for the given cookie name
func NewStickySessionManager(cookieName string, selector domain.BackendSelector, logger *logger.Logger, opts ...StickyOption) *StickySessionManager {
	s := &StickySessionManager{
		cookieName: cookieName,
		selector:   selector,
		logger:     logger.Component("load_balancer").WithField("cookie", cookieName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BackendFromCookie extracts the pinned backend from a Cookie header value.
// It returns false when the cookie is absent or its value is not host:port.
func (s *StickySessionManager) BackendFromCookie(cookieHeader string) (domain.BackendAddress, bool) {
	prefix := s.cookieName + "="

	for _, cookie := range strings.Split(cookieHeader, ";") {
		cookie = strings.TrimSpace(cookie)
		if !strings.HasPrefix(cookie, prefix) {
			continue
		}

		value := cookie[len(prefix):]
		addr, err := domain.ParseBackendAddress(value)
		if err != nil {
			s.logger.WithError(err).WithField("value", value).Debug("Malformed sticky cookie")
			return domain.BackendAddress{}, false
		}
		return addr, true
	}

	return domain.BackendAddress{}, false
}

// Resolve picks the backend for a request. A cookie naming an available backend
// pins the request there without issuing a new cookie; otherwise round robin
// chooses and the response must carry a fresh affinity cookie.
//
// Without RestrictToPool any reachable host:port in the cookie is honoured, so the
// cookie value can steer a connection to an address outside the pool.
func (s *StickySessionManager) Resolve(ctx context.Context, headers map[string]string) domain.Selection {
	if cookieHeader, ok := headers["Cookie"]; ok {
		if pinned, ok := s.BackendFromCookie(cookieHeader); ok {
			switch {
			case s.poolOnly && !s.inPool(pinned):
				s.logger.WithField("backend", pinned.String()).Info("Sticky backend is not in the pool")
			case s.selector.IsAvailable(ctx, pinned):
				s.logger.WithField("backend", pinned.String()).Debug("Using sticky backend")
				return domain.Selection{Backend: pinned, Sticky: true}
			default:
				s.logger.WithField("backend", pinned.String()).Info("Sticky backend is unavailable")
			}
		}
	}

	backend, found := s.selector.SelectRoundRobin(ctx)
	return domain.Selection{Backend: backend, SetCookie: true, Fallback: !found}
}

func (s *StickySessionManager) inPool(addr domain.BackendAddress) bool {
	for _, b := range s.selector.Backends() {
		if b == addr {
			return true
		}
	}
	return false
}

// CookieHeader renders the Set-Cookie header line (without line terminator) pinning addr
func (s *StickySessionManager) CookieHeader(addr domain.BackendAddress) string {
	return fmt.Sprintf("Set-Cookie: %s=%s; Path=/", s.cookieName, addr.String())
}
