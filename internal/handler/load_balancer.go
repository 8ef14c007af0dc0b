package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	lberrors "github.com/mir00r/stickylb/internal/errors"
	"github.com/mir00r/stickylb/internal/service"
	"github.com/mir00r/stickylb/pkg/logger"
)

// Outcome is the terminal state of one client connection
type Outcome string

const (
	OutcomeDropped             Outcome = "dropped"
	OutcomeCacheHit            Outcome = "cache_hit"
	OutcomeResponded           Outcome = "responded"
	OutcomeRespondedWithCookie Outcome = "responded_with_cookie"
	OutcomeTimeout             Outcome = "responded_504"
	OutcomeError               Outcome = "responded_502"
)

// Result describes how a connection was handled
type Result struct {
	Outcome   Outcome
	Path      string
	Backend   domain.BackendAddress
	Sticky    bool
	Fallback  bool
	CookieSet bool
	Cached    bool
}

// Options holds the per-connection bounds of the handler
type Options struct {
	ClientReadTimeout time.Duration
	BufferSize        int
}

// LoadBalancerHandler runs the routing pipeline for raw client connections:
// read, parse, cache lookup, backend selection, forward, rewrite, cache store, respond.
type LoadBalancerHandler struct {
	sticky    *service.StickySessionManager
	forwarder *Forwarder
	cache     domain.CacheRepository
	metrics   domain.Metrics
	logger    *logger.Logger
	options   Options
}

// NewLoadBalancerHandler creates a new load balancer handler. cache may be nil to
// disable response caching.
func NewLoadBalancerHandler(
	sticky *service.StickySessionManager,
	forwarder *Forwarder,
	cache domain.CacheRepository,
	metrics domain.Metrics,
	logger *logger.Logger,
	options Options,
) *LoadBalancerHandler {
	if options.BufferSize <= 0 {
		options.BufferSize = DefaultBufferSize
	}
	return &LoadBalancerHandler{
		sticky:    sticky,
		forwarder: forwarder,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		options:   options,
	}
}

// Serve handles a single client connection and always closes it. Any failure that
// escapes the pipeline, including a panic, is answered with a best-effort 502.
func (h *LoadBalancerHandler) Serve(ctx context.Context, conn net.Conn) (result Result) {
	log := h.logger.ConnectionLogger(conn.RemoteAddr().String())
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Error handling client")
			h.respondError(conn, 502, log)
			result.Outcome = OutcomeError
		}
	}()

	result, err := h.handle(ctx, conn, log)
	if err != nil {
		log.WithError(err).WithField("error_code", string(lberrors.GetErrorCode(err))).Error("Error handling client")
		h.respondError(conn, 502, log)
		result.Outcome = OutcomeError
	}

	log.WithFields(map[string]interface{}{
		"outcome": string(result.Outcome),
		"path":    result.Path,
	}).Debug("Connection closed")
	return result
}

// handle runs the pipeline. A returned error is request-fatal; every other failure
// has already been answered or deliberately dropped.
func (h *LoadBalancerHandler) handle(ctx context.Context, conn net.Conn, log *logger.Logger) (Result, error) {
	raw, err := ReadMessage(conn, h.options.ClientReadTimeout, h.options.BufferSize)
	if err != nil {
		log.WithError(err).Debug("Failed to receive request")
		return Result{Outcome: OutcomeDropped}, nil
	}
	if len(raw) == 0 {
		return Result{Outcome: OutcomeDropped}, nil
	}

	req, err := ParseRequest(raw)
	if err != nil {
		log.WithError(err).Debug("Dropping unparsable request")
		return Result{Outcome: OutcomeDropped}, nil
	}

	result := Result{Path: req.Path}
	log = log.WithFields(map[string]interface{}{
		"method": req.Method,
		"path":   req.Path,
	})

	cacheable := h.cache != nil && h.cache.IsCacheable(req.Path)
	if cacheable {
		cached, hit, err := h.cache.Get(req.Path)
		if err != nil {
			if !errors.Is(err, lberrors.ErrCachePersistence) {
				return result, err
			}
			log.WithError(err).Warn("Cache read error, treating as miss")
		}
		if hit {
			log.Info("Cache hit")
			h.metrics.RecordCacheHit()
			result.Outcome = OutcomeCacheHit
			h.write(conn, cached, log)
			return result, nil
		}
		log.Info("Cache miss")
		h.metrics.RecordCacheMiss()
	}

	selection := h.sticky.Resolve(ctx, req.Headers)
	result.Backend = selection.Backend
	result.Sticky = selection.Sticky
	result.Fallback = selection.Fallback
	backendID := selection.Backend.String()
	log = log.WithField("backend", backendID)
	if selection.Fallback {
		noBackends := lberrors.NewNoBackendsError(backendID)
		log = log.WithField("selection_code", string(noBackends.Code))
		log.WithError(noBackends).Warn("No backend is up, forwarding to fallback")
	}

	h.metrics.IncrementRequests(backendID)
	start := time.Now()
	response, err := h.forwarder.Forward(ctx, selection.Backend, req.Raw)
	h.metrics.RecordLatency(backendID, time.Since(start))

	if err != nil {
		h.metrics.IncrementErrors(backendID)
		code := lberrors.GetHTTPStatusCode(err)
		log.WithError(err).WithField("status_code", code).Warn("Backend request failed")
		h.respondError(conn, code, log)
		if code == 504 {
			result.Outcome = OutcomeTimeout
		} else {
			result.Outcome = OutcomeError
		}
		return result, nil
	}

	result.Outcome = OutcomeResponded
	if selection.SetCookie && response.IsOK() {
		log.Debug("Adding sticky session cookie")
		response = InjectCookie(response, h.sticky.CookieHeader(selection.Backend))
		result.CookieSet = true
		result.Outcome = OutcomeRespondedWithCookie
	}

	if cacheable && response.IsOK() {
		if err := h.cache.Put(req.Path, response); err != nil {
			if !errors.Is(err, lberrors.ErrCachePersistence) {
				return result, err
			}
			log.WithError(err).Warn("Cache write error, skipping cache")
		} else {
			result.Cached = true
			log.Info("Response cached")
		}
	}

	h.write(conn, response, log)
	return result, nil
}

func (h *LoadBalancerHandler) write(conn net.Conn, data []byte, log *logger.Logger) {
	if _, err := conn.Write(data); err != nil {
		log.WithError(err).Debug("Failed to write response to client")
	}
}

func (h *LoadBalancerHandler) respondError(conn net.Conn, code int, log *logger.Logger) {
	h.metrics.RecordGatewayError(code)
	if err := WriteErrorPage(conn, code, ""); err != nil {
		log.WithError(err).Debug("Error sending error response")
	}
}
