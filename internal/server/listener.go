package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mir00r/stickylb/internal/handler"
	"github.com/mir00r/stickylb/pkg/logger"
	"golang.org/x/time/rate"
)

// ConnectionHandler serves one accepted client connection and closes it
type ConnectionHandler interface {
	Serve(ctx context.Context, conn net.Conn) handler.Result
}

// Config holds the listener configuration
type Config struct {
	Address string
	// MaxConnections bounds the connections served at once; further clients
	// wait in the kernel accept queue.
	MaxConnections  int
	ShutdownTimeout time.Duration

	RateLimitEnabled     bool
	ConnectionsPerSecond float64
	BurstSize            int
}

// Server accepts raw TCP connections and hands each one to a ConnectionHandler
// on its own goroutine.
type Server struct {
	config  Config
	handler ConnectionHandler
	limiter *rate.Limiter
	slots   chan struct{}
	logger  *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	wg       sync.WaitGroup

	accepted int64
	rejected int64
	active   int64
}

// New creates a server. It does not listen until Serve is called.
func New(config Config, handler ConnectionHandler, logger *logger.Logger) *Server {
	if config.MaxConnections <= 0 {
		config.MaxConnections = 1000
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		config:  config,
		handler: handler,
		slots:   make(chan struct{}, config.MaxConnections),
		logger:  logger.Component("load_balancer"),
		ready:   make(chan struct{}),
	}

	if config.RateLimitEnabled {
		burst := config.BurstSize
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.ConnectionsPerSecond), burst)
	}

	return s
}

// ListenAndServe binds the configured address and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled, then waits for
// in-flight connections up to the shutdown timeout. It owns and closes listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	s.logger.WithFields(map[string]interface{}{
		"address":         listener.Addr().String(),
		"max_connections": s.config.MaxConnections,
		"rate_limited":    s.limiter != nil,
	}).Info("Load balancer listening")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-stop:
		}
	}()

	err := s.acceptLoop(ctx, listener)
	listener.Close()

	if ctx.Err() != nil {
		return s.drain()
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			<-s.slots
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.WithError(err).Warn("Temporary accept error")
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if s.limiter != nil && !s.limiter.Allow() {
			atomic.AddInt64(&s.rejected, 1)
			s.logger.WithField("client", conn.RemoteAddr().String()).Warn("Connection rate limit exceeded, closing connection")
			conn.Close()
			<-s.slots
			continue
		}

		atomic.AddInt64(&s.accepted, 1)
		atomic.AddInt64(&s.active, 1)
		s.wg.Add(1)
		// In-flight connections outlive the shutdown signal and are bounded by drain.
		connCtx := context.WithoutCancel(ctx)
		go func() {
			defer func() {
				atomic.AddInt64(&s.active, -1)
				<-s.slots
				s.wg.Done()
			}()
			s.handler.Serve(connCtx, conn)
		}()
	}
}

// drain waits for in-flight connections to finish
func (s *Server) drain() error {
	s.logger.WithField("active", atomic.LoadInt64(&s.active)).Info("Shutting down, waiting for active connections")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		return fmt.Errorf("shutdown timed out with %d active connections", atomic.LoadInt64(&s.active))
	}
}

// Addr blocks until the server is listening and returns its address
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

// GetStats returns connection counters
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"accepted_connections": atomic.LoadInt64(&s.accepted),
		"rejected_connections": atomic.LoadInt64(&s.rejected),
		"active_connections":   atomic.LoadInt64(&s.active),
	}
}
