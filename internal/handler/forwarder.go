package handler

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	lberrors "github.com/mir00r/stickylb/internal/errors"
	"github.com/mir00r/stickylb/pkg/logger"
)

// Forwarder relays a raw request to a backend over a fresh connection.
// Connections are never reused.
type Forwarder struct {
	connectTimeout time.Duration
	requestTimeout time.Duration
	bufferSize     int
	logger         *logger.Logger
}

// NewForwarder creates a forwarder with the given dial and read bounds
func NewForwarder(connectTimeout, requestTimeout time.Duration, bufferSize int, logger *logger.Logger) *Forwarder {
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	return &Forwarder{
		connectTimeout: connectTimeout,
		requestTimeout: requestTimeout,
		bufferSize:     bufferSize,
		logger:         logger,
	}
}

// Forward sends raw to backend and returns the verbatim response.
// Errors carry ErrCodeBackendTimeout when a bound was exceeded, and
// ErrCodeBackendUnavailable or ErrCodeEmptyResponse otherwise.
func (f *Forwarder) Forward(ctx context.Context, backend domain.BackendAddress, raw []byte) (domain.RawResponse, error) {
	log := f.logger.BackendLogger(backend.String())

	dialer := net.Dialer{Timeout: f.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", backend.String())
	if err != nil {
		return nil, f.classify(backend, err)
	}
	defer conn.Close()

	return f.exchange(conn, backend, raw, log)
}

// exchange writes raw to an established backend connection and reads the reply
func (f *Forwarder) exchange(conn net.Conn, backend domain.BackendAddress, raw []byte, log *logger.Logger) (domain.RawResponse, error) {
	if f.requestTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(f.requestTimeout)); err != nil {
			return nil, f.classify(backend, err)
		}
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, f.classify(backend, err)
	}
	log.Debug("Request forwarded to backend")

	response, err := ReadMessage(conn, f.requestTimeout, f.bufferSize)
	if err != nil {
		return nil, f.classify(backend, err)
	}
	if len(response) == 0 {
		return nil, lberrors.NewEmptyResponseError(backend.String())
	}

	resp := domain.RawResponse(response)
	log.WithField("status", resp.StatusLine()).Debug("Received response from backend")
	return resp, nil
}

func (f *Forwarder) classify(backend domain.BackendAddress, err error) error {
	if isTimeout(err) {
		return lberrors.NewBackendTimeoutError(backend.String(), err)
	}
	return lberrors.NewBackendUnavailableError(backend.String(), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, lberrors.ErrReadTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
