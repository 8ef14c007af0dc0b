package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	lberrors "github.com/mir00r/stickylb/internal/errors"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardReturnsVerbatimResponse(t *testing.T) {
	backend := startBackend(t, staticResponse("200 OK", "hello"))
	forwarder := NewForwarder(time.Second, time.Second, DefaultBufferSize, logger.Discard())

	response, err := forwarder.Forward(context.Background(), backend.addr, []byte(get("/")))

	require.NoError(t, err)
	assert.True(t, response.IsOK())
	assert.Equal(t, string(staticResponse("200 OK", "hello")(nil)), string(response))
}

func TestForwardSilentBackendIsTimeout(t *testing.T) {
	backend := silentBackend(t)
	forwarder := NewForwarder(time.Second, 100*time.Millisecond, DefaultBufferSize, logger.Discard())

	_, err := forwarder.Forward(context.Background(), backend.addr, []byte(get("/")))

	assert.ErrorIs(t, err, lberrors.ErrBackendTimeout)
	assert.Equal(t, 504, lberrors.GetHTTPStatusCode(err))
}

func TestForwardClosedConnectionIsUnavailable(t *testing.T) {
	forwarder := NewForwarder(time.Second, time.Second, DefaultBufferSize, logger.Discard())
	backend := domain.BackendAddress{Host: "127.0.0.1", Port: 8001}

	conn, peer := net.Pipe()
	peer.Close()
	conn.Close()

	_, err := forwarder.exchange(conn, backend, []byte(get("/")), logger.Discard())

	require.Error(t, err)
	assert.Equal(t, lberrors.ErrCodeBackendUnavailable, lberrors.GetErrorCode(err))
	assert.Equal(t, 502, lberrors.GetHTTPStatusCode(err))
}
