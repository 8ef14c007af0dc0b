package handler

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/internal/service"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an origin server on a loopback port that answers every request
// with a canned response produced by respond.
type fakeBackend struct {
	listener net.Listener
	addr     domain.BackendAddress
	hits     int64
	respond  func(request []byte) []byte

	mu       sync.Mutex
	requests [][]byte
}

func startBackend(t *testing.T, respond func(request []byte) []byte) *fakeBackend {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &fakeBackend{
		listener: listener,
		addr:     domain.BackendAddress{Host: "127.0.0.1", Port: listener.Addr().(*net.TCPAddr).Port},
		respond:  respond,
	}
	t.Cleanup(func() { listener.Close() })

	go b.serve()
	return b
}

func (b *fakeBackend) serve() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			request, err := ReadMessage(conn, 2*time.Second, DefaultBufferSize)
			if err != nil || len(request) == 0 {
				// availability probes connect and close without a payload
				return
			}
			atomic.AddInt64(&b.hits, 1)
			b.mu.Lock()
			b.requests = append(b.requests, request)
			b.mu.Unlock()

			if response := b.respond(request); response != nil {
				conn.Write(response)
			}
		}(conn)
	}
}

func (b *fakeBackend) Hits() int {
	return int(atomic.LoadInt64(&b.hits))
}

func (b *fakeBackend) LastRequest() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil
	}
	return b.requests[len(b.requests)-1]
}

// staticResponse answers with a fixed status and body
func staticResponse(status, body string) func([]byte) []byte {
	return func([]byte) []byte {
		return []byte("HTTP/1.1 " + status + "\r\n" +
			"Content-Type: text/html\r\n" +
			"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
			"Connection: close\r\n\r\n" + body)
	}
}

// silentBackend accepts connections and never answers until the test ends
func silentBackend(t *testing.T) *fakeBackend {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	return startBackend(t, func([]byte) []byte {
		<-done
		return nil
	})
}

// closedAddress returns a loopback address with nothing listening on it
func closedAddress(t *testing.T) domain.BackendAddress {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := domain.BackendAddress{Host: "127.0.0.1", Port: listener.Addr().(*net.TCPAddr).Port}
	listener.Close()
	return addr
}

type testRig struct {
	handler *LoadBalancerHandler
	metrics *service.Metrics
}

func newRig(t *testing.T, backends []domain.BackendAddress, cache domain.CacheRepository, requestTimeout time.Duration) *testRig {
	t.Helper()

	log := logger.Discard()
	prober := service.NewTCPProber(500*time.Millisecond, log)
	pool := service.NewBackendPool(backends, prober, log)
	sticky := service.NewStickySessionManager("sticky_backend", pool, log)
	forwarder := NewForwarder(time.Second, requestTimeout, DefaultBufferSize, log)
	metrics := service.NewMetrics()

	return &testRig{
		handler: NewLoadBalancerHandler(sticky, forwarder, cache, metrics, log, Options{
			ClientReadTimeout: time.Second,
		}),
		metrics: metrics,
	}
}

// roundTrip sends request over an in-memory connection and returns everything
// the handler wrote before closing it.
func (r *testRig) roundTrip(t *testing.T, request string) (string, Result) {
	t.Helper()

	server, client := net.Pipe()
	done := make(chan Result, 1)
	go func() { done <- r.handler.Serve(context.Background(), server) }()
	go client.Write([]byte(request))

	client.SetReadDeadline(time.Now().Add(10 * time.Second))
	response, _ := io.ReadAll(client)
	client.Close()

	return string(response), <-done
}

func get(path string, headers ...string) string {
	request := "GET " + path + " HTTP/1.1\r\nHost: localhost:8000\r\n"
	for _, h := range headers {
		request += h + "\r\n"
	}
	return request + "\r\n"
}
