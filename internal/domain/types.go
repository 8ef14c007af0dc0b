package domain

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BackendAddress identifies an origin server by host and port.
// It is a comparable value type and is never mutated after configuration.
type BackendAddress struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// String returns the address in host:port form, which is also the sticky cookie value
func (a BackendAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// ParseBackendAddress parses a "host:port" value.
// The value must contain exactly one colon and an integer port.
func ParseBackendAddress(value string) (BackendAddress, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return BackendAddress{}, fmt.Errorf("backend address %q: expected host:port", value)
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return BackendAddress{}, fmt.Errorf("backend address %q: invalid port: %w", value, err)
	}

	return BackendAddress{Host: parts[0], Port: port}, nil
}

// Request is a decoded client request. It lives for the duration of one connection.
type Request struct {
	Method  string
	Target  string
	Path    string
	Headers map[string]string
	// Raw holds the exact bytes received from the client; they are forwarded unchanged.
	Raw []byte
}

// RawResponse is a backend response kept verbatim (status line, headers, body)
type RawResponse []byte

// StatusLine returns the first line of the response without the line terminator
func (r RawResponse) StatusLine() string {
	line := []byte(r)
	if i := bytes.Index(line, []byte("\r\n")); i >= 0 {
		line = line[:i]
	}
	return string(line)
}

// StatusCode returns the status code token of the status line, or "" if absent
func (r RawResponse) StatusCode() string {
	fields := strings.Fields(r.StatusLine())
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// IsOK reports whether the status code of the response is exactly 200
func (r RawResponse) IsOK() bool {
	return r.StatusCode() == "200"
}

// Selection is the routing decision for a single request
type Selection struct {
	Backend BackendAddress
	// Sticky is true when the affinity cookie named an available backend.
	Sticky bool
	// SetCookie is true when a new affinity cookie must be issued on a 200 response.
	SetCookie bool
	// Fallback is true when no backend was up and the first configured one was used.
	Fallback bool
}

// CacheEntry describes a stored response on disk
type CacheEntry struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// Prober checks whether a backend accepts TCP connections
type Prober interface {
	Probe(ctx context.Context, addr BackendAddress) bool
}

// BackendSelector picks a backend by round robin
type BackendSelector interface {
	// SelectRoundRobin returns the next available backend. When none is available it
	// returns the first configured backend and false.
	SelectRoundRobin(ctx context.Context) (BackendAddress, bool)
	IsAvailable(ctx context.Context, addr BackendAddress) bool
	Backends() []BackendAddress
}

// CacheRepository persists verbatim responses keyed by request path
type CacheRepository interface {
	IsCacheable(path string) bool
	Get(path string) ([]byte, bool, error)
	Put(path string, raw []byte) error
	List() ([]CacheEntry, error)
}

// Metrics defines the interface for collecting and reporting metrics
type Metrics interface {
	IncrementRequests(backendID string)
	IncrementErrors(backendID string)
	RecordLatency(backendID string, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	RecordGatewayError(statusCode int)
	GetStats() map[string]interface{}
	GetBackendStats(backendID string) map[string]interface{}
}
