package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Infrastructure errors
	ErrCodeConfigLoad         ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeEmptyResponse      ErrorCode = "EMPTY_RESPONSE"
	ErrCodeNoBackends         ErrorCode = "NO_BACKENDS_AVAILABLE"

	// Request processing errors
	ErrCodeParse       ErrorCode = "PARSE_ERROR"
	ErrCodeReadTimeout ErrorCode = "READ_TIMEOUT"

	// Cache errors
	ErrCodeCachePersistence ErrorCode = "CACHE_PERSISTENCE_FAILED"
	ErrCodeFilesystem       ErrorCode = "FILESYSTEM_ERROR"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// LoadBalancerError represents a structured error with context
type LoadBalancerError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *LoadBalancerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *LoadBalancerError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *LoadBalancerError) Is(target error) bool {
	if t, ok := target.(*LoadBalancerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *LoadBalancerError) WithMetadata(key string, value interface{}) *LoadBalancerError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusCode returns the gateway status code sent to the client for this error.
// Timeouts map to 504; every other failure reaching the client is a 502.
func (e *LoadBalancerError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeBackendTimeout, ErrCodeReadTimeout:
		return 504
	default:
		return 502
	}
}

// NewError creates a new LoadBalancerError
func NewError(code ErrorCode, component, message string) *LoadBalancerError {
	return &LoadBalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with LoadBalancerError structure
func WrapError(err error, code ErrorCode, component, message string) *LoadBalancerError {
	if err == nil {
		return nil
	}

	return &LoadBalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// Common error constructors for frequently used errors

// NewParseError creates an error for a malformed request
func NewParseError(reason string) *LoadBalancerError {
	return NewError(ErrCodeParse, "parser", reason)
}

// NewBackendTimeoutError creates an error for a backend that did not answer in time
func NewBackendTimeoutError(backend string, cause error) *LoadBalancerError {
	return WrapError(cause, ErrCodeBackendTimeout, "forwarder",
		fmt.Sprintf("backend %s timed out", backend)).WithMetadata("backend", backend)
}

// NewBackendUnavailableError creates an error for unavailable backend
func NewBackendUnavailableError(backend string, cause error) *LoadBalancerError {
	return WrapError(cause, ErrCodeBackendUnavailable, "forwarder",
		fmt.Sprintf("backend %s is unavailable", backend)).WithMetadata("backend", backend)
}

// NewEmptyResponseError creates an error for a backend that closed without answering
func NewEmptyResponseError(backend string) *LoadBalancerError {
	return NewError(ErrCodeEmptyResponse, "forwarder",
		fmt.Sprintf("no response from backend %s", backend)).WithMetadata("backend", backend)
}

// NewNoBackendsError describes a selection made while every backend is down
func NewNoBackendsError(fallback string) *LoadBalancerError {
	return NewError(ErrCodeNoBackends, "selector",
		"no backends available").WithMetadata("fallback", fallback)
}

// NewConfigLoadError wraps a failure to load configuration from path
func NewConfigLoadError(path string, cause error) *LoadBalancerError {
	return WrapError(cause, ErrCodeConfigLoad, "config",
		fmt.Sprintf("failed to load configuration from %s", path)).WithMetadata("path", path)
}

// Sentinel values for errors.Is comparisons against a code.
var (
	ErrConfigLoad       = &LoadBalancerError{Code: ErrCodeConfigLoad}
	ErrReadTimeout      = &LoadBalancerError{Code: ErrCodeReadTimeout}
	ErrBackendTimeout   = &LoadBalancerError{Code: ErrCodeBackendTimeout}
	ErrEmptyResponse    = &LoadBalancerError{Code: ErrCodeEmptyResponse}
	ErrCachePersistence = &LoadBalancerError{Code: ErrCodeCachePersistence}
)

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var lbErr *LoadBalancerError
	if errors.As(err, &lbErr) {
		return lbErr.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatusCode gets the gateway status code for an error
func GetHTTPStatusCode(err error) int {
	var lbErr *LoadBalancerError
	if errors.As(err, &lbErr) {
		return lbErr.HTTPStatusCode()
	}
	return 502
}
