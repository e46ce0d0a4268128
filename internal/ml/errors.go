package ml

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingAPIKey is returned by executors configured without a credential.
// No network call is attempted.
var ErrMissingAPIKey = errors.New("AI backend credential is not configured")

// NetworkError is a transport-level failure talking to the AI backend.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means the backend did not answer before the call deadline.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("AI request timed out after %s", e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// APIError is the error object a backend returns in its response body.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// BackendError carries a well-formed error payload from the AI service.
type BackendError struct {
	StatusCode int
	Payload    APIError
}

func (e *BackendError) Error() string {
	base := "backend error"
	if e.StatusCode > 0 {
		base += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Payload.Status != "" {
		base += " [" + e.Payload.Status + "]"
	}
	if e.Payload.Message != "" {
		base += ": " + e.Payload.Message
	}
	return base
}

// EmptyContentError means the backend answered without any usable text,
// e.g. because no candidate was produced.
type EmptyContentError struct {
	Reason string
}

func (e *EmptyContentError) Error() string {
	if e.Reason == "" {
		return "empty content in AI response"
	}
	return "empty content in AI response: " + e.Reason
}

// MalformedResponseError means the model produced text that violates the
// verdict contract.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed AI response: %s: %v", e.Reason, e.Err)
	}
	return "malformed AI response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Outcome names the error class for logs and metrics.
func Outcome(err error) string {
	var (
		netErr     *NetworkError
		timeoutErr *TimeoutError
		backendErr *BackendError
		emptyErr   *EmptyContentError
		malformed  *MalformedResponseError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingAPIKey):
		return "unconfigured"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &backendErr):
		return "backend"
	case errors.As(err, &emptyErr):
		return "empty"
	case errors.As(err, &malformed):
		return "malformed"
	default:
		return "error"
	}
}
