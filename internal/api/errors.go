package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed request.
type Kind int

const (
	KindNetwork      Kind = iota + 1 // Transport failure, timeout or cancellation
	KindUnauthorized                 // 401 or 403
	KindNotFound                     // 404
	KindServer                       // 5xx or 429
	KindInvalid                      // Other 4xx, or a response that could not be decoded
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// KindForStatus maps an HTTP status code of a failed response to a Kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		return KindServer
	default:
		return KindInvalid
	}
}

// RequestError is returned by every Client method that fails.
type RequestError struct {
	Op         string // Operation, e.g. "get alerts"
	Kind       Kind
	StatusCode int    // Zero when no response was received
	Body       []byte // Response body, if any
	Err        error  // Underlying cause
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should trigger a retry.
func (e *RequestError) IsRetryable() bool {
	return e.Kind == KindServer
}

// KindOf returns the Kind of err, or zero when err is not a *RequestError.
func KindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsNotFound reports whether err is a RequestError of KindNotFound.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnauthorized reports whether err is a RequestError of KindUnauthorized.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}
