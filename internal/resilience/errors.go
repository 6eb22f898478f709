// Package resilience provides the retry, backoff and failure-classification
// primitives used for every external backend call.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a failure that is safe to retry (429, 5xx, network
// flakiness). The retry loop only sleeps and retries for these.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// ShapeError reports that the backend rejected the shape of a request: an
// unsupported capability identifier, or a specific optional parameter.
// Shape errors are never retried; the fallback cascade reacts by changing
// the request variant instead.
type ShapeError struct {
	Err error
	// Param names the rejected optional parameter, empty when the whole
	// capability identifier was refused.
	Param string
}

func (e *ShapeError) Error() string { return e.Err.Error() }

func (e *ShapeError) Unwrap() error { return e.Err }

// NewShapeError wraps a backend rejection of a capability or parameter.
func NewShapeError(err error, param string) *ShapeError {
	return &ShapeError{Err: err, Param: param}
}

// TimeoutError marks a per-call deadline expiry. Timeouts are always
// retryable and kept distinct from other transport failures so callers can
// report them precisely.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return e.Err.Error() }

func (e *TimeoutError) Unwrap() error { return e.Err }

// NewTimeoutError wraps a deadline expiry.
func NewTimeoutError(err error) *TimeoutError {
	return &TimeoutError{Err: err}
}

// Outcome tags a call result so the retry/fallback executor can branch on an
// explicit classification instead of re-inspecting error chains.
type Outcome int

const (
	// OutcomeOK means the call succeeded.
	OutcomeOK Outcome = iota
	// OutcomeTransient means the failure is retryable in place.
	OutcomeTransient
	// OutcomeShape means the backend rejected the request shape; the
	// executor should move to the next request variant.
	OutcomeShape
	// OutcomeFatal means the failure is neither retryable nor recoverable
	// by reshaping the request.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTransient:
		return "transient"
	case OutcomeShape:
		return "shape"
	default:
		return "fatal"
	}
}

// Classify maps an error to its Outcome tag.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsShape(err):
		return OutcomeShape
	case IsTransient(err):
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}

// IsShape reports whether the error chain contains a ShapeError.
func IsShape(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}

// ShapeParam returns the rejected parameter name from a shape error, or ""
// when the error is not a shape error or rejected the whole capability.
func ShapeParam(err error) string {
	var se *ShapeError
	if errors.As(err, &se) {
		return se.Param
	}
	return ""
}

// IsTransient reports whether the error (or anything in its chain) is safe
// to retry: an explicit TransientError or TimeoutError, a network timeout,
// a connection-level failure, or a known transient transport pattern.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var to *TimeoutError
	if errors.As(err, &to) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"overloaded",
		"rate limit",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
