package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorKind is the error taxonomy of spec.md §7.
type ErrorKind int

const (
	KindAdmissionDenied ErrorKind = iota
	KindUpstreamTimeout
	KindUpstream5xx
	KindUpstream4xx
	KindValidationError
	KindPersistenceError
	KindInvariantViolation
)

func (k ErrorKind) String() string {
	switch k {
	case KindAdmissionDenied:
		return "ADMISSION_DENIED"
	case KindUpstreamTimeout:
		return "UPSTREAM_TIMEOUT"
	case KindUpstream5xx:
		return "UPSTREAM_5XX"
	case KindUpstream4xx:
		return "UPSTREAM_4XX"
	case KindValidationError:
		return "VALIDATION_ERROR"
	case KindPersistenceError:
		return "PERSISTENCE_ERROR"
	default:
		return "INVARIANT_VIOLATION"
	}
}

// Retryable implements the retryability rules of spec.md §7: 429 is
// the one retryable 4xx; admission denial is not a failure at all and
// is never counted, handled separately by the caller.
func (k ErrorKind) Retryable(httpStatus int) bool {
	switch k {
	case KindUpstreamTimeout, KindUpstream5xx, KindPersistenceError:
		return true
	case KindUpstream4xx:
		return httpStatus == http.StatusTooManyRequests
	default:
		return false
	}
}

// ClassifiedError wraps an error with its ErrorKind classification.
type ClassifiedError struct {
	Err        error
	Kind       ErrorKind
	HTTPStatus int
	Component  string
	Timestamp  time.Time
}

func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s:%s] %v", ce.Component, ce.Kind.String(), ce.Err)
}

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// Retryable reports whether this specific error should trigger a
// retry (spec.md §7).
func (ce *ClassifiedError) Retryable() bool {
	return ce.Kind.Retryable(ce.HTTPStatus)
}

// ClassifyHTTPError classifies an institution-client error from an
// HTTP status code and/or transport error, per spec.md §7.
func ClassifyHTTPError(err error, httpStatus int, component string) *ClassifiedError {
	classified := &ClassifiedError{
		Err:        err,
		HTTPStatus: httpStatus,
		Component:  component,
		Timestamp:  time.Now(),
	}

	switch {
	case isTimeoutError(err):
		classified.Kind = KindUpstreamTimeout
	case httpStatus >= 500:
		classified.Kind = KindUpstream5xx
	case httpStatus >= 400:
		classified.Kind = KindUpstream4xx
	case isNetworkError(err):
		classified.Kind = KindUpstream5xx
	default:
		classified.Kind = KindInvariantViolation
	}

	return classified
}

// NewValidationError wraps a business-rule failure (spec.md §4.5.3).
func NewValidationError(err error, component string) *ClassifiedError {
	return &ClassifiedError{Err: err, Kind: KindValidationError, Component: component, Timestamp: time.Now()}
}

// NewPersistenceError wraps a repository-port failure.
func NewPersistenceError(err error, component string) *ClassifiedError {
	return &ClassifiedError{Err: err, Kind: KindPersistenceError, Component: component, Timestamp: time.Now()}
}

// NewInvariantViolation wraps an internal consistency error — fatal to
// the job but not to the worker loop (spec.md §7).
func NewInvariantViolation(err error, component string) *ClassifiedError {
	return &ClassifiedError{Err: err, Kind: KindInvariantViolation, Component: component, Timestamp: time.Now()}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
