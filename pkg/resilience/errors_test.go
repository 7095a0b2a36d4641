package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPErrorByStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		httpStatus int
		expected   ErrorKind
	}{
		{"5xx is upstream5xx", errors.New("internal error"), 503, KindUpstream5xx},
		{"4xx is upstream4xx", errors.New("bad request"), 400, KindUpstream4xx},
		{"timeout overrides status", context.DeadlineExceeded, 0, KindUpstreamTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyHTTPError(tt.err, tt.httpStatus, "institution-client")
			assert.Equal(t, tt.expected, classified.Kind)
		})
	}
}

func TestRetryable429IsTheOneRetryable4xx(t *testing.T) {
	tooMany := ClassifyHTTPError(errors.New("rate limited"), http.StatusTooManyRequests, "institution-client")
	assert.True(t, tooMany.Retryable())

	badRequest := ClassifyHTTPError(errors.New("bad request"), http.StatusBadRequest, "institution-client")
	assert.False(t, badRequest.Retryable())
}

func TestUpstream5xxAndTimeoutAreRetryable(t *testing.T) {
	assert.True(t, KindUpstream5xx.Retryable(0))
	assert.True(t, KindUpstreamTimeout.Retryable(0))
	assert.True(t, KindPersistenceError.Retryable(0))
}

func TestValidationAndInvariantAreNeverRetryable(t *testing.T) {
	assert.False(t, KindValidationError.Retryable(0))
	assert.False(t, KindInvariantViolation.Retryable(0))
	assert.False(t, KindAdmissionDenied.Retryable(0))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	root := errors.New("root cause")
	classified := NewPersistenceError(root, "repository")
	assert.ErrorIs(t, classified, root)
}
