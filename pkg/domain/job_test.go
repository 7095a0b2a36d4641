package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithFailureRetriesWhenBudgetRemains(t *testing.T) {
	j := ProcessingJob{ID: "j1", Status: JobStatusRunning, RetryCount: 0, MaxRetries: 3}
	next := j.WithFailure("upstream 503")
	assert.Equal(t, JobStatusPending, next.Status)
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, "upstream 503", next.LastError)
}

func TestWithFailureFailsWhenRetriesExhausted(t *testing.T) {
	j := ProcessingJob{ID: "j1", Status: JobStatusRunning, RetryCount: 2, MaxRetries: 2}
	next := j.WithFailure("upstream 503")
	assert.Equal(t, JobStatusFailed, next.Status)
	assert.Equal(t, 2, next.RetryCount)
}

func TestAttemptsAllowedIsMaxRetriesPlusOne(t *testing.T) {
	j := ProcessingJob{MaxRetries: 2}
	assert.Equal(t, 3, j.AttemptsAllowed())
}

func TestWithCompletionSetsTerminalStatus(t *testing.T) {
	j := ProcessingJob{ID: "j1", Status: JobStatusRunning}
	now := time.Now()
	next := j.WithCompletion(now)
	assert.Equal(t, JobStatusCompleted, next.Status)
	assert.True(t, next.Status.IsTerminal())
	assert.Equal(t, now, *next.CompletedAt)
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
}
