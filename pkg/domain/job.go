package domain

import "time"

// JobType tags the operation a ProcessingJob dispatches to.
type JobType int

const (
	JobTypeConsentProcessing JobType = iota
	JobTypeAccountSync
	JobTypeAccountBalanceUpdate
	JobTypeResourceSync
	JobTypeResourceValidation
	JobTypeResourceMonitoring
	JobTypeCustom
)

func (t JobType) String() string {
	switch t {
	case JobTypeConsentProcessing:
		return "CONSENT_PROCESSING"
	case JobTypeAccountSync:
		return "ACCOUNT_SYNC"
	case JobTypeAccountBalanceUpdate:
		return "ACCOUNT_BALANCE_UPDATE"
	case JobTypeResourceSync:
		return "RESOURCE_SYNC"
	case JobTypeResourceValidation:
		return "RESOURCE_VALIDATION"
	case JobTypeResourceMonitoring:
		return "RESOURCE_MONITORING"
	default:
		return "CUSTOM"
	}
}

// JobStatus is a ProcessingJob's lifecycle state.
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusCancelled
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "PENDING"
	case JobStatusRunning:
		return "RUNNING"
	case JobStatusCompleted:
		return "COMPLETED"
	case JobStatusFailed:
		return "FAILED"
	case JobStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is ever observed
// once a job reaches this status (spec.md §3 invariant i, §8 invariant 2).
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ProcessingJob is a single unit of scheduled work. A job reaches
// COMPLETED or FAILED at most once; RetryCount never exceeds MaxRetries.
type ProcessingJob struct {
	ID           string
	JobType      JobType
	TargetID     string
	Status       JobStatus
	RetryCount   int
	MaxRetries   int
	Payload      string
	LastError    string
	ScheduledAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// CanRetry reports whether a failed execution of this job may be
// retried rather than marked FAILED outright (spec.md §3 invariant iii).
func (j ProcessingJob) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// WithFailure returns the job as it should be persisted after a failed
// attempt: back to PENDING with an incremented RetryCount if retries
// remain, otherwise FAILED with RetryCount unchanged (the job has
// already used its last attempt).
func (j ProcessingJob) WithFailure(errMessage string) ProcessingJob {
	next := j
	next.LastError = errMessage
	if j.CanRetry() {
		next.RetryCount++
		next.Status = JobStatusPending
	} else {
		next.Status = JobStatusFailed
	}
	return next
}

// WithCompletion returns the job marked COMPLETED with a completion
// timestamp.
func (j ProcessingJob) WithCompletion(at time.Time) ProcessingJob {
	next := j
	next.Status = JobStatusCompleted
	next.CompletedAt = &at
	return next
}

// AttemptsAllowed is the maximum number of times this job may ever be
// executed: the initial attempt plus MaxRetries retries (spec.md §8
// invariant 3).
func (j ProcessingJob) AttemptsAllowed() int {
	return j.MaxRetries + 1
}

// Batch is an ordered sequence of ProcessingJobs fetched atomically
// from the queue. Its lifetime equals one invocation of the Structured
// Batch Executor.
type Batch struct {
	Jobs []ProcessingJob
}
