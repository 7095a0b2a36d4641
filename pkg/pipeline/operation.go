// Package pipeline implements the Operation Pipeline (C5): discovery,
// sync, validation, and monitoring operations, plus the job worker
// drain loop that dispatches ProcessingJobs to them.
package pipeline

import (
	"context"
	"errors"

	"resourcecore/pkg/domain"
)

// ErrAdmissionDenied means no permit was available for the requested
// class. Per spec.md §7 this is not a failure from the job's
// perspective: the caller leaves the job PENDING rather than counting
// a failed attempt.
var ErrAdmissionDenied = errors.New("admission denied: no permit available")

// Operation is one job-type handler in the pipeline, dispatched by
// JobType from the job worker drain loop.
type Operation interface {
	Execute(ctx context.Context, job domain.ProcessingJob) error
}

// noopOperation satisfies the dispatch contract for job types whose
// business logic is explicitly out of scope (consent/account CRUD
// beyond what the core schedules) — it only proves the type is
// recognized and dispatchable.
type noopOperation struct{}

func (noopOperation) Execute(ctx context.Context, job domain.ProcessingJob) error {
	return nil
}
