// Package repository defines the persistence port used by the pipeline
// and job worker (spec.md §6). pkg/repository/postgres and
// pkg/repository/memory are the two implementations.
package repository

import (
	"context"
	"time"

	"resourcecore/pkg/domain"
)

// JobRepository is the persistence port for ProcessingJob rows.
// FetchNextBatch must be atomic and non-overlapping across callers —
// including across independent core replicas sharing one database.
//
// spec.md §6 names both the job and resource status setters
// "updateStatus" and the job creator "save" with no qualifier; Go
// interfaces can't carry two methods of the same name with different
// signatures, so this port spells them UpdateJobStatus/UpdateResourceStatus
// and SaveJob/SaveResource — same operations, disambiguated names.
type JobRepository interface {
	FetchNextBatch(ctx context.Context, limit int) ([]domain.ProcessingJob, error)
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error
	IncrementRetryCount(ctx context.Context, id string, lastError string) error
	MarkJobCompleted(ctx context.Context, id string, completedAt time.Time) error
	MarkJobFailed(ctx context.Context, id string, errorMessage string) error
	CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error)
	SaveJob(ctx context.Context, job domain.ProcessingJob) error
}

// ResourceRepository is the persistence port for Resource snapshots.
type ResourceRepository interface {
	SaveResource(ctx context.Context, resource domain.Resource) error
	SaveAllResources(ctx context.Context, resources []domain.Resource) error
	FindByID(ctx context.Context, resourceID string) (domain.Resource, bool, error)
	FindByStatus(ctx context.Context, status domain.ResourceStatus) ([]domain.Resource, error)
	FindByOrganizationID(ctx context.Context, organizationID string) ([]domain.Resource, error)
	FindResourcesNeedingSync(ctx context.Context, threshold time.Time) ([]domain.Resource, error)
	FindResourcesNeedingValidation(ctx context.Context, threshold time.Time) ([]domain.Resource, error)
	FindResourcesNeedingMonitoring(ctx context.Context, threshold time.Time) ([]domain.Resource, error)
	UpdateResourceStatus(ctx context.Context, resourceID string, status domain.ResourceStatus) error
	UpdateLastSyncAt(ctx context.Context, resourceID string, at time.Time) error
}

// Repository composes both ports; the job worker and pipeline stages
// depend on this single interface rather than wiring two collaborators.
type Repository interface {
	JobRepository
	ResourceRepository
}
