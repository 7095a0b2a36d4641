package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"resourcecore/pkg/domain"
)

// FetchNextBatch selects up to limit PENDING jobs and marks them RUNNING
// in one transaction using SELECT ... FOR UPDATE SKIP LOCKED, so two
// callers — including two independent core replicas against the same
// database — never receive the same row (spec.md §9 open question,
// resolved as a hard repository invariant).
func (s *Store) FetchNextBatch(ctx context.Context, limit int) ([]domain.ProcessingJob, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch-fetch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, job_type, target_id, status, retry_count, max_retries,
		       payload, last_error, scheduled_at, started_at, completed_at
		FROM processing_jobs
		WHERE status = $1
		ORDER BY scheduled_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		domain.JobStatusPending.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select next batch: %w", err)
	}

	var jobs []domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading batch rows: %w", err)
	}

	now := time.Now()
	for i, job := range jobs {
		_, err := tx.Exec(ctx, `
			UPDATE processing_jobs SET status = $2, started_at = $3 WHERE id = $1`,
			job.ID, domain.JobStatusRunning.String(), now)
		if err != nil {
			return nil, fmt.Errorf("failed to mark job %s running: %w", job.ID, err)
		}
		job.Status = domain.JobStatusRunning
		job.StartedAt = &now
		jobs[i] = job
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit batch-fetch transaction: %w", err)
	}
	return jobs, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE processing_jobs SET status = $2 WHERE id = $1`, id, status.String())
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (s *Store) IncrementRetryCount(ctx context.Context, id string, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
		    status = CASE WHEN retry_count < max_retries THEN $2 ELSE $3 END,
		    last_error = $4
		WHERE id = $1`,
		id, domain.JobStatusPending.String(), domain.JobStatusFailed.String(), lastError)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return nil
}

func (s *Store) MarkJobCompleted(ctx context.Context, id string, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs SET status = $2, completed_at = $3 WHERE id = $1`,
		id, domain.JobStatusCompleted.String(), completedAt)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

func (s *Store) MarkJobFailed(ctx context.Context, id string, errorMessage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs SET status = $2, last_error = $3 WHERE id = $1`,
		id, domain.JobStatusFailed.String(), errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM processing_jobs WHERE status = $1`, status.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return count, nil
}

func (s *Store) SaveJob(ctx context.Context, job domain.ProcessingJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_jobs (
			id, job_type, target_id, status, retry_count, max_retries,
			payload, last_error, scheduled_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			last_error = EXCLUDED.last_error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		job.ID, job.JobType.String(), job.TargetID, job.Status.String(), job.RetryCount, job.MaxRetries,
		job.Payload, job.LastError, job.ScheduledAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	var jobType, status string
	err := row.Scan(
		&job.ID, &jobType, &job.TargetID, &status, &job.RetryCount, &job.MaxRetries,
		&job.Payload, &job.LastError, &job.ScheduledAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return domain.ProcessingJob{}, fmt.Errorf("failed to scan job row: %w", err)
	}
	job.JobType = parseJobType(jobType)
	job.Status = parseJobStatus(status)
	return job, nil
}

func parseJobType(s string) domain.JobType {
	switch s {
	case "CONSENT_PROCESSING":
		return domain.JobTypeConsentProcessing
	case "ACCOUNT_SYNC":
		return domain.JobTypeAccountSync
	case "ACCOUNT_BALANCE_UPDATE":
		return domain.JobTypeAccountBalanceUpdate
	case "RESOURCE_SYNC":
		return domain.JobTypeResourceSync
	case "RESOURCE_VALIDATION":
		return domain.JobTypeResourceValidation
	case "RESOURCE_MONITORING":
		return domain.JobTypeResourceMonitoring
	default:
		return domain.JobTypeCustom
	}
}

func parseJobStatus(s string) domain.JobStatus {
	switch s {
	case "PENDING":
		return domain.JobStatusPending
	case "RUNNING":
		return domain.JobStatusRunning
	case "COMPLETED":
		return domain.JobStatusCompleted
	case "FAILED":
		return domain.JobStatusFailed
	default:
		return domain.JobStatusCancelled
	}
}
