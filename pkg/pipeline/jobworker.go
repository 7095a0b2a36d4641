package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"resourcecore/pkg/adaptive"
	"resourcecore/pkg/batchexec"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/logging"
	"resourcecore/pkg/repository"
	"resourcecore/pkg/resilience"
)

// perClassDeadline is the per-item timeout named in spec.md §4.4,
// keyed by JobType; processOneBatch applies it to each job on its own.
var perClassDeadline = map[domain.JobType]time.Duration{
	domain.JobTypeResourceSync:       120 * time.Second,
	domain.JobTypeResourceValidation: 45 * time.Second,
	domain.JobTypeResourceMonitoring: 30 * time.Second,
}

const defaultJobDeadline = 30 * time.Second

// JobWorkerConfig bounds the drain loop's own behavior, independent of
// the per-job deadlines above.
type JobWorkerConfig struct {
	CPUHigh, MemHigh float64
	ShutdownGrace    time.Duration
}

// DefaultJobWorkerConfig mirrors adaptive.DefaultConfig()'s high
// thresholds and spec.md §4.5.5's 30s shutdown grace.
func DefaultJobWorkerConfig() JobWorkerConfig {
	return JobWorkerConfig{CPUHigh: 0.80, MemHigh: 0.85, ShutdownGrace: 30 * time.Second}
}

// JobWorker is the drain loop of spec.md §4.5.5: fetch a batch
// atomically, run it collect-all, persist per-job outcomes, sleep for
// the adaptive processing interval, repeat until stopped.
type JobWorker struct {
	repo       repository.JobRepository
	operations map[domain.JobType]Operation
	sampler    adaptive.HostSampler
	state      *adaptive.State
	config     JobWorkerConfig
	logger     *logging.Logger

	inFlight atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewJobWorker constructs a JobWorker. operations must have an entry
// for every domain.JobType the queue may contain; job types with no
// entry fall back to a no-op operation (consent/account CRUD business
// logic is out of scope — spec.md §1).
func NewJobWorker(
	repo repository.JobRepository,
	operations map[domain.JobType]Operation,
	sampler adaptive.HostSampler,
	state *adaptive.State,
	config JobWorkerConfig,
	logger *logging.Logger,
) *JobWorker {
	return &JobWorker{
		repo:       repo,
		operations: operations,
		sampler:    sampler,
		state:      state,
		config:     config,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the drain loop in its own goroutine.
func (w *JobWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the drain loop to stop fetching new batches and blocks
// until the in-flight batch finishes or the shutdown grace elapses
// (spec.md §4.5.5 step 2).
func (w *JobWorker) Stop() {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(w.config.ShutdownGrace):
		w.logger.Warn("job worker did not drain in-flight batch within shutdown grace", nil)
	}
}

func (w *JobWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.shouldProcessNow(ctx) {
			w.processOneBatch(ctx)
		}

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(w.state.ProcessingInterval()):
		}
	}
}

// shouldProcessNow implements spec.md §4.5.5 step a: false if CPU/mem
// are above their high thresholds, or a previous batch is still in
// flight. Per-class permit availability is checked implicitly — a job
// whose operation can't acquire its class permit returns
// ErrAdmissionDenied and is returned to PENDING (see handleResult).
func (w *JobWorker) shouldProcessNow(ctx context.Context) bool {
	if w.inFlight.Load() {
		return false
	}

	cpuLoad, err := w.sampler.CPULoad(ctx)
	if err == nil && cpuLoad > w.config.CPUHigh {
		return false
	}
	memUse, err := w.sampler.MemUsage(ctx)
	if err == nil && memUse > w.config.MemHigh {
		return false
	}
	return true
}

// RunBackupTrigger is the scheduled backup invocation (default every
// 60s) named in spec.md §4.5.5 — a no-op if a batch is already in
// flight, otherwise identical to one drain-loop iteration.
func (w *JobWorker) RunBackupTrigger(ctx context.Context) {
	if w.inFlight.Load() {
		return
	}
	w.processOneBatch(ctx)
}

func (w *JobWorker) processOneBatch(ctx context.Context) {
	w.inFlight.Store(true)
	defer w.inFlight.Store(false)

	batch, err := w.repo.FetchNextBatch(ctx, w.state.BatchSize())
	if err != nil {
		w.logger.Error("failed to fetch next job batch", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(batch) == 0 {
		return
	}

	items := make([]batchexec.Item, 0, len(batch))
	for _, job := range batch {
		job := job
		items = append(items, batchexec.FuncItem{
			IDValue: job.ID,
			Fn: func(ctx context.Context) error {
				itemCtx, cancel := context.WithTimeout(ctx, w.jobDeadline(job.JobType))
				defer cancel()
				return w.execute(itemCtx, job)
			},
		})
	}

	results := batchexec.RunCollectAll(ctx, items, 0)
	for i, result := range results {
		w.handleResult(ctx, batch[i], result)
	}
}

// jobDeadline returns the per-item timeout for one job's class. A batch
// mixes job types (fetchNextBatch orders one shared queue by
// scheduledAt), so each item gets its own deadline.
func (w *JobWorker) jobDeadline(jobType domain.JobType) time.Duration {
	if d, ok := perClassDeadline[jobType]; ok {
		return d
	}
	return defaultJobDeadline
}

func (w *JobWorker) execute(ctx context.Context, job domain.ProcessingJob) error {
	op, ok := w.operations[job.JobType]
	if !ok {
		op = noopOperation{}
	}
	return op.Execute(ctx, job)
}

// handleResult implements spec.md §4.5.5 step d and the admission-denial
// carve-out in §7: denial puts the job back to PENDING without counting
// an attempt, success
// marks it COMPLETED, and failure either retries or marks it FAILED
// depending on the remaining retry budget.
func (w *JobWorker) handleResult(ctx context.Context, job domain.ProcessingJob, result batchexec.ItemResult) {
	if result.Success {
		if err := w.repo.MarkJobCompleted(ctx, job.ID, time.Now()); err != nil {
			w.logger.Error("failed to mark job completed", map[string]interface{}{"jobId": job.ID, "error": err.Error()})
		}
		return
	}

	if errors.Is(result.Err, ErrAdmissionDenied) {
		// FetchNextBatch marked the job RUNNING; put it back to PENDING
		// so the next cycle picks it up again.
		if err := w.repo.UpdateJobStatus(ctx, job.ID, domain.JobStatusPending); err != nil {
			w.logger.Error("failed to return admission-denied job to pending", map[string]interface{}{"jobId": job.ID, "error": err.Error()})
		}
		return
	}

	w.logger.Warn("job execution failed", logging.FieldsForError(result.Err, map[string]interface{}{"jobId": job.ID}))

	// spec.md §7: an invariant violation marks the job FAILED regardless
	// of retryCount; every other failure goes through IncrementRetryCount,
	// which itself returns the job to PENDING or FAILED depending on
	// whether the retry budget is exhausted.
	var classified *resilience.ClassifiedError
	if errors.As(result.Err, &classified) && classified.Kind == resilience.KindInvariantViolation {
		if err := w.repo.MarkJobFailed(ctx, job.ID, errMessage(result.Err)); err != nil {
			w.logger.Error("failed to mark job failed", map[string]interface{}{"jobId": job.ID, "error": err.Error()})
		}
		return
	}

	if err := w.repo.IncrementRetryCount(ctx, job.ID, errMessage(result.Err)); err != nil {
		w.logger.Error("failed to increment job retry count", map[string]interface{}{"jobId": job.ID, "error": err.Error()})
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
