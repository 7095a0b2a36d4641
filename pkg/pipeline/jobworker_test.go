package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcecore/pkg/adaptive"
	"resourcecore/pkg/admission"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/logging"
	"resourcecore/pkg/repository/memory"
)

type fixedSampler struct {
	cpu, mem float64
}

func (f fixedSampler) CPULoad(ctx context.Context) (float64, error) { return f.cpu, nil }
func (f fixedSampler) MemUsage(ctx context.Context) (float64, error) { return f.mem, nil }

type stubOperation struct {
	err error
}

func (s stubOperation) Execute(ctx context.Context, job domain.ProcessingJob) error {
	return s.err
}

func newTestAdaptiveState() *adaptive.State {
	ctrl := adaptive.NewController(adaptive.DefaultConfig(), fixedSampler{cpu: 0.1, mem: 0.1}, nil, admission.NewController(admission.DefaultCapacities(), nil))
	return ctrl.State()
}

func newTestLogger() *logging.Logger {
	return logging.NewLogger(logging.DefaultConfig())
}

func seedWorkerJob(t *testing.T, store *memory.Store, id string, jobType domain.JobType, maxRetries int) {
	t.Helper()
	require.NoError(t, store.SaveJob(context.Background(), domain.ProcessingJob{
		ID:          id,
		JobType:     jobType,
		TargetID:    "resource-" + id,
		Status:      domain.JobStatusPending,
		MaxRetries:  maxRetries,
		ScheduledAt: time.Now(),
	}))
}

func TestProcessOneBatchMarksSuccessfulJobsCompleted(t *testing.T) {
	store := memory.New()
	seedWorkerJob(t, store, "a", domain.JobTypeResourceSync, 3)

	worker := NewJobWorker(
		store,
		map[domain.JobType]Operation{domain.JobTypeResourceSync: stubOperation{}},
		fixedSampler{cpu: 0.1, mem: 0.1},
		newTestAdaptiveState(),
		DefaultJobWorkerConfig(),
		newTestLogger(),
	)

	worker.processOneBatch(context.Background())

	count, err := store.CountByStatus(context.Background(), domain.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessOneBatchRetriesFailedJobWithBudgetRemaining(t *testing.T) {
	store := memory.New()
	seedWorkerJob(t, store, "a", domain.JobTypeResourceSync, 3)

	worker := NewJobWorker(
		store,
		map[domain.JobType]Operation{domain.JobTypeResourceSync: stubOperation{err: errors.New("upstream failure")}},
		fixedSampler{cpu: 0.1, mem: 0.1},
		newTestAdaptiveState(),
		DefaultJobWorkerConfig(),
		newTestLogger(),
	)

	worker.processOneBatch(context.Background())

	count, err := store.CountByStatus(context.Background(), domain.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessOneBatchLeavesAdmissionDeniedJobPending(t *testing.T) {
	store := memory.New()
	seedWorkerJob(t, store, "a", domain.JobTypeResourceSync, 3)

	worker := NewJobWorker(
		store,
		map[domain.JobType]Operation{domain.JobTypeResourceSync: stubOperation{err: ErrAdmissionDenied}},
		fixedSampler{cpu: 0.1, mem: 0.1},
		newTestAdaptiveState(),
		DefaultJobWorkerConfig(),
		newTestLogger(),
	)

	worker.processOneBatch(context.Background())

	job, err := store.CountByStatus(context.Background(), domain.JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, int64(0), job, "admission-denied job must not be left RUNNING")

	pending, err := store.CountByStatus(context.Background(), domain.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestShouldProcessNowFalseWhenCPUAboveHighThreshold(t *testing.T) {
	worker := NewJobWorker(
		memory.New(),
		nil,
		fixedSampler{cpu: 0.95, mem: 0.1},
		newTestAdaptiveState(),
		DefaultJobWorkerConfig(),
		newTestLogger(),
	)

	assert.False(t, worker.shouldProcessNow(context.Background()))
}

func TestShouldProcessNowFalseWhileBatchInFlight(t *testing.T) {
	worker := NewJobWorker(
		memory.New(),
		nil,
		fixedSampler{cpu: 0.1, mem: 0.1},
		newTestAdaptiveState(),
		DefaultJobWorkerConfig(),
		newTestLogger(),
	)
	worker.inFlight.Store(true)

	assert.False(t, worker.shouldProcessNow(context.Background()))
}
