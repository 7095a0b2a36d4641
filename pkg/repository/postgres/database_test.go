package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"resourcecore/pkg/domain"
)

func setupTestContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("resourcecore_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	return container, connStr
}

func setupTestStore(t *testing.T, ctx context.Context, connStr string) *Store {
	t.Helper()

	config := &Config{
		ConnectionString: connStr,
		MaxConnections:   5,
		ConnectTimeout:   30 * time.Second,
		MigrationsPath:   "file://migrations",
	}

	store, err := New(ctx, config)
	require.NoError(t, err, "should connect to test database")

	require.NoError(t, store.MigrateToLatest(), "should apply migrations")
	return store
}

func TestDatabaseConnectionAndMigration(t *testing.T) {
	ctx := context.Background()
	container, connStr := setupTestContainer(t, ctx)
	defer container.Terminate(ctx)

	store := setupTestStore(t, ctx, connStr)
	defer store.Close()

	assert.NoError(t, store.Ping(ctx))
	assert.NoError(t, store.HealthCheck(ctx))
}

func TestFetchNextBatchLocksRowsAcrossConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	container, connStr := setupTestContainer(t, ctx)
	defer container.Terminate(ctx)

	store := setupTestStore(t, ctx, connStr)
	defer store.Close()

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		job := domain.ProcessingJob{
			ID:          fmt.Sprintf("job-%d", i),
			JobType:     domain.JobTypeResourceSync,
			TargetID:    fmt.Sprintf("resource-%d", i),
			Status:      domain.JobStatusPending,
			MaxRetries:  3,
			ScheduledAt: now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.SaveJob(ctx, job))
	}

	firstBatch, err := store.FetchNextBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, firstBatch, 2)
	for _, job := range firstBatch {
		assert.Equal(t, domain.JobStatusRunning, job.Status)
	}

	secondBatch, err := store.FetchNextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, secondBatch, 2, "already-running jobs must not be re-fetched")

	count, err := store.CountByStatus(ctx, domain.JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestResourceLifecycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	container, connStr := setupTestContainer(t, ctx)
	defer container.Terminate(ctx)

	store := setupTestStore(t, ctx, connStr)
	defer store.Close()

	resource := domain.Resource{
		ResourceID:     "inst-001",
		OrganizationID: "org-001",
		Type:           domain.ResourceTypeBank,
		Status:         domain.ResourceStatusDiscovered,
		DiscoveredAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveResource(ctx, resource))

	fetched, ok, err := store.FindByID(ctx, "inst-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ResourceStatusDiscovered, fetched.Status)

	require.NoError(t, store.UpdateResourceStatus(ctx, "inst-001", domain.ResourceStatusValidating))

	needingValidation, err := store.FindResourcesNeedingValidation(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, needingValidation, 1)
}
