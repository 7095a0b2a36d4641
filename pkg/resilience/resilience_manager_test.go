package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResilienceManagerExecuteResilientOperationClassifiesError(t *testing.T) {
	rm := NewResilienceManager(nil)
	require.NoError(t, rm.Start())
	defer rm.Stop()

	err := rm.ExecuteResilientOperation(context.Background(), 503, func(ctx context.Context) error {
		return errors.New("upstream down")
	})

	require.Error(t, err)
	var classified *ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, KindUpstream5xx, classified.Kind)
}

func TestResilienceManagerExecuteForResourceIsolatesByResource(t *testing.T) {
	rm := NewResilienceManager(nil)
	require.NoError(t, rm.Start())
	defer rm.Stop()

	for i := 0; i < 10; i++ {
		_ = rm.ExecuteForResource(context.Background(), "bank-a", 503, func(ctx context.Context) error {
			return errors.New("bank-a down")
		})
	}

	err := rm.ExecuteForResource(context.Background(), "bank-b", 0, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestResilienceManagerMetricsTrackSuccessAndFailure(t *testing.T) {
	rm := NewResilienceManager(nil)
	require.NoError(t, rm.Start())
	defer rm.Stop()

	_ = rm.ExecuteResilientOperation(context.Background(), 0, func(ctx context.Context) error { return nil })
	_ = rm.ExecuteResilientOperation(context.Background(), 500, func(ctx context.Context) error { return errors.New("fail") })

	metrics := rm.GetMetrics()
	assert.Equal(t, int64(2), metrics.TotalOperations)
	assert.Equal(t, int64(1), metrics.SuccessfulOps)
	assert.Equal(t, int64(1), metrics.FailedOps)
	assert.Equal(t, 0.5, metrics.SuccessRate)
}

func TestResilienceManagerIsHealthyReflectsCircuitState(t *testing.T) {
	config := DefaultResilienceManagerConfig()
	config.CircuitBreakerConfig.FailureThreshold = 1

	rm := NewResilienceManager(config)
	require.NoError(t, rm.Start())
	defer rm.Stop()

	assert.True(t, rm.IsHealthy())

	_ = rm.ExecuteResilientOperation(context.Background(), 500, func(ctx context.Context) error {
		return errors.New("fail")
	})

	report, err := rm.GetSystemHealth()
	require.NoError(t, err)
	assert.Equal(t, StateOpen, report.CircuitBreaker.State)
	assert.False(t, rm.IsHealthy())
}

func TestResilienceManagerStartIsNotReentrant(t *testing.T) {
	rm := NewResilienceManager(nil)
	require.NoError(t, rm.Start())
	defer rm.Stop()

	err := rm.Start()
	assert.Error(t, err)
}
