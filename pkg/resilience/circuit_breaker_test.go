package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerAllowsRequestsWhileClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("bank-a"))

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())

	stats := cb.GetStats()
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(0), stats.TotalOpens)
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	config := &CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  100 * time.Millisecond,
		SuccessThreshold: 1,
		MaxRequests:      5,
		Timeout:          time.Second,
		ResourceID:       "bank-a",
	}
	cb := NewCircuitBreaker(config)

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("institution unreachable")
		})
		assert.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, int64(1), cb.GetStats().TotalOpens)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn should not run while circuit is open")
		return nil
	})
	assert.True(t, IsCircuitOpenError(err))
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	config := &CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 1,
		MaxRequests:      5,
		Timeout:          time.Second,
		ResourceID:       "bank-a",
	}
	cb := NewCircuitBreaker(config)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("down")
		})
	}
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(100 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	config := &CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 2,
		MaxRequests:      5,
		Timeout:          time.Second,
		ResourceID:       "bank-a",
	}
	cb := NewCircuitBreaker(config)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("down")
	})

	time.Sleep(100 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("still down")
	})
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, int64(2), cb.GetStats().TotalOpens)
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	config := DefaultCircuitBreakerConfig("bank-a")
	config.FailureThreshold = 1

	cb := NewCircuitBreaker(config)

	changes := make(chan CircuitBreakerState, 4)
	cb.SetStateChangeCallback(func(from, to CircuitBreakerState) {
		changes <- to
	})

	cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("down")
	})

	select {
	case state := <-changes:
		assert.Equal(t, StateOpen, state)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected state change callback to fire")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	config := DefaultCircuitBreakerConfig("bank-a")
	config.FailureThreshold = 1

	cb := NewCircuitBreaker(config)

	cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("down")
	})
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	stats := cb.GetStats()
	assert.Equal(t, int64(0), stats.Failures)
	assert.NotZero(t, stats.TotalFailures)
}

func TestCircuitBreakerResourceIDMatchesConfig(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("bank-a"))
	assert.Equal(t, "bank-a", cb.ResourceID())
}

func TestIsCircuitOpenErrorDistinguishesFromInstitutionErrors(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
		MaxRequests:      1,
		Timeout:          time.Second,
		ResourceID:       "bank-a",
	})

	institutionErr := errors.New("institution returned 500")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return institutionErr
	})

	openErr := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	assert.False(t, IsCircuitOpenError(institutionErr))
	assert.True(t, IsCircuitOpenError(openErr))
}
