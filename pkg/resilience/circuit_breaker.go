package resilience

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"context"
)

// CircuitBreakerState is the current state of one resourceId's breaker.
type CircuitBreakerState int

const (
	// StateClosed allows requests through.
	StateClosed CircuitBreakerState = iota
	// StateOpen fails every request immediately without calling the institution.
	StateOpen
	// StateHalfOpen allows a limited number of probe requests through to test recovery.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// CircuitBreakerConfig holds the per-resourceId tripping thresholds.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures that opens the circuit.
	FailureThreshold int64
	// RecoveryTimeout is how long the circuit stays open before probing half-open.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of half-open successes needed to close the circuit.
	SuccessThreshold int64
	// MaxRequests bounds concurrent probes allowed through in half-open state.
	MaxRequests int64
	// Timeout bounds a single request's execution.
	Timeout time.Duration
	// ResourceID is the Open Finance resourceId this breaker isolates.
	ResourceID string
}

// DefaultCircuitBreakerConfig returns sane thresholds for one resourceId.
func DefaultCircuitBreakerConfig(resourceID string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		MaxRequests:      10,
		Timeout:          10 * time.Second,
		ResourceID:       resourceID,
	}
}

// CircuitBreakerStats is a point-in-time snapshot of one breaker.
type CircuitBreakerStats struct {
	State            CircuitBreakerState `json:"state"`
	Failures         int64               `json:"failures"`
	Successes        int64               `json:"successes"`
	Requests         int64               `json:"requests"`
	LastFailureTime  time.Time           `json:"last_failure_time"`
	LastSuccessTime  time.Time           `json:"last_success_time"`
	StateChangedTime time.Time           `json:"state_changed_time"`
	TotalRequests    int64               `json:"total_requests"`
	TotalFailures    int64               `json:"total_failures"`
	TotalSuccesses   int64               `json:"total_successes"`
	TotalOpens       int64               `json:"total_opens"`
}

// CircuitBreaker isolates one Open Finance resourceId: repeated
// failures against that institution stop further calls to it without
// affecting calls to any other resourceId (spec.md §6).
type CircuitBreaker struct {
	config *CircuitBreakerConfig
	state  CircuitBreakerState
	mu     sync.RWMutex

	failures       int64
	successes      int64
	requests       int64
	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalOpens     int64

	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	stateChangedTime time.Time

	onStateChange func(from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("unknown-resource")
	}

	return &CircuitBreaker{
		config:           config,
		state:            StateClosed,
		stateChangedTime: time.Now(),
	}
}

// Execute runs fn behind the breaker: an open circuit fails fast with an
// error IsCircuitOpenError recognizes, instead of calling fn at all.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allowRequest() {
		return cb.createCircuitOpenError()
	}

	atomic.AddInt64(&cb.requests, 1)
	atomic.AddInt64(&cb.totalRequests, 1)

	if cb.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.Timeout)
		defer cancel()
	}

	err := fn(ctx)

	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.RLock()
	state := cb.state
	cb.mu.RUnlock()

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		cb.mu.Lock()
		if time.Since(cb.stateChangedTime) >= cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.mu.Unlock()
			return true
		}
		cb.mu.Unlock()
		return false
	case StateHalfOpen:
		return atomic.LoadInt64(&cb.requests) < cb.config.MaxRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddInt64(&cb.successes, 1)
	atomic.AddInt64(&cb.totalSuccesses, 1)

	cb.mu.Lock()
	cb.lastSuccessTime = time.Now()

	if cb.state == StateHalfOpen && atomic.LoadInt64(&cb.successes) >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt64(&cb.failures, 1)
	atomic.AddInt64(&cb.totalFailures, 1)

	cb.mu.Lock()
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if atomic.LoadInt64(&cb.failures) >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// A single failure while probing recovery reopens the breaker.
		cb.setState(StateOpen)
	}
	cb.mu.Unlock()
}

// setState changes state and resets the per-state counters; caller
// holds cb.mu.
func (cb *CircuitBreaker) setState(newState CircuitBreakerState) {
	oldState := cb.state
	cb.state = newState
	cb.stateChangedTime = time.Now()

	atomic.StoreInt64(&cb.failures, 0)
	atomic.StoreInt64(&cb.successes, 0)
	atomic.StoreInt64(&cb.requests, 0)

	if newState == StateOpen {
		atomic.AddInt64(&cb.totalOpens, 1)
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns current statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		State:            cb.state,
		Failures:         atomic.LoadInt64(&cb.failures),
		Successes:        atomic.LoadInt64(&cb.successes),
		Requests:         atomic.LoadInt64(&cb.requests),
		LastFailureTime:  cb.lastFailureTime,
		LastSuccessTime:  cb.lastSuccessTime,
		StateChangedTime: cb.stateChangedTime,
		TotalRequests:    atomic.LoadInt64(&cb.totalRequests),
		TotalFailures:    atomic.LoadInt64(&cb.totalFailures),
		TotalSuccesses:   atomic.LoadInt64(&cb.totalSuccesses),
		TotalOpens:       atomic.LoadInt64(&cb.totalOpens),
	}
}

// SetStateChangeCallback sets a callback function to be called when state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(from, to CircuitBreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = callback
}

// Reset forces the breaker back to closed with zero counters, used
// when ResilienceManager.ResetMetrics clears operational state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
}

// ResourceID returns the resourceId this breaker isolates.
func (cb *CircuitBreaker) ResourceID() string {
	return cb.config.ResourceID
}

func (cb *CircuitBreaker) createCircuitOpenError() error {
	return fmt.Errorf("institution resource '%s' circuit is open", cb.config.ResourceID)
}

// IsCircuitOpenError reports whether err came from a breaker
// fast-failing rather than from the institution itself.
func IsCircuitOpenError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "circuit is open")
}
