package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResilienceManagerConfig holds configuration for the resilience manager.
type ResilienceManagerConfig struct {
	EnableErrorClassification bool

	EnableCircuitBreaker bool
	CircuitBreakerConfig *CircuitBreakerConfig

	EnableHealthMonitoring bool
	HealthMonitorConfig    *HealthMonitorConfig

	EnableConnectionRegistry bool
	ConnectionManagerConfig  *ConnectionManagerConfig

	DefaultTimeout time.Duration
	MetricsEnabled bool
}

// DefaultResilienceManagerConfig returns a sensible default configuration.
func DefaultResilienceManagerConfig() *ResilienceManagerConfig {
	return &ResilienceManagerConfig{
		EnableErrorClassification: true,
		EnableCircuitBreaker:      true,
		CircuitBreakerConfig:      DefaultCircuitBreakerConfig("resilience-manager"),
		EnableHealthMonitoring:    true,
		HealthMonitorConfig:       DefaultHealthMonitorConfig(),
		EnableConnectionRegistry:  true,
		ConnectionManagerConfig:   DefaultConnectionManagerConfig(),
		DefaultTimeout:            30 * time.Second,
		MetricsEnabled:            true,
	}
}

// ResilienceManager composes the pipeline's resilience primitives — a
// general-purpose circuit breaker, a per-resource liveness monitor, and the
// per-institution connection registry — behind one entry point so
// pipeline stages don't have to wire each one individually.
type ResilienceManager struct {
	config *ResilienceManagerConfig

	circuitBreaker     *CircuitBreaker
	healthMonitor      *HealthMonitor
	connectionRegistry *InstitutionConnectionRegistry

	started bool
	mu      sync.RWMutex

	totalOperations   int64
	successfulOps     int64
	failedOps         int64
	lastOperationTime time.Time
	metricsLock       sync.RWMutex
}

// NewResilienceManager creates a new resilience manager.
func NewResilienceManager(config *ResilienceManagerConfig) *ResilienceManager {
	if config == nil {
		config = DefaultResilienceManagerConfig()
	}

	rm := &ResilienceManager{
		config: config,
	}

	if config.EnableCircuitBreaker {
		rm.circuitBreaker = NewCircuitBreaker(config.CircuitBreakerConfig)
	}

	if config.EnableHealthMonitoring {
		rm.healthMonitor = NewHealthMonitor(config.HealthMonitorConfig)
	}

	if config.EnableConnectionRegistry {
		rm.connectionRegistry = NewInstitutionConnectionRegistry(config.ConnectionManagerConfig)
	}

	return rm
}

// Start starts all resilience components.
func (rm *ResilienceManager) Start() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.started {
		return fmt.Errorf("resilience manager already started")
	}

	if rm.healthMonitor != nil {
		rm.healthMonitor.Start()
	}

	if rm.connectionRegistry != nil {
		rm.connectionRegistry.Start()
	}

	rm.started = true
	return nil
}

// Stop stops all resilience components.
func (rm *ResilienceManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.started {
		return
	}

	if rm.connectionRegistry != nil {
		rm.connectionRegistry.Stop()
	}

	if rm.healthMonitor != nil {
		rm.healthMonitor.Stop()
	}

	rm.started = false
}

// ExecuteResilientOperation executes an operation behind the manager's
// circuit breaker (falling back to a direct call if disabled), applying
// the configured default timeout and classifying any resulting error.
func (rm *ResilienceManager) ExecuteResilientOperation(ctx context.Context, httpStatus int, fn func(context.Context) error) error {
	start := time.Now()

	if rm.config.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rm.config.DefaultTimeout)
		defer cancel()
	}

	var err error
	if rm.circuitBreaker != nil {
		err = rm.circuitBreaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}

	rm.updateMetrics(time.Since(start), err == nil)

	if err != nil && rm.config.EnableErrorClassification {
		return ClassifyHTTPError(err, httpStatus, "resilience-manager")
	}

	return err
}

// ExecuteForResource runs fn through the named resource's own circuit
// breaker via the connection registry, isolating a misbehaving
// institution from every other resource.
func (rm *ResilienceManager) ExecuteForResource(ctx context.Context, resourceID string, httpStatus int, fn func(context.Context) error) error {
	if rm.connectionRegistry == nil {
		return fmt.Errorf("connection registry not enabled")
	}

	start := time.Now()

	if rm.config.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rm.config.DefaultTimeout)
		defer cancel()
	}

	err := rm.connectionRegistry.Execute(ctx, resourceID, fn)

	rm.updateMetrics(time.Since(start), err == nil)

	if err != nil && rm.config.EnableErrorClassification {
		return ClassifyHTTPError(err, httpStatus, "resilience-manager")
	}

	return err
}

// RegisterHealthResource registers a resourceId for liveness monitoring.
func (rm *ResilienceManager) RegisterHealthResource(resourceID string, healthCheck HealthCheck) error {
	if rm.healthMonitor == nil {
		return fmt.Errorf("health monitor not enabled")
	}

	rm.healthMonitor.RegisterResource(resourceID, healthCheck)
	return nil
}

// RegisterResource adds a resourceId to the connection registry, wiring
// its own circuit breaker and optional liveness health check.
func (rm *ResilienceManager) RegisterResource(resourceID string, healthCheck HealthCheck) error {
	if rm.connectionRegistry == nil {
		return fmt.Errorf("connection registry not enabled")
	}

	rm.connectionRegistry.Register(resourceID, healthCheck)
	return nil
}

// GetSystemHealth returns overall system health status.
func (rm *ResilienceManager) GetSystemHealth() (*SystemHealthReport, error) {
	report := &SystemHealthReport{
		Timestamp: time.Now(),
		Overall:   HealthHealthy,
	}

	if rm.healthMonitor != nil {
		report.HealthMonitor = &HealthMonitorReport{
			OverallHealth: rm.healthMonitor.GetOverallHealth(),
			Summary:       rm.healthMonitor.GetHealthSummary(),
		}

		if report.HealthMonitor.OverallHealth > report.Overall {
			report.Overall = report.HealthMonitor.OverallHealth
		}
	}

	if rm.circuitBreaker != nil {
		stats := rm.circuitBreaker.GetStats()
		report.CircuitBreaker = &CircuitBreakerReport{
			State: stats.State,
			Stats: &stats,
		}

		if stats.State == StateOpen {
			report.Overall = HealthCritical
		}
	}

	report.Metrics = rm.getMetrics()

	return report, nil
}

// GetMetrics returns operational metrics.
func (rm *ResilienceManager) GetMetrics() *ResilienceMetrics {
	return rm.getMetrics()
}

// ResetMetrics resets all operational metrics.
func (rm *ResilienceManager) ResetMetrics() {
	rm.metricsLock.Lock()
	defer rm.metricsLock.Unlock()

	rm.totalOperations = 0
	rm.successfulOps = 0
	rm.failedOps = 0
	rm.lastOperationTime = time.Time{}

	if rm.circuitBreaker != nil {
		rm.circuitBreaker.Reset()
	}
}

// IsHealthy returns true if the system is healthy.
func (rm *ResilienceManager) IsHealthy() bool {
	report, err := rm.GetSystemHealth()
	if err != nil {
		return false
	}

	return report.Overall == HealthHealthy || report.Overall == HealthDegraded
}

func (rm *ResilienceManager) updateMetrics(duration time.Duration, success bool) {
	if !rm.config.MetricsEnabled {
		return
	}

	rm.metricsLock.Lock()
	defer rm.metricsLock.Unlock()

	rm.totalOperations++
	rm.lastOperationTime = time.Now()

	if success {
		rm.successfulOps++
	} else {
		rm.failedOps++
	}
}

func (rm *ResilienceManager) getMetrics() *ResilienceMetrics {
	rm.metricsLock.RLock()
	defer rm.metricsLock.RUnlock()

	successRate := 0.0
	if rm.totalOperations > 0 {
		successRate = float64(rm.successfulOps) / float64(rm.totalOperations)
	}

	return &ResilienceMetrics{
		TotalOperations:   rm.totalOperations,
		SuccessfulOps:     rm.successfulOps,
		FailedOps:         rm.failedOps,
		SuccessRate:       successRate,
		LastOperationTime: rm.lastOperationTime,
	}
}

// SystemHealthReport is a point-in-time snapshot of every resilience
// component the manager composes.
type SystemHealthReport struct {
	Timestamp      time.Time             `json:"timestamp"`
	Overall        HealthStatus          `json:"overall_status"`
	HealthMonitor  *HealthMonitorReport  `json:"health_monitor,omitempty"`
	CircuitBreaker *CircuitBreakerReport `json:"circuit_breaker,omitempty"`
	Metrics        *ResilienceMetrics    `json:"metrics"`
}

type HealthMonitorReport struct {
	OverallHealth HealthStatus   `json:"overall_health"`
	Summary       *HealthSummary `json:"summary"`
}

type CircuitBreakerReport struct {
	State CircuitBreakerState  `json:"state"`
	Stats *CircuitBreakerStats `json:"stats"`
}

type ResilienceMetrics struct {
	TotalOperations   int64     `json:"total_operations"`
	SuccessfulOps     int64     `json:"successful_operations"`
	FailedOps         int64     `json:"failed_operations"`
	SuccessRate       float64   `json:"success_rate"`
	LastOperationTime time.Time `json:"last_operation_time"`
}
