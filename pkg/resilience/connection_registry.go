package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InstitutionConnectionRegistry tracks one CircuitBreaker and one
// ResourceLiveness record per resourceId, so a misbehaving institution's
// endpoint trips its own breaker without affecting calls to any other
// resource.
type InstitutionConnectionRegistry struct {
	config *ConnectionManagerConfig

	mu        sync.RWMutex
	resources map[string]*institutionConnection

	healthMonitor *HealthMonitor
}

type institutionConnection struct {
	resourceID     string
	circuitBreaker *CircuitBreaker
}

// ConnectionManagerConfig holds configuration shared by every
// per-resource circuit breaker registered in the registry.
type ConnectionManagerConfig struct {
	HealthCheckInterval time.Duration
	MaxFailures         int64
	ConnectionTimeout   time.Duration
}

// DefaultConnectionManagerConfig returns sensible defaults.
func DefaultConnectionManagerConfig() *ConnectionManagerConfig {
	return &ConnectionManagerConfig{
		HealthCheckInterval: 30 * time.Second,
		MaxFailures:         3,
		ConnectionTimeout:   10 * time.Second,
	}
}

// NewInstitutionConnectionRegistry builds an empty registry.
func NewInstitutionConnectionRegistry(config *ConnectionManagerConfig) *InstitutionConnectionRegistry {
	if config == nil {
		config = DefaultConnectionManagerConfig()
	}

	healthConfig := DefaultHealthMonitorConfig()
	healthConfig.CheckInterval = config.HealthCheckInterval
	healthConfig.CheckTimeout = config.ConnectionTimeout
	healthConfig.UnhealthyThreshold = config.MaxFailures

	return &InstitutionConnectionRegistry{
		config:        config,
		resources:     make(map[string]*institutionConnection),
		healthMonitor: NewHealthMonitor(healthConfig),
	}
}

// Register adds a resourceId to the registry, wiring up its circuit
// breaker and an optional liveness health check. A resource already
// registered is a no-op.
func (r *InstitutionConnectionRegistry) Register(resourceID string, healthCheck HealthCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[resourceID]; exists {
		return
	}

	cbConfig := DefaultCircuitBreakerConfig(resourceID)
	cbConfig.FailureThreshold = r.config.MaxFailures
	cbConfig.Timeout = r.config.ConnectionTimeout

	r.resources[resourceID] = &institutionConnection{
		resourceID:     resourceID,
		circuitBreaker: NewCircuitBreaker(cbConfig),
	}

	if healthCheck != nil {
		r.healthMonitor.RegisterResource(resourceID, healthCheck)
	}
}

// Unregister removes a resourceId from the registry.
func (r *InstitutionConnectionRegistry) Unregister(resourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[resourceID]; !exists {
		return
	}
	delete(r.resources, resourceID)
	r.healthMonitor.UnregisterResource(resourceID)
}

// Execute runs fn through the named resource's circuit breaker,
// auto-registering the resource on first use with no liveness check.
func (r *InstitutionConnectionRegistry) Execute(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error {
	r.mu.RLock()
	conn, exists := r.resources[resourceID]
	r.mu.RUnlock()

	if !exists {
		r.Register(resourceID, nil)
		r.mu.RLock()
		conn = r.resources[resourceID]
		r.mu.RUnlock()
	}

	return conn.circuitBreaker.Execute(ctx, fn)
}

// BreakerState returns the circuit breaker state for a resourceId, or
// an error if the resource was never registered.
func (r *InstitutionConnectionRegistry) BreakerState(resourceID string) (CircuitBreakerState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.resources[resourceID]
	if !exists {
		return StateClosed, fmt.Errorf("resource '%s' not registered", resourceID)
	}
	return conn.circuitBreaker.GetState(), nil
}

// Start begins background health monitoring of registered resources.
func (r *InstitutionConnectionRegistry) Start() {
	r.healthMonitor.Start()
}

// Stop stops background health monitoring.
func (r *InstitutionConnectionRegistry) Stop() {
	r.healthMonitor.Stop()
}
