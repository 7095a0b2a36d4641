package pipeline

import (
	"sync"

	"resourcecore/pkg/domain"
)

// MonitoringRegistry holds the in-process ResourceHealth records spec.md
// §6 keeps out of the repository port ("all other state... is
// in-process"). One record per resourceId, created lazily on first
// sample.
type MonitoringRegistry struct {
	mu      sync.RWMutex
	records map[string]*domain.ResourceHealth
}

// NewMonitoringRegistry returns an empty MonitoringRegistry.
func NewMonitoringRegistry() *MonitoringRegistry {
	return &MonitoringRegistry{records: make(map[string]*domain.ResourceHealth)}
}

// ApplySample folds one monitoring probe result into resourceID's
// rolling record using the weighted-update rule (spec.md §4.5.4),
// creating the record if this is the first sample.
func (r *MonitoringRegistry) ApplySample(resourceID string, ok bool, sampleMs float64) domain.ResourceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[resourceID]
	if !exists {
		record = &domain.ResourceHealth{ResourceID: resourceID}
		r.records[resourceID] = record
	}
	record.ApplySample(ok, sampleMs)
	return *record
}

// Get returns a snapshot of resourceID's health record, if any.
func (r *MonitoringRegistry) Get(resourceID string) (domain.ResourceHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[resourceID]
	if !ok {
		return domain.ResourceHealth{}, false
	}
	return *record, true
}
