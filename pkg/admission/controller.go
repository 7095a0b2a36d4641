// Package admission implements the Admission Controller (C2): six
// independent bounded counting semaphores, one per operation class,
// exposing only non-blocking acquisition.
package admission

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"resourcecore/pkg/telemetry"
)

// Class identifies one of the six admission classes.
type Class = telemetry.OperationClass

const (
	ClassDiscovery       = telemetry.ClassDiscovery
	ClassSync            = telemetry.ClassSync
	ClassValidation      = telemetry.ClassValidation
	ClassMonitoring      = telemetry.ClassMonitoring
	ClassAPICall         = telemetry.ClassAPICall
	ClassBatchProcessing = telemetry.ClassBatchProcessing
)

var allClasses = []Class{ClassDiscovery, ClassSync, ClassValidation, ClassMonitoring, ClassAPICall, ClassBatchProcessing}

// classSemaphore pairs a weighted semaphore with the live counters
// needed for utilization() without asking the semaphore for internal
// state it doesn't expose.
type classSemaphore struct {
	mu       sync.Mutex
	sem      *semaphore.Weighted
	capacity int64
	active   int64
	taskDone []func() // collector completion callbacks, apiCall only
}

// Controller is the Admission Controller (C2). TryAcquire is the only
// acquisition path: the admission hot path never blocks (spec.md §5).
type Controller struct {
	classes map[Class]*classSemaphore
	collector *telemetry.Collector
}

// Capacities supplies the initial per-class capacity, typically from
// configuration (spec.md §4.2 defaults: 50, 75, 30, 40, 200, 10).
type Capacities struct {
	Discovery       int64
	Sync            int64
	Validation      int64
	Monitoring      int64
	APICall         int64
	BatchProcessing int64
}

// DefaultCapacities returns the defaults named in spec.md §4.2.
func DefaultCapacities() Capacities {
	return Capacities{
		Discovery:       50,
		Sync:            75,
		Validation:      30,
		Monitoring:      40,
		APICall:         200,
		BatchProcessing: 10,
	}
}

// NewController builds a Controller with one weighted semaphore per
// class at its initial capacity. collector may be nil; when non-nil,
// apiCall acquire/release notify it for concurrent-call peak tracking
// (spec.md §4.2).
func NewController(caps Capacities, collector *telemetry.Collector) *Controller {
	c := &Controller{
		classes:   make(map[Class]*classSemaphore, len(allClasses)),
		collector: collector,
	}

	init := map[Class]int64{
		ClassDiscovery:       caps.Discovery,
		ClassSync:            caps.Sync,
		ClassValidation:      caps.Validation,
		ClassMonitoring:      caps.Monitoring,
		ClassAPICall:         caps.APICall,
		ClassBatchProcessing: caps.BatchProcessing,
	}

	for _, cl := range allClasses {
		cap := init[cl]
		c.classes[cl] = &classSemaphore{
			sem:      semaphore.NewWeighted(cap),
			capacity: cap,
		}
	}

	return c
}

// TryAcquire attempts to obtain one permit for class without blocking.
// Returns false if no permit is currently available — the caller must
// skip the unit of work, never wait.
func (c *Controller) TryAcquire(class Class) bool {
	cs := c.classes[class]
	if !cs.sem.TryAcquire(1) {
		return false
	}

	cs.mu.Lock()
	cs.active++
	if class == ClassAPICall && c.collector != nil {
		cs.taskDone = append(cs.taskDone, c.collector.TaskStarted(ClassAPICall))
	}
	cs.mu.Unlock()

	return true
}

// Release returns one permit to class. Must be called on every exit
// path of code that successfully called TryAcquire, including failure
// and cancellation paths.
func (c *Controller) Release(class Class) {
	cs := c.classes[class]
	cs.sem.Release(1)

	cs.mu.Lock()
	cs.active--
	if n := len(cs.taskDone); n > 0 {
		cs.taskDone[n-1]()
		cs.taskDone = cs.taskDone[:n-1]
	}
	cs.mu.Unlock()
}

// Resize atomically adjusts class's capacity. Growing releases extra
// permits immediately; shrinking acquires the delta, which may briefly
// block if in-flight work already exceeds the new capacity — acceptable
// per spec.md §4.2.
func (c *Controller) Resize(class Class, newCapacity int64) {
	cs := c.classes[class]

	cs.mu.Lock()
	delta := newCapacity - cs.capacity
	cs.capacity = newCapacity
	cs.mu.Unlock()

	switch {
	case delta > 0:
		cs.sem.Release(delta)
	case delta < 0:
		// Acquire the delta synchronously; this is the one admission
		// path allowed to block, and only the adaptive controller's
		// own resize goroutine ever calls it (spec.md §4.2, §5).
		cs.sem.Acquire(context.Background(), -delta)
	}
}

// Snapshot is one class's utilization at a point in time.
type Snapshot struct {
	Active   int64
	Capacity int64
	Available int64
}

// Utilization returns active and available permits for every class
// (spec.md §4.2). Host CPU/memory are fetched by C3, not here.
func (c *Controller) Utilization() map[Class]Snapshot {
	out := make(map[Class]Snapshot, len(allClasses))
	for _, cl := range allClasses {
		cs := c.classes[cl]
		cs.mu.Lock()
		active := cs.active
		capacity := cs.capacity
		cs.mu.Unlock()
		out[cl] = Snapshot{Active: active, Capacity: capacity, Available: capacity - active}
	}
	return out
}
