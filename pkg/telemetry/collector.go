// Package telemetry maintains process-wide counters, timers, and
// moving averages for the operation pipeline and produces immutable
// report snapshots on demand.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationClass is one of the six admission/telemetry classes.
type OperationClass int

const (
	ClassDiscovery OperationClass = iota
	ClassSync
	ClassValidation
	ClassMonitoring
	ClassAPICall
	ClassBatchProcessing
)

func (c OperationClass) String() string {
	switch c {
	case ClassDiscovery:
		return "discovery"
	case ClassSync:
		return "sync"
	case ClassValidation:
		return "validation"
	case ClassMonitoring:
		return "monitoring"
	case ClassAPICall:
		return "apiCall"
	default:
		return "batchProcessing"
	}
}

var allClasses = []OperationClass{
	ClassDiscovery, ClassSync, ClassValidation, ClassMonitoring, ClassAPICall, ClassBatchProcessing,
}

// classCounters is the per-class bundle of monotonic counters and
// duration accumulators, grounded on CircuitBreakerStats's plain
// atomic-counter-per-field shape.
type classCounters struct {
	total       atomic.Int64
	successes   atomic.Int64
	errors      atomic.Int64
	durationSum atomic.Int64 // milliseconds
	activeNow   atomic.Int64
	activePeak  atomic.Int64
}

// errorBreakdown counts errors by (kind, class).
type errorBreakdown struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newErrorBreakdown() *errorBreakdown {
	return &errorBreakdown{counts: make(map[string]int64)}
}

func (e *errorBreakdown) record(kind string, class OperationClass) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts[kind+"|"+class.String()]++
}

func (e *errorBreakdown) snapshot() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int64, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}

// Collector is the process-wide Telemetry Collector (C1). Every
// mutator is safe under parallel writers; GetReport returns an
// internally consistent snapshot.
type Collector struct {
	mu sync.RWMutex

	classes map[OperationClass]*classCounters

	totalBatches  atomic.Int64
	totalErrors   atomic.Int64
	avgBatchSize  float64
	avgBatchMs    float64
	batchesSeen   atomic.Int64
	windowWeight  float64

	windowOps    atomic.Int64
	windowResetAt time.Time

	errors *errorBreakdown

	reg *prometheus.Registry
	promOpsTotal   *prometheus.CounterVec
	promErrorsTotal *prometheus.CounterVec
	promActiveGauge *prometheus.GaugeVec
}

// NewCollector builds a Collector with its own private prometheus
// registry — the core keeps the registry in-process (§4.1); exporting
// it over HTTP is the out-of-scope collaborator's job.
func NewCollector() *Collector {
	c := &Collector{
		classes:       make(map[OperationClass]*classCounters),
		windowWeight:  0.2,
		windowResetAt: time.Now(),
		errors:        newErrorBreakdown(),
		reg:           prometheus.NewRegistry(),
	}

	for _, cl := range allClasses {
		c.classes[cl] = &classCounters{}
	}

	c.promOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resourcecore_operations_total",
		Help: "Total operations processed per class.",
	}, []string{"class", "result"})
	c.promErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resourcecore_errors_total",
		Help: "Total errors recorded per (kind, class).",
	}, []string{"kind", "class"})
	c.promActiveGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resourcecore_active_tasks",
		Help: "Active in-flight tasks per class.",
	}, []string{"class"})

	c.reg.MustRegister(c.promOpsTotal, c.promErrorsTotal, c.promActiveGauge)

	return c
}

// Registry exposes the internal prometheus registry for a collaborator
// that wires a /metrics endpoint; the Collector itself never serves
// HTTP.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// RecordOperation increments counters and timers for one completed
// operation of the given class.
func (c *Collector) RecordOperation(class OperationClass, success bool, durationMs int64) {
	cc := c.classes[class]
	cc.total.Add(1)
	cc.durationSum.Add(durationMs)
	c.windowOps.Add(1)

	result := "success"
	if success {
		cc.successes.Add(1)
	} else {
		cc.errors.Add(1)
		c.totalErrors.Add(1)
		result = "failure"
	}
	c.promOpsTotal.WithLabelValues(class.String(), result).Inc()
}

// RecordBatch updates the batch-size and batch-duration moving
// averages with weight windowWeight on the new sample (spec.md §4.1);
// the first sample writes directly.
func (c *Collector) RecordBatch(count int, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalBatches.Add(1)
	n := c.batchesSeen.Add(1)

	if n == 1 {
		c.avgBatchSize = float64(count)
		c.avgBatchMs = float64(durationMs)
		return
	}

	c.avgBatchSize = c.windowWeight*float64(count) + (1-c.windowWeight)*c.avgBatchSize
	c.avgBatchMs = c.windowWeight*float64(durationMs) + (1-c.windowWeight)*c.avgBatchMs
}

// RecordError increments the total and (kind, class) breakdown error
// counters. Admission denials are never passed here (spec.md §7: they
// are not counted).
func (c *Collector) RecordError(kind string, class OperationClass, retryable bool) {
	c.totalErrors.Add(1)
	c.errors.record(kind, class)
	c.promErrorsTotal.WithLabelValues(kind, class.String()).Inc()
}

// TaskStarted marks one task as active for the given class, updating
// the peak-held gauge. Returns a function the caller must defer to
// mark the task finished.
func (c *Collector) TaskStarted(class OperationClass) func() {
	cc := c.classes[class]
	active := cc.activeNow.Add(1)
	for {
		peak := cc.activePeak.Load()
		if active <= peak || cc.activePeak.CompareAndSwap(peak, active) {
			break
		}
	}
	c.promActiveGauge.WithLabelValues(class.String()).Set(float64(active))

	var once sync.Once
	return func() {
		once.Do(func() {
			remaining := cc.activeNow.Add(-1)
			c.promActiveGauge.WithLabelValues(class.String()).Set(float64(remaining))
		})
	}
}

// ResetWindow resets the sliding throughput window. Called explicitly
// on operator request or by the caller that reads currentThroughput.
func (c *Collector) ResetWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowOps.Store(0)
	c.windowResetAt = time.Now()
}

// ClassReport is the per-class slice of a Report.
type ClassReport struct {
	Total      int64
	Successes  int64
	Errors     int64
	AvgMs      float64
	ActiveNow  int64
	ActivePeak int64
}

// Report is an immutable snapshot of the collector's state.
type Report struct {
	TotalOperations int64
	TotalErrors     int64
	TotalBatches    int64
	Efficiency      float64
	ErrorRate       float64
	CurrentThroughput float64
	AvgBatchSize      float64
	AvgBatchDurationMs float64
	ByClass         map[OperationClass]ClassReport
	ErrorBreakdown  map[string]int64
}

// GetReport returns a consistent snapshot; counters may be marginally
// stale relative to one another but are never torn (spec.md §4.1).
func (c *Collector) GetReport() Report {
	c.mu.RLock()
	avgBatchSize := c.avgBatchSize
	avgBatchMs := c.avgBatchMs
	windowStart := c.windowResetAt
	c.mu.RUnlock()

	byClass := make(map[OperationClass]ClassReport, len(allClasses))
	var totalOps, totalSuccess, totalErrors int64

	for _, cl := range allClasses {
		cc := c.classes[cl]
		total := cc.total.Load()
		successes := cc.successes.Load()
		errs := cc.errors.Load()
		durSum := cc.durationSum.Load()

		avgMs := 0.0
		if total > 0 {
			avgMs = float64(durSum) / float64(total)
		}

		byClass[cl] = ClassReport{
			Total:      total,
			Successes:  successes,
			Errors:     errs,
			AvgMs:      avgMs,
			ActiveNow:  cc.activeNow.Load(),
			ActivePeak: cc.activePeak.Load(),
		}

		totalOps += total
		totalSuccess += successes
		totalErrors += errs
	}

	efficiency := 0.0
	errorRate := 0.0
	if totalOps > 0 {
		efficiency = float64(totalSuccess) / float64(totalOps)
		errorRate = float64(totalErrors) / float64(totalOps)
	}

	elapsedMs := float64(time.Since(windowStart).Milliseconds())
	throughput := 0.0
	if elapsedMs > 0 {
		throughput = float64(c.windowOps.Load()) * 1000 / elapsedMs
	}

	return Report{
		TotalOperations:    totalOps,
		TotalErrors:        c.totalErrors.Load(),
		TotalBatches:       c.totalBatches.Load(),
		Efficiency:         efficiency,
		ErrorRate:          errorRate,
		CurrentThroughput:  throughput,
		AvgBatchSize:       avgBatchSize,
		AvgBatchDurationMs: avgBatchMs,
		ByClass:            byClass,
		ErrorBreakdown:     c.errors.snapshot(),
	}
}

// Recommendations is the (recommendedBatchSize, recommendedConcurrency)
// pair computed from the table in spec.md §4.3.
type Recommendations struct {
	RecommendedBatchSize   int
	RecommendedConcurrency int
}

// GetRecommendations applies the efficiency/throughput lookup table
// from spec.md §4.3.
func (c *Collector) GetRecommendations() Recommendations {
	r := c.GetReport()
	switch {
	case r.Efficiency > 0.9 && r.CurrentThroughput > 100:
		return Recommendations{500, 200}
	case r.Efficiency > 0.8 && r.CurrentThroughput > 50:
		return Recommendations{300, 100}
	case r.Efficiency > 0.7:
		return Recommendations{200, 50}
	default:
		return Recommendations{100, 20}
	}
}
