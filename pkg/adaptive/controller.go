// Package adaptive implements the Adaptive Controller (C3): a periodic,
// self-resizing control loop that reads host CPU/memory and telemetry
// and retunes admission capacities and the current batch size.
package adaptive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"resourcecore/pkg/admission"
	"resourcecore/pkg/telemetry"
)

// Config holds the tunable thresholds named in spec.md §4.3's
// recognized-options list.
type Config struct {
	CPUHigh, CPULow float64
	MemHigh, MemLow float64

	MinBatch, MaxBatch int
	InitialBatchSize   int

	MinConcurrency, MaxConcurrency int

	ControlPeriodMin, ControlPeriodMax time.Duration
	InitialControlPeriod               time.Duration

	// Per-class resize deltas (grow, shrink), spec.md §4.3 step 5.
	DiscoveryDelta, SyncDelta, ValidationDelta, MonitoringDelta, APICallDelta ClassDelta

	PerClassMin, PerClassMax map[admission.Class][2]int64
}

// ClassDelta is the (grow, shrink) step size for one class.
type ClassDelta struct {
	Grow   int64
	Shrink int64
}

// DefaultConfig returns the constants named throughout spec.md §4.3.
func DefaultConfig() Config {
	return Config{
		CPUHigh: 0.80, CPULow: 0.40,
		MemHigh: 0.85, MemLow: 0.50,
		MinBatch: 50, MaxBatch: 1000, InitialBatchSize: 200,
		MinConcurrency: 10, MaxConcurrency: 500,
		ControlPeriodMin: 10 * time.Second, ControlPeriodMax: 120 * time.Second,
		InitialControlPeriod: 30 * time.Second,
		DiscoveryDelta:       ClassDelta{Grow: 10, Shrink: 5},
		SyncDelta:            ClassDelta{Grow: 15, Shrink: 10},
		ValidationDelta:      ClassDelta{Grow: 5, Shrink: 3},
		MonitoringDelta:      ClassDelta{Grow: 8, Shrink: 5},
		APICallDelta:         ClassDelta{Grow: 50, Shrink: 30},
		PerClassMin: map[admission.Class][2]int64{}, // filled by caller if overriding [min,max] bounds
	}
}

// HostSampler reads live CPU and memory utilization. Production code
// uses gopsutilSampler; tests substitute a fixed-value fake.
type HostSampler interface {
	CPULoad(ctx context.Context) (float64, error)
	MemUsage(ctx context.Context) (float64, error)
}

type gopsutilSampler struct{}

func (gopsutilSampler) CPULoad(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0] / 100.0, nil
}

func (gopsutilSampler) MemUsage(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100.0, nil
}

// NewGopsutilSampler returns the production HostSampler backed by
// gopsutil direct samples — cpuLoad is defined as the instantaneous
// cpu.Percent reading, not loadAverage/NumCPU (DESIGN.md resolves this
// ambiguity explicitly).
func NewGopsutilSampler() HostSampler { return gopsutilSampler{} }

// State is the live adaptive state: current batch size, current control
// period and processing interval — a process-wide singleton (spec.md
// §3). The per-class concurrency caps live in the admission Controller.
type State struct {
	mu sync.RWMutex

	batchSize     int
	controlPeriod time.Duration

	processingIntervalMs atomic.Int64
}

func newState(cfg Config) *State {
	s := &State{
		batchSize:     cfg.InitialBatchSize,
		controlPeriod: cfg.InitialControlPeriod,
	}
	s.processingIntervalMs.Store(1000)
	return s
}

// BatchSize returns the current adaptive batch size.
func (s *State) BatchSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchSize
}

// ControlPeriod returns the current control-loop tick period.
func (s *State) ControlPeriod() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controlPeriod
}

// ProcessingInterval returns the adaptive processing interval surfaced
// to the Job Worker (spec.md §4.5.5 step e) — independent of the
// control period.
func (s *State) ProcessingInterval() time.Duration {
	return time.Duration(s.processingIntervalMs.Load()) * time.Millisecond
}

func (s *State) setBatchSize(n int) {
	s.mu.Lock()
	s.batchSize = n
	s.mu.Unlock()
}

func (s *State) setControlPeriod(d time.Duration) {
	s.mu.Lock()
	s.controlPeriod = d
	s.mu.Unlock()
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Controller is the Adaptive Controller (C3).
type Controller struct {
	cfg       Config
	state     *State
	sampler   HostSampler
	collector *telemetry.Collector
	admission *admission.Controller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewController wires the Adaptive Controller's dependencies: it reads
// Telemetry and writes Admission, nothing more (spec.md §9 — no cyclic
// references).
func NewController(cfg Config, sampler HostSampler, collector *telemetry.Collector, adm *admission.Controller) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:       cfg,
		state:     newState(cfg),
		sampler:   sampler,
		collector: collector,
		admission: adm,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// State exposes the live adaptive state for readers (the Job Worker
// reads BatchSize/ProcessingInterval).
func (c *Controller) State() *State { return c.state }

// Start launches the self-resizing control loop. Like
// pkg/resilience.HealthMonitor, lifecycle is ctx/cancel/wg — Stop
// cancels and waits.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop cancels the control loop and waits for its goroutine to exit.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
	c.timerMu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerMu.Unlock()
}

func (c *Controller) run() {
	defer c.wg.Done()

	c.timerMu.Lock()
	c.timer = time.NewTimer(c.state.ControlPeriod())
	c.timerMu.Unlock()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.timer.C:
			c.Tick(c.ctx)
			c.timerMu.Lock()
			c.timer.Reset(c.state.ControlPeriod())
			c.timerMu.Unlock()
		}
	}
}

// Tick performs one control-loop iteration synchronously: sample host,
// read telemetry, recompute batch size / concurrency / per-class
// capacities / control period, and write the new capacities to the
// Admission Controller. Exported so tests and S5 ("run the adaptive
// controller once") can drive it directly.
func (c *Controller) Tick(ctx context.Context) {
	cpuLoad, _ := c.sampler.CPULoad(ctx)
	memUse, _ := c.sampler.MemUsage(ctx)
	report := c.collector.GetReport()
	rec := c.collector.GetRecommendations()

	c.recomputeBatchSize(cpuLoad, memUse, report, rec)
	c.recomputeGlobalConcurrency(cpuLoad, report)
	c.recomputePerClassCapacities(cpuLoad, memUse, report)
	c.recomputeControlPeriod(cpuLoad, memUse, report)
}

func (c *Controller) recomputeBatchSize(cpuLoad, memUse float64, report telemetry.Report, rec telemetry.Recommendations) {
	current := c.state.BatchSize()
	var next int

	switch {
	case cpuLoad < c.cfg.CPULow && memUse < c.cfg.MemLow && report.Efficiency > 0.85:
		next = current + 50
	case cpuLoad > c.cfg.CPUHigh || memUse > c.cfg.MemHigh || report.Efficiency < 0.70:
		next = current - 50
	default:
		next = rec.RecommendedBatchSize
	}

	c.state.setBatchSize(clampInt(next, c.cfg.MinBatch, c.cfg.MaxBatch))
}

func (c *Controller) recomputeGlobalConcurrency(cpuLoad float64, report telemetry.Report) {
	// The global concurrency level folds into per-class resizing below;
	// tracked here only to honor spec.md §4.3 step 4's growth/shrink
	// gate for logging/observability purposes via the processing
	// interval, which tightens as concurrency pressure rises.
	switch {
	case report.CurrentThroughput < 50 && report.ErrorRate < 0.05:
		c.state.processingIntervalMs.Store(500)
	case cpuLoad > c.cfg.CPUHigh || report.ErrorRate > 0.15:
		c.state.processingIntervalMs.Store(2000)
	default:
		c.state.processingIntervalMs.Store(1000)
	}
}

func (c *Controller) recomputePerClassCapacities(cpuLoad, memUse float64, report telemetry.Report) {
	util := c.admission.Utilization()

	type classSpec struct {
		class admission.Class
		delta ClassDelta
		min   int64
		max   int64
	}

	specs := []classSpec{
		{admission.ClassDiscovery, c.cfg.DiscoveryDelta, 5, 200},
		{admission.ClassSync, c.cfg.SyncDelta, 10, 300},
		{admission.ClassValidation, c.cfg.ValidationDelta, 5, 100},
		{admission.ClassMonitoring, c.cfg.MonitoringDelta, 5, 150},
		{admission.ClassAPICall, c.cfg.APICallDelta, 20, 1000},
	}

	var totalOps int64
	for _, cr := range report.ByClass {
		totalOps += cr.Total
	}

	for _, spec := range specs {
		snap, ok := util[spec.class]
		if !ok {
			continue
		}
		if bounds, ok := c.cfg.PerClassMin[spec.class]; ok {
			spec.min, spec.max = bounds[0], bounds[1]
		}

		share := 0.0
		if totalOps > 0 {
			share = float64(report.ByClass[spec.class].Total) / float64(totalOps)
		}

		gatingLow := cpuLoad < c.cfg.CPULow && memUse < c.cfg.MemLow
		gatingHigh := cpuLoad > c.cfg.CPUHigh || memUse > c.cfg.MemHigh

		// ApiCall additionally gates on error rate (spec.md §4.3 step 5).
		if spec.class == admission.ClassAPICall && report.ErrorRate > 0.15 {
			gatingHigh = true
		}

		next := snap.Capacity
		switch {
		case share > 0.3 && gatingLow:
			next += spec.delta.Grow
		case share < 0.1 || gatingHigh:
			next -= spec.delta.Shrink
		}

		c.admission.Resize(spec.class, clampInt64(next, spec.min, spec.max))
	}
}

func clampInt64(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (c *Controller) recomputeControlPeriod(cpuLoad, memUse float64, report telemetry.Report) {
	current := c.state.ControlPeriod()
	var next time.Duration

	pressure := cpuLoad > c.cfg.CPUHigh || memUse > c.cfg.MemHigh || report.Efficiency < 0.70
	lowUtilHighEfficiency := cpuLoad < c.cfg.CPULow && memUse < c.cfg.MemLow && report.Efficiency > 0.85

	switch {
	case pressure:
		next = current - 10*time.Second
	case lowUtilHighEfficiency:
		next = current + 10*time.Second
	default:
		next = current
	}

	c.state.setControlPeriod(clampDuration(next, c.cfg.ControlPeriodMin, c.cfg.ControlPeriodMax))
}
