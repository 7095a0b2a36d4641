package adaptive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"resourcecore/pkg/admission"
	"resourcecore/pkg/telemetry"
)

type fixedSampler struct {
	cpu float64
	mem float64
}

func (f fixedSampler) CPULoad(ctx context.Context) (float64, error) { return f.cpu, nil }
func (f fixedSampler) MemUsage(ctx context.Context) (float64, error) { return f.mem, nil }

func seedEfficientThroughput(collector *telemetry.Collector) {
	for i := 0; i < 150; i++ {
		collector.RecordOperation(telemetry.ClassSync, true, 5)
	}
	collector.RecordBatch(150, 100)
}

// TestAdaptiveResizeUnderSustainedLoad is scenario S5 from spec.md §8:
// fixed CPU 0.30, mem 0.40, efficiency 0.95, throughput 150 -> batch
// size grows by 50 (clamped), the dominant class's (Sync) capacity
// grows by its delta, control period grows toward 120s.
func TestAdaptiveResizeUnderSustainedLoad(t *testing.T) {
	collector := telemetry.NewCollector()
	seedEfficientThroughput(collector)

	adm := admission.NewController(admission.DefaultCapacities(), collector)
	cfg := DefaultConfig()
	c := NewController(cfg, fixedSampler{cpu: 0.30, mem: 0.40}, collector, adm)

	initialBatch := c.State().BatchSize()
	initialPeriod := c.State().ControlPeriod()

	c.Tick(context.Background())

	assert.Equal(t, initialBatch+50, c.State().BatchSize())
	assert.Greater(t, c.State().ControlPeriod(), initialPeriod)

	util := adm.Utilization()
	assert.Greater(t, util[admission.ClassSync].Capacity, admission.DefaultCapacities().Sync)
}

func TestBatchSizeNeverExceedsBounds(t *testing.T) {
	collector := telemetry.NewCollector()
	seedEfficientThroughput(collector)
	adm := admission.NewController(admission.DefaultCapacities(), collector)
	cfg := DefaultConfig()
	c := NewController(cfg, fixedSampler{cpu: 0.1, mem: 0.1}, collector, adm)

	for i := 0; i < 50; i++ {
		c.Tick(context.Background())
	}

	assert.LessOrEqual(t, c.State().BatchSize(), cfg.MaxBatch)
	assert.GreaterOrEqual(t, c.State().BatchSize(), cfg.MinBatch)
}

func TestControlPeriodStaysWithinBounds(t *testing.T) {
	collector := telemetry.NewCollector()
	adm := admission.NewController(admission.DefaultCapacities(), collector)
	cfg := DefaultConfig()
	c := NewController(cfg, fixedSampler{cpu: 0.95, mem: 0.95}, collector, adm)

	for i := 0; i < 50; i++ {
		c.Tick(context.Background())
	}

	assert.GreaterOrEqual(t, c.State().ControlPeriod(), cfg.ControlPeriodMin)
	assert.LessOrEqual(t, c.State().ControlPeriod(), cfg.ControlPeriodMax)
}

func TestPerClassCapacityStaysWithinDeclaredBounds(t *testing.T) {
	collector := telemetry.NewCollector()
	for i := 0; i < 500; i++ {
		collector.RecordOperation(telemetry.ClassDiscovery, true, 5)
	}
	adm := admission.NewController(admission.DefaultCapacities(), collector)
	cfg := DefaultConfig()
	c := NewController(cfg, fixedSampler{cpu: 0.1, mem: 0.1}, collector, adm)

	for i := 0; i < 100; i++ {
		c.Tick(context.Background())
	}

	util := adm.Utilization()
	assert.GreaterOrEqual(t, util[admission.ClassDiscovery].Capacity, int64(5))
	assert.LessOrEqual(t, util[admission.ClassDiscovery].Capacity, int64(200))
}

func TestStartStopLifecycle(t *testing.T) {
	collector := telemetry.NewCollector()
	adm := admission.NewController(admission.DefaultCapacities(), collector)
	cfg := DefaultConfig()
	cfg.InitialControlPeriod = 50 * time.Millisecond
	cfg.ControlPeriodMin = 50 * time.Millisecond
	c := NewController(cfg, fixedSampler{cpu: 0.5, mem: 0.5}, collector, adm)

	c.Start()
	time.Sleep(120 * time.Millisecond)
	c.Stop()
}
