package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplySampleUpdatesRollingAverages(t *testing.T) {
	h := &ResourceHealth{ResourceID: "r1"}

	h.ApplySample(true, 100)
	assert.Equal(t, int64(1), h.TotalRequests)
	assert.Equal(t, int64(1), h.SuccessCount)
	assert.InDelta(t, 100, h.AvgRespMs, 0.001)
	assert.Equal(t, 0.0, h.ErrorRate)

	h.ApplySample(false, 300)
	assert.Equal(t, int64(2), h.TotalRequests)
	assert.Equal(t, int64(1), h.SuccessCount)
	assert.InDelta(t, 200, h.AvgRespMs, 0.001)
	assert.InDelta(t, 0.5, h.ErrorRate, 0.001)
}

func TestRecomputeHealthScoreWeighting(t *testing.T) {
	h := &ResourceHealth{
		Uptime:        1.0,
		AvgRespMs:     100,
		P95RespMs:     200,
		TotalRequests: 10,
		SuccessCount:  10,
	}
	h.RecomputeHealthScore()
	assert.InDelta(t, 1.0, h.HealthScore, 0.001)
	assert.Equal(t, HealthStatusUp, h.Status)
}

func TestRecomputeHealthScoreDegradedAndDown(t *testing.T) {
	degraded := &ResourceHealth{
		Uptime:        0.5,
		AvgRespMs:     600,
		P95RespMs:     2000,
		TotalRequests: 10,
		SuccessCount:  6,
	}
	degraded.RecomputeHealthScore()
	assert.Equal(t, HealthStatusDegraded, degraded.Status)

	down := &ResourceHealth{
		Uptime:        0.1,
		AvgRespMs:     5000,
		P95RespMs:     8000,
		TotalRequests: 10,
		SuccessCount:  1,
	}
	down.RecomputeHealthScore()
	assert.Equal(t, HealthStatusDown, down.Status)
}
