package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-economy/simkernel/pkg/observability"
)

func newTestCollector(t *testing.T) *Collector {
	logger := observability.NewLogger(observability.LoggerConfig{ServiceName: "diagnostics-test"})
	c, err := New(Config{RingCapacity: 1000, P95WarningThreshold: 50 * time.Millisecond, PhaseHotspotFraction: 0.4}, logger)
	require.NoError(t, err)
	return c
}

func recordSynthetic(c *Collector, tick uint64, total time.Duration, matching time.Duration) {
	r := c.Begin(tick)
	r.phases[PhaseMatching] = matching
	r.totalStart = time.Now().Add(-total)
	c.Finish(context.Background(), r, false)
}

func TestGenerateReportEmptyWindow(t *testing.T) {
	c := newTestCollector(t)
	report := c.GenerateReport(0)
	assert.Equal(t, 0, report.SampleCount)
	assert.Equal(t, "stable", report.MemoryTrend)
}

func TestGenerateReportComputesAvgMinMax(t *testing.T) {
	c := newTestCollector(t)
	recordSynthetic(c, 1, 10*time.Millisecond, 5*time.Millisecond)
	recordSynthetic(c, 2, 20*time.Millisecond, 5*time.Millisecond)
	recordSynthetic(c, 3, 30*time.Millisecond, 5*time.Millisecond)

	report := c.GenerateReport(0)
	require.Equal(t, 3, report.SampleCount)
	assert.InDelta(t, 20*time.Millisecond, report.TickAvg, float64(2*time.Millisecond))
	assert.InDelta(t, 10*time.Millisecond, report.TickMin, float64(2*time.Millisecond))
	assert.InDelta(t, 30*time.Millisecond, report.TickMax, float64(2*time.Millisecond))
}

func TestGenerateReportWindowLimitsToLastN(t *testing.T) {
	c := newTestCollector(t)
	for tick := uint64(1); tick <= 10; tick++ {
		recordSynthetic(c, tick, 10*time.Millisecond, time.Millisecond)
	}
	report := c.GenerateReport(3)
	assert.Equal(t, 3, report.SampleCount)
}

func TestSlowTickCountedInReport(t *testing.T) {
	c := newTestCollector(t)
	r := c.Begin(1)
	r.totalStart = time.Now().Add(-60 * time.Millisecond)
	c.Finish(context.Background(), r, true)

	report := c.GenerateReport(0)
	assert.Equal(t, 1, report.SlowTickCount)
}

func TestPhaseHotspotWarning(t *testing.T) {
	c := newTestCollector(t)
	for tick := uint64(1); tick <= 5; tick++ {
		recordSynthetic(c, tick, 10*time.Millisecond, 8*time.Millisecond) // matching = 80% of total
	}
	report := c.GenerateReport(0)
	assert.Equal(t, PhaseMatching, report.Hotspots[0])
	found := false
	for _, w := range report.Warnings {
		if w == "phase matching exceeds hotspot fraction of total tick time" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRecorderPhaseStartEndAccumulates(t *testing.T) {
	c := newTestCollector(t)
	r := c.Begin(1)
	r.PhaseStart(PhaseProduction)
	time.Sleep(2 * time.Millisecond)
	r.PhaseEnd(PhaseProduction)

	sample := c.Finish(context.Background(), r, false)
	assert.Greater(t, sample.Phases[PhaseProduction], time.Duration(0))
}
