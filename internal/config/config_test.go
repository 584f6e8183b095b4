package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(200), cfg.BaseTickMillis)
	assert.Equal(t, uint64(50), cfg.FullSnapshotInterval)
	assert.Equal(t, 3650, cfg.PriceHistoryCapacity)
	assert.Equal(t, 3, cfg.MaxOrdersPerEntityPerCommodity)
	assert.Equal(t, 100, cfg.MaxOrdersPerCommodity)
	assert.Equal(t, uint64(24), cfg.DefaultOrderValidityTicks)
	assert.Equal(t, uint64(10), cfg.ExpirySweepInterval)
	assert.Equal(t, 100, cfg.MatchingMaxPairsPerCommodity)
	assert.InDelta(t, 0.2, cfg.PriceMinMultiplier, 1e-9)
	assert.InDelta(t, 5.0, cfg.PriceMaxMultiplier, 1e-9)
	assert.InDelta(t, 0.05, cfg.PriceImbalanceThreshold, 1e-9)
	assert.InDelta(t, 0.02, cfg.PriceAdjustmentRate, 1e-9)
	assert.InDelta(t, 0.995, cfg.SupplyDemandDecay, 1e-9)
	assert.Equal(t, uint64(30), cfg.DemandCycleLength)
	assert.InDelta(t, 0.3, cfg.DemandAmplitude, 1e-9)
	assert.InDelta(t, 0.30, cfg.AutoPurchaseMaxSpendRatio, 1e-9)
	assert.Equal(t, int64(100_000_000), cfg.BailoutBase)
	assert.Equal(t, int64(300_000_000), cfg.BailoutCap)
	assert.False(t, cfg.DebugAssertions)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 200*time.Millisecond, cfg.BaseTickDuration())
	assert.Equal(t, 50*time.Millisecond, cfg.SlowTickDuration())
}
