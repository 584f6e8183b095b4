// Package config holds the kernel's configuration surface as a plain struct.
// There is deliberately no env/flag/file loading here: callers build a
// Config literal, or start from Default() and override fields.
package config

import "time"

// Config mirrors the kernel's full tunable surface. All fields have sane
// defaults via Default(); a zero-value Config is not meant to be used
// directly.
type Config struct {
	// Tick scheduler
	BaseTickMillis       int64
	SlowTickMillis       int64
	FullSnapshotInterval uint64

	// Ring buffer / history
	PriceHistoryCapacity int

	// Order book
	MaxOrdersPerEntityPerCommodity int
	MaxOrdersPerCommodity          int
	DefaultOrderValidityTicks      uint64
	ExpirySweepInterval            uint64

	// Matching engine
	MatchingMaxPairsPerCommodity int
	FullMatchSweepInterval       uint64

	// Price discovery
	PriceMinMultiplier      float64
	PriceMaxMultiplier      float64
	PriceImbalanceThreshold float64
	PriceAdjustmentRate     float64
	SupplyDemandDecay       float64

	// Consumer demand generator
	DemandCycleLength uint64
	DemandAmplitude   float64

	// Production engine
	CashProtectionThreshold   int64
	AutoPurchaseMaxSpendRatio float64

	// Competitor bailout rule
	BailoutBase               int64
	BailoutPerBuilding        int64
	BailoutPerAggregationLevel int64
	BailoutCap                int64

	// Competitor policy runtime
	CompetitorDecisionsPerTick      int
	CompetitorDecisionIntervalMin   uint64
	CompetitorDecisionIntervalMax   uint64

	// Diagnostics / safety
	DebugAssertions bool
}

// Default returns the numeric defaults used throughout the system's
// documentation and scenario tests.
func Default() Config {
	return Config{
		BaseTickMillis:       200,
		SlowTickMillis:       50,
		FullSnapshotInterval: 50,

		PriceHistoryCapacity: 3650,

		MaxOrdersPerEntityPerCommodity: 3,
		MaxOrdersPerCommodity:          100,
		DefaultOrderValidityTicks:      24,
		ExpirySweepInterval:            10,

		MatchingMaxPairsPerCommodity: 100,
		FullMatchSweepInterval:       5,

		PriceMinMultiplier:      0.2,
		PriceMaxMultiplier:      5.0,
		PriceImbalanceThreshold: 0.05,
		PriceAdjustmentRate:     0.02,
		SupplyDemandDecay:       0.995,

		DemandCycleLength: 30,
		DemandAmplitude:   0.3,

		CashProtectionThreshold:  0,
		AutoPurchaseMaxSpendRatio: 0.30,

		BailoutBase:               100_000_000,
		BailoutPerBuilding:        20_000_000,
		BailoutPerAggregationLevel: 30_000_000,
		BailoutCap:                300_000_000,

		CompetitorDecisionsPerTick:    2,
		CompetitorDecisionIntervalMin: 15,
		CompetitorDecisionIntervalMax: 35,

		DebugAssertions: false,
	}
}

// BaseTickDuration returns BaseTickMillis as a time.Duration.
func (c Config) BaseTickDuration() time.Duration {
	return time.Duration(c.BaseTickMillis) * time.Millisecond
}

// SlowTickDuration returns SlowTickMillis as a time.Duration.
func (c Config) SlowTickDuration() time.Duration {
	return time.Duration(c.SlowTickMillis) * time.Millisecond
}
