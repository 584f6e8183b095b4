package production

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/internal/market"
	"github.com/industrial-economy/simkernel/internal/orderbook"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

const (
	ironOre = 1
	steel   = 2
	ownerA  = 1
	buildingB1 = 1
	defB1      = 1
)

func newHarness(t *testing.T) (*Engine, *ledger.Ledger, *market.Tracker) {
	logger := observability.NewLogger(observability.LoggerConfig{ServiceName: "production-test"})
	led := ledger.New(logger)
	book := orderbook.New(logger, 10, 100, 10)
	mkt := market.New(market.Config{
		MinMultiplier: 0.2, MaxMultiplier: 5, ImbalanceThreshold: 0.05,
		AdjustmentRate: 0.02, SupplyDemandDecay: 0.995, DemandCycleLength: 30,
		DemandAmplitude: 0.3, HistoryCapacity: 100,
	}, logger, 1)
	require.NoError(t, mkt.RegisterCommodity(market.Commodity{ID: ironOre, BasePrice: 50, Category: "staple"}))
	require.NoError(t, mkt.RegisterCommodity(market.Commodity{ID: steel, BasePrice: 200, Category: "staple"}))

	e := New(Config{
		CashProtectionThreshold:   1000,
		AutoPurchaseMaxSpendRatio: 0.3,
		AutoPurchaseValidityTicks: 24,
	}, led, book, mkt, logger)
	return e, led, mkt
}

// TestS4ProductionCycle mirrors the canonical single-recipe cycle: B1 has
// recipe 1 iron-ore -> 1 steel, ticks_required 3, aggregation_factor 2.
// Owner holds 100 iron-ore, 0 steel; after 3 ticks iron-ore is 98, steel is
// 2, and one cycle completed.
func TestS4ProductionCycle(t *testing.T) {
	e, led, mkt := newHarness(t)

	led.CreateEntity(ownerA, ledger.EntityPlayer, 0)
	require.NoError(t, led.AddGoods(ownerA, ironOre, 100, 10, 0, "seed"))

	e.RegisterDefinition(Definition{
		ID: defB1,
		Recipes: map[uint64]Recipe{
			1: {
				Inputs:           []RecipeItem{{Commodity: ironOre, Amount: 1}},
				Outputs:          []RecipeItem{{Commodity: steel, Amount: 1}},
				TicksRequired:    3,
				InputMultiplier:  1.0,
				OutputMultiplier: 1.0,
			},
		},
		DefaultMethodID:      1,
		MonthlyMaintenance:   0,
		CostMultiplier:       1.0,
		EfficiencyMultiplier: 1.0,
	})
	e.AddBuilding(&Building{
		ID: buildingB1, DefinitionID: defB1, Owner: ownerA,
		Status: StatusRunning, CurrentMethodID: 1,
		AggregationFactor: 2, Efficiency: 1.0, Utilization: 1.0,
	})

	for tick := uint64(1); tick <= 3; tick++ {
		e.Tick(context.Background(), tick)
	}

	ironAvail, err := led.AvailableQuantity(ownerA, ironOre)
	require.NoError(t, err)
	assert.Equal(t, int64(98), ironAvail)

	steelAvail, err := led.AvailableQuantity(ownerA, steel)
	require.NoError(t, err)
	assert.Equal(t, int64(2), steelAvail)

	b, err := e.Building(buildingB1)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, b.Status)

	_ = mkt
}

func TestRunRecipeReportsShortageAndTriggersAutoPurchase(t *testing.T) {
	e, led, _ := newHarness(t)
	led.CreateEntity(ownerA, ledger.EntityPlayer, 100_000)
	// no iron-ore stock at all

	e.RegisterDefinition(Definition{
		ID: defB1,
		Recipes: map[uint64]Recipe{
			1: {
				Inputs:           []RecipeItem{{Commodity: ironOre, Amount: 5}},
				Outputs:          []RecipeItem{{Commodity: steel, Amount: 1}},
				TicksRequired:    3,
				InputMultiplier:  1.0,
				OutputMultiplier: 1.0,
			},
		},
		DefaultMethodID:      1,
		CostMultiplier:       1.0,
		EfficiencyMultiplier: 1.0,
	})
	e.AddBuilding(&Building{
		ID: buildingB1, DefinitionID: defB1, Owner: ownerA,
		Status: StatusRunning, CurrentMethodID: 1,
		AggregationFactor: 1, Efficiency: 1.0, Utilization: 1.0,
	})

	shortages := e.Tick(context.Background(), 1)
	require.Len(t, shortages, 1)
	assert.Equal(t, uint64(buildingB1), shortages[0].Building)
	require.Len(t, shortages[0].Missing, 1)
	assert.Equal(t, int64(5), shortages[0].Missing[0].Amount)

	b, _ := e.Building(buildingB1)
	assert.Equal(t, StatusNoInput, b.Status)

	// the 5 missing iron-ore were ordered: 5 × 50 is within 30% of 100,000
	assert.Len(t, e.pending, 1)
}

func TestMaintenanceChargedEveryTickWhileRunning(t *testing.T) {
	e, led, _ := newHarness(t)
	led.CreateEntity(ownerA, ledger.EntityPlayer, 10_000)
	require.NoError(t, led.AddGoods(ownerA, ironOre, 100, 10, 0, "seed"))

	e.RegisterDefinition(Definition{
		ID: defB1,
		Recipes: map[uint64]Recipe{
			1: {Inputs: []RecipeItem{{Commodity: ironOre, Amount: 1}}, Outputs: []RecipeItem{{Commodity: steel, Amount: 1}}, TicksRequired: 10, InputMultiplier: 1, OutputMultiplier: 1},
		},
		DefaultMethodID:      1,
		MonthlyMaintenance:   300, // 10/tick at cost_multiplier 1
		CostMultiplier:       1.0,
		EfficiencyMultiplier: 1.0,
	})
	e.AddBuilding(&Building{
		ID: buildingB1, DefinitionID: defB1, Owner: ownerA,
		Status: StatusRunning, CurrentMethodID: 1,
		AggregationFactor: 1, Efficiency: 1.0, Utilization: 1.0,
	})

	e.Tick(context.Background(), 1)

	cash, err := led.Cash(ownerA)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000-10), cash)
}

func TestConstructionAdvancesThenSwitchesToRunning(t *testing.T) {
	e, led, _ := newHarness(t)
	led.CreateEntity(ownerA, ledger.EntityPlayer, 1_000)

	e.RegisterDefinition(Definition{
		ID:                        defB1,
		ConstructionTicksRequired: 2,
		DefaultMethodID:           1,
		Recipes:                   map[uint64]Recipe{},
		CostMultiplier:            1.0,
		EfficiencyMultiplier:      1.0,
	})
	e.AddBuilding(&Building{ID: buildingB1, DefinitionID: defB1, Owner: ownerA, Status: StatusUnderConstruction})

	e.Tick(context.Background(), 1)
	b, _ := e.Building(buildingB1)
	assert.Equal(t, StatusUnderConstruction, b.Status)

	e.Tick(context.Background(), 2)
	b, _ = e.Building(buildingB1)
	assert.Equal(t, StatusRunning, b.Status)
	assert.Equal(t, uint64(1), b.CurrentMethodID)
}
