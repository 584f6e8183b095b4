package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-economy/simkernel/internal/competitor"
	"github.com/industrial-economy/simkernel/internal/config"
	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/internal/market"
	"github.com/industrial-economy/simkernel/internal/orderbook"
	"github.com/industrial-economy/simkernel/internal/production"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

const (
	testPlayer      = 1
	testCompetitor  = 2
	testIronOre     = 10
	testSteel       = 11
	testDefinitionID = 1
)

func newTestKernel(t *testing.T, seed int64) *SimulationKernel {
	logger := observability.NewLogger(observability.LoggerConfig{ServiceName: "kernel-test"})
	cfg := config.Default()
	k := New(cfg, logger, nil, nil, nil, nil, seed)

	k.RegisterEntity(testPlayer, ledger.EntityPlayer, 1_000_000)
	k.RegisterEntity(testCompetitor, ledger.EntityCompetitor, 1_000_000)

	require.NoError(t, k.RegisterCommodity(market.Commodity{ID: testIronOre, BasePrice: 50, Category: "staple", ConsumerDemandRate: 400}))
	require.NoError(t, k.RegisterCommodity(market.Commodity{ID: testSteel, BasePrice: 200, Category: "default", ConsumerDemandRate: 150}))

	k.RegisterBuildingDefinition(production.Definition{
		ID:                   testDefinitionID,
		DefaultMethodID:      1,
		MonthlyMaintenance:   3000,
		CostMultiplier:       1.0,
		EfficiencyMultiplier: 1.0,
		Recipes: map[uint64]production.Recipe{
			1: {
				Inputs:           []production.RecipeItem{{Commodity: testIronOre, Amount: 1}},
				Outputs:          []production.RecipeItem{{Commodity: testSteel, Amount: 1}},
				TicksRequired:    3,
				InputMultiplier:  1.0,
				OutputMultiplier: 1.0,
			},
		},
	})

	k.RegisterCompetitor(testCompetitor, competitor.Persona{
		Aggressiveness:      0.5,
		RiskTolerance:       0.5,
		PreferredIndustries: []uint64{testSteel},
	})

	return k
}

func TestTickRunsWithoutError(t *testing.T) {
	k := newTestKernel(t, 1)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		update := k.Tick(ctx)
		assert.Equal(t, uint64(i+1), update.Tick)
	}
	assert.Equal(t, uint64(20), k.CurrentTick())
}

func TestPurchaseBuildingAcceptedAndCharged(t *testing.T) {
	k := newTestKernel(t, 1)
	cashBefore, err := k.ledger.Cash(testPlayer)
	require.NoError(t, err)

	result, err := k.PurchaseBuilding(testPlayer, testDefinitionID)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Greater(t, result.BuildingID, uint64(0))

	cashAfter, err := k.ledger.Cash(testPlayer)
	require.NoError(t, err)
	assert.Equal(t, cashBefore-result.LaborCostCharged, cashAfter)
}

func TestPurchaseBuildingRejectsUnknownDefinition(t *testing.T) {
	k := newTestKernel(t, 1)
	result, err := k.PurchaseBuilding(testPlayer, 999)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonUnknownDefinition, result.Reason)
}

func TestSubmitOrderRejectsUnaffordableBuy(t *testing.T) {
	k := newTestKernel(t, 1)
	result, err := k.SubmitOrder(testPlayer, testSteel, orderbook.Buy, 1_000_000, 500, 24)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, OrderReasonInsufficientCash, result.Reason)
}

func TestSubmitOrderRejectsSellWithoutStock(t *testing.T) {
	k := newTestKernel(t, 1)
	result, err := k.SubmitOrder(testPlayer, testSteel, orderbook.Sell, 10, 100, 24)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, OrderReasonInsufficientReserved, result.Reason)
}

func TestSubmitOrderAcceptsAffordableBuy(t *testing.T) {
	k := newTestKernel(t, 1)
	result, err := k.SubmitOrder(testPlayer, testSteel, orderbook.Buy, 10, 100, 24)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Greater(t, result.OrderID, uint64(0))
}

func TestCancelOrderRequiresOwnership(t *testing.T) {
	k := newTestKernel(t, 1)
	result, err := k.SubmitOrder(testPlayer, testSteel, orderbook.Buy, 10, 100, 24)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	assert.False(t, k.CancelOrder(testCompetitor, result.OrderID))
	assert.True(t, k.CancelOrder(testPlayer, result.OrderID))
}

// TestCompetitorDecisionCapEnforced exercises the per-entity order cap (K1)
// through the competitor runtime: running many ticks never leaves a
// competitor with more than the configured number of active orders on one
// commodity's book.
func TestCompetitorDecisionCapEnforced(t *testing.T) {
	k := newTestKernel(t, 7)
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		k.Tick(ctx)
	}
	assert.LessOrEqual(t, k.book.ActiveCountForOwner(testSteel, testCompetitor), k.cfg.MaxOrdersPerEntityPerCommodity)
}

// TestResetRebuildsIdenticalState verifies that Reset reproduces the exact
// same sequence of tick outcomes as a freshly constructed kernel given the
// same registrations and seed — the reset-idempotence contract.
func TestResetRebuildsIdenticalState(t *testing.T) {
	k := newTestKernel(t, 99)
	ctx := context.Background()

	var firstRunPrices []int64
	for i := 0; i < 30; i++ {
		k.Tick(ctx)
		p, err := k.market.Price(testSteel)
		require.NoError(t, err)
		firstRunPrices = append(firstRunPrices, p)
	}

	k.Reset()
	assert.Equal(t, uint64(0), k.CurrentTick())

	var secondRunPrices []int64
	for i := 0; i < 30; i++ {
		k.Tick(ctx)
		p, err := k.market.Price(testSteel)
		require.NoError(t, err)
		secondRunPrices = append(secondRunPrices, p)
	}

	assert.Equal(t, firstRunPrices, secondRunPrices)
}

func TestSwitchMethodRejectsUnknownMethod(t *testing.T) {
	k := newTestKernel(t, 1)
	result, err := k.PurchaseBuilding(testPlayer, testDefinitionID)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	err = k.SwitchMethod(testPlayer, result.BuildingID, 999)
	assert.Error(t, err)
}

func TestSwitchMethodRejectsWrongOwner(t *testing.T) {
	k := newTestKernel(t, 1)
	result, err := k.PurchaseBuilding(testPlayer, testDefinitionID)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	err = k.SwitchMethod(testCompetitor, result.BuildingID, 1)
	assert.Error(t, err)
}
