// Command simkernel runs the industrial-economy simulation kernel as a
// standalone demo: it registers a handful of commodities, building
// definitions, and competitors, then runs 300 ticks back to back (without
// wall-clock pacing) and prints a one-line tick summary every 50 ticks.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/industrial-economy/simkernel/internal/competitor"
	"github.com/industrial-economy/simkernel/internal/config"
	"github.com/industrial-economy/simkernel/internal/kernel"
	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/internal/market"
	"github.com/industrial-economy/simkernel/internal/production"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

const demoTickCount = 300

func main() {
	fmt.Println("industrial-economy simulation kernel — demo run")

	logger := observability.NewLogger(observability.LoggerConfig{ServiceName: "simkernel", LogLevel: "info"})
	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{ServiceName: "simkernel", Enabled: false})
	if err != nil {
		log.Fatalf("metrics init failed: %v", err)
	}

	cfg := config.Default()
	k := kernel.New(cfg, logger, metrics, nil, nil, nil, 42)

	seedWorld(k)

	ctx := context.Background()
	var elapsed time.Duration
	for i := 0; i < demoTickCount; i++ {
		start := time.Now()
		update := k.Tick(ctx)
		elapsed = time.Since(start)

		if i%50 == 0 {
			fmt.Printf("tick %d: %d trades, %d price changes, %d shortages, %d competitor decisions\n",
				update.Tick, len(update.Trades), len(update.PriceChanges), len(update.Shortages), len(update.CompetitorDecisions))
		}
		_ = elapsed
	}

	fmt.Println("demo run complete")
}

func seedWorld(k *kernel.SimulationKernel) {
	const (
		player      = 1
		competitorA = 2
		ironOre     = 10
		steel       = 11
	)

	k.RegisterEntity(player, ledger.EntityPlayer, 500_000_000)
	k.RegisterEntity(competitorA, ledger.EntityCompetitor, 500_000_000)

	_ = k.RegisterCommodity(market.Commodity{ID: ironOre, BasePrice: 100, Category: "staple", ConsumerDemandRate: 400})
	_ = k.RegisterCommodity(market.Commodity{ID: steel, BasePrice: 300, Category: "default", ConsumerDemandRate: 150})

	k.RegisterBuildingDefinition(production.Definition{
		ID:                        1,
		ConstructionTicksRequired: 0,
		DefaultMethodID:           1,
		MonthlyMaintenance:        3000,
		CostMultiplier:            1.0,
		EfficiencyMultiplier:      1.0,
		Recipes: map[uint64]production.Recipe{
			1: {
				Inputs:           []production.RecipeItem{{Commodity: ironOre, Amount: 1}},
				Outputs:          []production.RecipeItem{{Commodity: steel, Amount: 1}},
				TicksRequired:    3,
				InputMultiplier:  1.0,
				OutputMultiplier: 1.0,
			},
		},
	})

	if _, err := k.PurchaseBuilding(player, 1); err != nil {
		log.Printf("purchase_building failed: %v", err)
	}

	k.RegisterCompetitor(competitorA, competitor.Persona{
		Aggressiveness:       0.6,
		RiskTolerance:        0.4,
		PreferredIndustries:  []uint64{steel},
		DecisionIntervalHint: 20,
	})
}
