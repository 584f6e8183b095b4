// Package production drives building lifecycles: construction, material
// gathering, recipe execution, output emission, and the auto-purchase
// fallback when a building's inputs run short.
package production

import (
	"context"
	"sort"

	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/internal/market"
	"github.com/industrial-economy/simkernel/internal/orderbook"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// Status is a building's lifecycle state.
type Status int

const (
	StatusUnderConstruction Status = iota
	StatusWaitingMaterials
	StatusRunning
	StatusPaused
	StatusNoInput
	StatusNoPower
)

func (s Status) String() string {
	switch s {
	case StatusUnderConstruction:
		return "under_construction"
	case StatusWaitingMaterials:
		return "waiting_materials"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusNoInput:
		return "no_input"
	case StatusNoPower:
		return "no_power"
	default:
		return "unknown"
	}
}

func (s Status) maintenanceMultiplier() float64 {
	switch s {
	case StatusRunning:
		return 1.0
	case StatusNoInput, StatusNoPower:
		return 0.5
	case StatusPaused, StatusWaitingMaterials:
		return 0.25
	default:
		return 0
	}
}

// RecipeItem is one (commodity, amount) entry in a recipe's input or output list.
type RecipeItem struct {
	Commodity uint64
	Amount    int64
}

// Recipe is an ordered input/output list plus the cycle length.
type Recipe struct {
	Inputs          []RecipeItem
	Outputs         []RecipeItem
	TicksRequired   int64
	InputMultiplier  float64 // research effect; 1.0 if none active
	OutputMultiplier float64
}

// Definition is a building type's static template.
type Definition struct {
	ID                        uint64
	ConstructionTicksRequired int64
	ConstructionMaterials     []RecipeItem
	Recipes                   map[uint64]Recipe // keyed by method id
	DefaultMethodID           uint64
	MonthlyMaintenance        int64
	CostMultiplier            float64
	EfficiencyMultiplier      float64
}

// Building is one instance of a Definition owned by an entity.
type Building struct {
	ID                uint64
	DefinitionID      uint64
	Owner             uint64
	Status            Status
	ProductionProgress float64
	CurrentMethodID   uint64
	AggregationFactor int64
	Efficiency        float64
	Utilization       float64

	ConstructionProgress int64

	// LenientConstruction marks a building purchased through the
	// competitor-initiated path: only half of each construction material's
	// requirement needs to be on hand to begin, and construction takes 50%
	// longer to compensate.
	LenientConstruction bool
}

// pendingKey identifies one auto-purchase tracking slot.
type pendingKey struct {
	Building  uint64
	Commodity uint64
}

// PendingPurchase tracks one in-flight auto-purchase order for a
// (building, commodity) pair so retries do not pile up duplicate orders.
type PendingPurchase struct {
	OrderID   uint64
	PlacedTick uint64
}

// Config holds the production engine's tunables.
type Config struct {
	CashProtectionThreshold   int64
	AutoPurchaseMaxSpendRatio float64
	AutoPurchaseValidityTicks uint64
}

// Engine drives every registered building through its lifecycle each tick.
type Engine struct {
	cfg     Config
	ledger  *ledger.Ledger
	book    *orderbook.Book
	market  *market.Tracker
	logger  *observability.Logger

	definitions map[uint64]*Definition
	buildings   map[uint64]*Building

	pending map[pendingKey]*PendingPurchase
}

// New constructs an empty production Engine.
func New(cfg Config, led *ledger.Ledger, book *orderbook.Book, mkt *market.Tracker, logger *observability.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		ledger:      led,
		book:        book,
		market:      mkt,
		logger:      logger,
		definitions: make(map[uint64]*Definition),
		buildings:   make(map[uint64]*Building),
		pending:     make(map[pendingKey]*PendingPurchase),
	}
}

// RegisterDefinition adds a building type template.
func (e *Engine) RegisterDefinition(def Definition) {
	d := def
	e.definitions[def.ID] = &d
}

// AddBuilding registers a building instance.
func (e *Engine) AddBuilding(b *Building) {
	e.buildings[b.ID] = b
}

// Building looks up a building instance by id.
func (e *Engine) Building(id uint64) (*Building, error) {
	b, ok := e.buildings[id]
	if !ok {
		return nil, errs.WrapEntity("production.building", id, errs.ErrUnknownBuilding)
	}
	return b, nil
}

// Definition looks up a building type template by id.
func (e *Engine) Definition(id uint64) (*Definition, error) {
	d, ok := e.definitions[id]
	if !ok {
		return nil, errs.Wrap("production.definition", errs.ErrUnknownBuilding)
	}
	return d, nil
}

// DefinitionForOutput returns the lowest-id building definition that
// produces the given commodity as a recipe output, for goal-driven
// expansion decisions. ok is false if no definition matches.
func (e *Engine) DefinitionForOutput(commodity uint64) (id uint64, ok bool) {
	for candidateID, def := range e.definitions {
		for _, recipe := range def.Recipes {
			for _, out := range recipe.Outputs {
				if out.Commodity != commodity {
					continue
				}
				if !ok || candidateID < id {
					id, ok = candidateID, true
				}
			}
		}
	}
	return id, ok
}

// BuildingCount reports how many buildings an owner has, for the
// competitor bailout formula.
func (e *Engine) BuildingCount(owner uint64) int {
	count := 0
	for _, b := range e.buildings {
		if b.Owner == owner {
			count++
		}
	}
	return count
}

// MaxAggregation reports an owner's highest building aggregation factor, for
// the competitor bailout formula. Returns 0 if the owner has no buildings.
func (e *Engine) MaxAggregation(owner uint64) int64 {
	var max int64
	for _, b := range e.buildings {
		if b.Owner == owner && b.AggregationFactor > max {
			max = b.AggregationFactor
		}
	}
	return max
}

// BuildingsByOwner returns every building instance owned by an entity,
// ordered by id so callers get a deterministic view across runs.
func (e *Engine) BuildingsByOwner(owner uint64) []*Building {
	var out []*Building
	for _, b := range e.buildings {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShortageReport describes one building's missing inputs for a tick's
// outbound update.
type ShortageReport struct {
	Building uint64
	Missing  []RecipeItem // Amount is the shortfall, not the full requirement
}

// Tick advances every building one step: status handling, maintenance, and
// (while running) recipe execution. It returns shortage reports for
// buildings that could not produce due to missing inputs.
func (e *Engine) Tick(ctx context.Context, tick uint64) []ShortageReport {
	var shortages []ShortageReport

	for _, b := range e.buildings {
		def, ok := e.definitions[b.DefinitionID]
		if !ok {
			continue
		}

		e.chargeMaintenance(b, def, tick)

		switch b.Status {
		case StatusUnderConstruction:
			e.advanceConstruction(b, def, tick)
		case StatusWaitingMaterials:
			e.gatherConstructionMaterials(ctx, b, def, tick)
		case StatusPaused:
			// no production, maintenance only
		case StatusRunning, StatusNoInput, StatusNoPower:
			if shortage, ok := e.runRecipe(ctx, b, def, tick); !ok {
				shortages = append(shortages, shortage)
			}
		}
	}

	return shortages
}

func (e *Engine) chargeMaintenance(b *Building, def *Definition, tick uint64) {
	mult := b.Status.maintenanceMultiplier()
	if mult == 0 {
		return
	}
	amount := float64(def.MonthlyMaintenance) * def.CostMultiplier * mult * float64(b.AggregationFactor) / 30.0
	if amount <= 0 {
		return
	}
	if err := e.ledger.DeductCash(b.Owner, int64(amount), true); err != nil {
		e.logger.Debug(context.Background(), "maintenance charge failed", map[string]interface{}{
			"building": b.ID, "owner": b.Owner, "error": err.Error(),
		})
	}
}

func (e *Engine) advanceConstruction(b *Building, def *Definition, tick uint64) {
	required := def.ConstructionTicksRequired
	if b.LenientConstruction {
		required = int64(float64(required) * 1.5)
	}
	b.ConstructionProgress++
	if b.ConstructionProgress >= required {
		b.Status = StatusRunning
		b.ConstructionProgress = 0
		if b.CurrentMethodID == 0 {
			b.CurrentMethodID = def.DefaultMethodID
		}
	}
}

// gatherConstructionMaterials applies the normal all-present rule, or the
// lenient half-requirement rule for a competitor-initiated purchase (see
// Building.LenientConstruction): whatever could not be gathered is left to
// the auto-purchase fallback, and the shortened requirement is made up for
// by advanceConstruction's stretched build time.
func (e *Engine) gatherConstructionMaterials(ctx context.Context, b *Building, def *Definition, tick uint64) {
	scale := 1.0
	if b.LenientConstruction {
		scale = 0.5
	}

	var shortfall []RecipeItem
	for _, m := range def.ConstructionMaterials {
		need := int64(float64(m.Amount) * scale)
		avail, _ := e.ledger.AvailableQuantity(b.Owner, m.Commodity)
		if avail < need {
			shortfall = append(shortfall, RecipeItem{Commodity: m.Commodity, Amount: need - avail})
		}
	}
	if len(shortfall) == 0 {
		for _, m := range def.ConstructionMaterials {
			need := int64(float64(m.Amount) * scale)
			if need <= 0 {
				continue
			}
			_ = e.ledger.ConsumeGoods(b.Owner, m.Commodity, need, tick, "construction materials")
		}
		b.Status = StatusUnderConstruction
		return
	}
	e.triggerAutoPurchase(ctx, b, shortfall, tick)
}

// runRecipe executes steps 3a–3e of the recipe-execution algorithm. It
// returns (ShortageReport{}, true) when production proceeded without a
// shortage, or the shortage report and false otherwise.
func (e *Engine) runRecipe(ctx context.Context, b *Building, def *Definition, tick uint64) (ShortageReport, bool) {
	recipe, ok := def.Recipes[b.CurrentMethodID]
	if !ok {
		return ShortageReport{}, true
	}

	var missing []RecipeItem
	for _, in := range recipe.Inputs {
		need := scaledAmount(in.Amount, recipe.InputMultiplier, b.AggregationFactor)
		avail, _ := e.ledger.AvailableQuantity(b.Owner, in.Commodity)
		if avail < need {
			missing = append(missing, RecipeItem{Commodity: in.Commodity, Amount: need - avail})
		}
	}

	if len(missing) > 0 {
		b.Status = StatusNoInput
		e.triggerAutoPurchase(ctx, b, missing, tick)
		return ShortageReport{Building: b.ID, Missing: missing}, false
	}

	if b.Status != StatusRunning {
		b.Status = StatusRunning
	}

	b.ProductionProgress += b.Efficiency * b.Utilization * def.EfficiencyMultiplier

	if b.ProductionProgress >= float64(recipe.TicksRequired) {
		// re-check inputs are still present immediately before consuming —
		// structured as a single critical section per the spec's note on
		// step (e).
		for _, in := range recipe.Inputs {
			need := scaledAmount(in.Amount, recipe.InputMultiplier, b.AggregationFactor)
			avail, _ := e.ledger.AvailableQuantity(b.Owner, in.Commodity)
			if avail < need {
				b.Status = StatusNoInput
				return ShortageReport{Building: b.ID, Missing: []RecipeItem{{Commodity: in.Commodity, Amount: need - avail}}}, false
			}
		}

		b.ProductionProgress -= float64(recipe.TicksRequired)

		var totalInputCost int64
		var totalInputQty int64
		for _, in := range recipe.Inputs {
			qty := scaledAmount(in.Amount, recipe.InputMultiplier, b.AggregationFactor)
			entity, _ := e.ledger.Entity(b.Owner)
			unitCost := int64(0)
			if entity != nil {
				if s, ok := entity.Stocks[in.Commodity]; ok {
					unitCost = s.AvgCost
				}
			}
			totalInputCost += unitCost * qty
			totalInputQty += qty
			_ = e.ledger.ConsumeGoods(b.Owner, in.Commodity, qty, tick, "recipe consumption")
			e.market.RecordDemand(in.Commodity, float64(qty))
		}

		var totalOutputQty int64
		for _, out := range recipe.Outputs {
			qty := scaledAmount(out.Amount, recipe.OutputMultiplier, b.AggregationFactor)
			totalOutputQty += qty
		}
		avgCost := int64(0)
		if totalOutputQty > 0 {
			avgCost = totalInputCost / totalOutputQty
		}
		for _, out := range recipe.Outputs {
			qty := scaledAmount(out.Amount, recipe.OutputMultiplier, b.AggregationFactor)
			_ = e.ledger.AddGoods(b.Owner, out.Commodity, qty, avgCost, tick, "recipe output")
			e.market.RecordSupply(out.Commodity, float64(qty))
		}

		b.Utilization += 0.05
		if b.Utilization > 1.0 {
			b.Utilization = 1.0
		}
	}

	return ShortageReport{}, true
}

func scaledAmount(amount int64, multiplier float64, aggregation int64) int64 {
	return int64(float64(amount)*multiplier) * aggregation
}

// triggerAutoPurchase submits limit-buy orders for a shortfall, capped by
// the cash-protection threshold, with at most one pending order tracked per
// (building, commodity) so repeated calls do not pile up duplicate orders.
func (e *Engine) triggerAutoPurchase(ctx context.Context, b *Building, shortfall []RecipeItem, tick uint64) {
	cash, err := e.ledger.Cash(b.Owner)
	if err != nil || cash < e.cfg.CashProtectionThreshold {
		return
	}

	for _, item := range shortfall {
		key := pendingKey{Building: b.ID, Commodity: item.Commodity}
		if _, ok := e.pending[key]; ok {
			if e.book.ActiveCountForOwner(item.Commodity, b.Owner) > 0 {
				continue // still outstanding, let it work
			}
			delete(e.pending, key) // stale; retry below
		}

		price, priceErr := e.market.Price(item.Commodity)
		if priceErr != nil || price <= 0 {
			continue
		}

		maxSpend := int64(float64(cash) * e.cfg.AutoPurchaseMaxSpendRatio)
		qty := item.Amount
		if cost := qty * price; cost > maxSpend {
			qty = maxSpend / price
		}
		if qty <= 0 {
			continue
		}

		result, submitErr := e.book.SubmitBuy(b.Owner, item.Commodity, qty, price, tick, e.cfg.AutoPurchaseValidityTicks)
		if submitErr != nil || result.Order == nil {
			continue
		}
		e.pending[key] = &PendingPurchase{OrderID: result.Order.ID, PlacedTick: tick}
	}
}
