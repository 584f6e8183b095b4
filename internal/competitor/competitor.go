// Package competitor runs the autonomous decision loop for non-player
// entities: persona-driven goal selection, order pricing, throttled
// strategic-plan refresh, and the cash-bailout rule that bounds a
// competitor's worst-case misbehavior.
package competitor

import (
	"context"
	"hash/fnv"
	"time"

	"golang.org/x/time/rate"

	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/internal/market"
	"github.com/industrial-economy/simkernel/internal/orderbook"
	"github.com/industrial-economy/simkernel/internal/ports"
	"github.com/industrial-economy/simkernel/internal/production"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// Persona describes one competitor's standing behavioral traits.
type Persona struct {
	Aggressiveness      float64 // [0,1]
	RiskTolerance       float64 // [0,1]
	PreferredIndustries []uint64
	DecisionIntervalHint uint64
	Relationships       map[uint64]float64 // rival entity id -> relationship scalar
}

// runtimeState is the per-competitor bookkeeping the policy loop maintains
// between decisions.
type runtimeState struct {
	persona      Persona
	plan         *ports.StrategicPlan
	nextDecision uint64
	priceWar     bool
}

// BuildingCounter reports ownership aggregates used by the bailout formula,
// and the lookups the goal selector needs to expand into a new building or
// retarget an existing one. internal/production's Engine satisfies this
// directly.
type BuildingCounter interface {
	BuildingCount(owner uint64) int
	MaxAggregation(owner uint64) int64
	DefinitionForOutput(commodity uint64) (uint64, bool)
	BuildingsByOwner(owner uint64) []*production.Building
	Definition(id uint64) (*production.Definition, error)
}

// Commander executes build/switch commands on behalf of a competitor
// through the same command surface a player uses, keeping labor-cost
// charging, building-id assignment, and the lenient competitor-construction
// rule centralized in the kernel rather than duplicated here.
type Commander interface {
	Purchase(entity, definitionID uint64) (accepted bool, buildingID uint64, err error)
	SwitchMethod(entity, buildingID, methodID uint64) error
}

// Goal is the strategic objective a competitor's decision pursues this tick.
type Goal string

const (
	GoalExpand              Goal = "expand"
	GoalIncreaseMarketShare Goal = "increase_market_share"
	GoalAttack              Goal = "attack"
	GoalDefend              Goal = "defend"
	GoalReduceCost          Goal = "reduce_cost"
)

// Config holds the competitor runtime's tunables.
type Config struct {
	DecisionsPerTick       int
	DecisionIntervalMin    uint64
	DecisionIntervalMax    uint64
	BailoutBase            int64
	BailoutPerBuilding     int64
	BailoutPerAggregation  int64
	BailoutCap             int64
}

// Runtime drives every registered competitor's decision loop.
type Runtime struct {
	cfg       Config
	ledger    *ledger.Ledger
	book      *orderbook.Book
	market    *market.Tracker
	buildings BuildingCounter
	commander Commander
	planner   ports.StrategicPlanProvider
	logger    *observability.Logger
	metrics   *observability.MetricsProvider

	refreshLimiter *rate.Limiter // at most one strategy refresh per tick
	competitors    map[uint64]*runtimeState
}

// New constructs an empty competitor Runtime. planner and commander may be
// nil: with no planner every competitor falls back to its persona-driven
// default; with no commander, goals that would purchase a building or
// switch a method instead fall back to a plain market order. metrics may
// also be nil, in which case bailouts simply aren't counted.
func New(cfg Config, led *ledger.Ledger, book *orderbook.Book, mkt *market.Tracker, buildings BuildingCounter, commander Commander, planner ports.StrategicPlanProvider, logger *observability.Logger, metrics *observability.MetricsProvider) *Runtime {
	return &Runtime{
		cfg:            cfg,
		ledger:         led,
		book:           book,
		market:         mkt,
		buildings:      buildings,
		commander:      commander,
		planner:        planner,
		logger:         logger,
		metrics:        metrics,
		refreshLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		competitors:    make(map[uint64]*runtimeState),
	}
}

// Register adds a competitor with its persona, scheduling its first
// decision at a hashed offset within [DecisionIntervalMin, DecisionIntervalMax)
// so competitors do not all re-decide on the same tick.
func (r *Runtime) Register(competitorID uint64, persona Persona) {
	r.competitors[competitorID] = &runtimeState{
		persona:      persona,
		nextDecision: r.hashedOffset(competitorID),
	}
}

func (r *Runtime) hashedOffset(competitorID uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(competitorID >> (8 * i))
	}
	h.Write(buf[:])
	span := r.cfg.DecisionIntervalMax - r.cfg.DecisionIntervalMin
	if span == 0 {
		return r.cfg.DecisionIntervalMin
	}
	return r.cfg.DecisionIntervalMin + h.Sum64()%span
}

// Decision is the outcome of one competitor's policy evaluation for a tick,
// returned for diagnostics/snapshotting.
type Decision struct {
	CompetitorID uint64
	Action       string
	Commodity    uint64
	Price        int64
	Qty          int64
}

// Tick runs maintenance-driven bailouts for every competitor, then advances
// at most cfg.DecisionsPerTick competitors whose re-decide interval has
// elapsed.
func (r *Runtime) Tick(ctx context.Context, tick uint64) []Decision {
	r.applyBailouts(ctx, tick)

	var decisions []Decision
	made := 0
	for id, st := range r.competitors {
		if made >= r.cfg.DecisionsPerTick {
			break
		}
		if tick < st.nextDecision {
			continue
		}

		clog := r.logger.WithFields(map[string]interface{}{"competitor": id, "tick": tick})

		r.maybeRefreshPlan(ctx, id, st, tick)
		if d, ok := r.decide(ctx, id, st, tick, clog); ok {
			decisions = append(decisions, d)
		}

		interval := st.persona.DecisionIntervalHint
		if interval == 0 {
			interval = r.hashedOffset(id) // re-derive a spread within the configured bounds
		}
		if interval < r.cfg.DecisionIntervalMin {
			interval = r.cfg.DecisionIntervalMin
		}
		if interval > r.cfg.DecisionIntervalMax {
			interval = r.cfg.DecisionIntervalMax
		}
		st.nextDecision = tick + interval
		made++
	}
	return decisions
}

func (r *Runtime) maybeRefreshPlan(ctx context.Context, competitorID uint64, st *runtimeState, tick uint64) {
	if r.planner == nil {
		return
	}
	// AllowN is driven by the tick number rather than wall-clock time so the
	// one-refresh-per-tick gate stays deterministic across runs.
	if !r.refreshLimiter.AllowN(time.Unix(int64(tick), 0), 1) {
		return
	}
	plan, err := r.planner.RequestPlan(ctx, competitorID)
	if err != nil || plan == nil {
		return // fall back to persona default, per the external-collaborator contract
	}
	st.plan = plan
	st.priceWar = plan.Stance == ports.StanceAggressive && plan.TargetPlayer
}

// selectGoal picks the one strategic objective decide() pursues this tick,
// from the standing persona/plan and the competitor's current position.
// Unloading held stock always takes priority over everything else — a
// competitor sitting on inventory sells it before it expands, attacks, or
// retools.
func (r *Runtime) selectGoal(st *runtimeState, avail int64, buildingCount int) Goal {
	switch {
	case avail > 0:
		if st.priceWar || (st.plan != nil && st.plan.Stance == ports.StanceAggressive && st.plan.TargetPlayer) {
			return GoalAttack
		}
		if st.plan != nil && st.plan.Stance == ports.StanceDefensive {
			return GoalDefend
		}
		return GoalIncreaseMarketShare
	case buildingCount == 0:
		return GoalExpand
	case st.plan != nil && st.plan.InvestmentFocus == "efficiency":
		return GoalReduceCost
	case st.plan != nil && st.plan.Stance == ports.StanceDefensive:
		return GoalDefend
	default:
		return GoalIncreaseMarketShare
	}
}

// decide selects a priority commodity (from the strategic plan if present,
// else the persona's preferred industries), picks a goal, and executes
// exactly one action for it: purchasing a building, switching a method,
// submitting an aggressive order, or placing a purely operational order.
func (r *Runtime) decide(ctx context.Context, competitorID uint64, st *runtimeState, tick uint64, clog *observability.FieldLogger) (Decision, bool) {
	commodity, ok := r.priorityCommodity(st)
	if !ok {
		return Decision{}, false
	}

	price, err := r.market.Price(commodity)
	if err != nil || price <= 0 {
		return Decision{}, false
	}

	avail, _ := r.ledger.AvailableQuantity(competitorID, commodity)
	buildingCount := 0
	if r.buildings != nil {
		buildingCount = r.buildings.BuildingCount(competitorID)
	}
	goal := r.selectGoal(st, avail, buildingCount)

	switch goal {
	case GoalExpand:
		if d, ok := r.tryExpand(ctx, competitorID, commodity, clog); ok {
			return d, true
		}
	case GoalReduceCost:
		if d, ok := r.tryReduceCost(ctx, competitorID, clog); ok {
			return d, true
		}
	}

	// Every remaining goal (increase_market_share, attack, defend) — and any
	// goal whose preferred action wasn't available this tick — resolves to a
	// plain market order: sell what's held, otherwise place an operational buy.
	if avail > 0 {
		return r.submitSell(ctx, competitorID, commodity, avail, price, st, tick, clog)
	}
	return r.submitBuy(ctx, competitorID, commodity, price, st, tick, clog)
}

// tryExpand attempts the expand goal's action: purchasing a new building
// that produces the competitor's priority commodity. The commander applies
// the same labor-cost and construction rules a player purchase would, plus
// the competitor-only lenient construction-material allowance.
func (r *Runtime) tryExpand(ctx context.Context, competitorID, commodity uint64, clog *observability.FieldLogger) (Decision, bool) {
	if r.commander == nil || r.buildings == nil {
		return Decision{}, false
	}
	definitionID, ok := r.buildings.DefinitionForOutput(commodity)
	if !ok {
		return Decision{}, false
	}
	accepted, buildingID, err := r.commander.Purchase(competitorID, definitionID)
	if err != nil || !accepted {
		return Decision{}, false
	}
	clog.Info(ctx, "competitor purchased building")
	return Decision{CompetitorID: competitorID, Action: "purchase_building", Commodity: commodity, Qty: int64(buildingID)}, true
}

// tryReduceCost attempts the reduce-cost goal's action: retargeting one
// owned building to a different registered method/recipe. It picks the
// lowest-id method that differs from the building's current one, trusting
// the recipe catalog itself (rather than a cost model the runtime doesn't
// have visibility into) to reflect the cheaper option.
func (r *Runtime) tryReduceCost(ctx context.Context, competitorID uint64, clog *observability.FieldLogger) (Decision, bool) {
	if r.commander == nil || r.buildings == nil {
		return Decision{}, false
	}
	for _, b := range r.buildings.BuildingsByOwner(competitorID) {
		def, err := r.buildings.Definition(b.DefinitionID)
		if err != nil {
			continue
		}
		altMethod, ok := lowestOtherMethod(def, b.CurrentMethodID)
		if !ok {
			continue
		}
		if err := r.commander.SwitchMethod(competitorID, b.ID, altMethod); err != nil {
			continue
		}
		clog.Info(ctx, "competitor switched production method")
		return Decision{CompetitorID: competitorID, Action: "switch_method", Commodity: altMethod, Qty: int64(b.ID)}, true
	}
	return Decision{}, false
}

func lowestOtherMethod(def *production.Definition, current uint64) (id uint64, ok bool) {
	for candidate := range def.Recipes {
		if candidate == current {
			continue
		}
		if !ok || candidate < id {
			id, ok = candidate, true
		}
	}
	return id, ok
}

func (r *Runtime) submitSell(ctx context.Context, competitorID, commodity uint64, avail, price int64, st *runtimeState, tick uint64, clog *observability.FieldLogger) (Decision, bool) {
	sellPrice := r.sellPrice(price, st)
	qty := avail
	if qty <= 0 {
		return Decision{}, false
	}
	if err := r.ledger.ReserveForSale(competitorID, commodity, qty); err != nil {
		return Decision{}, false
	}
	if _, err := r.book.SubmitSell(competitorID, commodity, qty, sellPrice, tick, 24); err != nil {
		_ = r.ledger.ReleaseSaleReservation(competitorID, commodity, qty)
		return Decision{}, false
	}
	clog.Info(ctx, "competitor sell submitted")
	return Decision{CompetitorID: competitorID, Action: "sell", Commodity: commodity, Price: sellPrice, Qty: qty}, true
}

func (r *Runtime) submitBuy(ctx context.Context, competitorID, commodity uint64, price int64, st *runtimeState, tick uint64, clog *observability.FieldLogger) (Decision, bool) {
	cash, err := r.ledger.Cash(competitorID)
	if err != nil {
		return Decision{}, false
	}
	buyPrice := r.buyPrice(price, st)
	maxSpend := int64(float64(cash) * 0.2)
	qty := int64(0)
	if buyPrice > 0 {
		qty = maxSpend / buyPrice
	}
	if qty <= 0 {
		return Decision{}, false
	}
	if _, err := r.book.SubmitBuy(competitorID, commodity, qty, buyPrice, tick, 24); err != nil {
		return Decision{}, false
	}
	clog.Info(ctx, "competitor buy submitted")
	return Decision{CompetitorID: competitorID, Action: "buy", Commodity: commodity, Price: buyPrice, Qty: qty}, true
}

func (r *Runtime) priorityCommodity(st *runtimeState) (uint64, bool) {
	if st.plan != nil && st.plan.PriorityIndustry != 0 {
		return st.plan.PriorityIndustry, true
	}
	if len(st.persona.PreferredIndustries) > 0 {
		return st.persona.PreferredIndustries[0], true
	}
	return 0, false
}

// buyPrice applies the 1.00x-1.08x aggressiveness-scaled markup over the
// reference market price.
func (r *Runtime) buyPrice(reference int64, st *runtimeState) int64 {
	markup := 1.0 + st.persona.Aggressiveness*0.08
	return int64(float64(reference) * markup)
}

// sellPrice applies the 0.93x-1.02x discount, dropping as low as 0.92x when
// the competitor is in an active price war.
func (r *Runtime) sellPrice(reference int64, st *runtimeState) int64 {
	if st.priceWar {
		return int64(float64(reference) * 0.92)
	}
	discount := 0.93 + st.persona.RiskTolerance*0.09
	return int64(float64(reference) * discount)
}

// applyBailouts credits any competitor whose cash went negative this tick
// (after maintenance) with the scaled transfer
// BailoutBase + BailoutPerBuilding*buildings + BailoutPerAggregation*(maxAggregation-1),
// capped at BailoutCap.
func (r *Runtime) applyBailouts(ctx context.Context, tick uint64) {
	for _, id := range r.ledger.EntityIDs() {
		ent, err := r.ledger.Entity(id)
		if err != nil || ent.Kind != ledger.EntityCompetitor || ent.Cash >= 0 {
			continue
		}

		buildingCount := 0
		maxAggregation := int64(1)
		if r.buildings != nil {
			buildingCount = r.buildings.BuildingCount(id)
			maxAggregation = r.buildings.MaxAggregation(id)
			if maxAggregation < 1 {
				maxAggregation = 1
			}
		}

		amount := r.cfg.BailoutBase + r.cfg.BailoutPerBuilding*int64(buildingCount) + r.cfg.BailoutPerAggregation*(maxAggregation-1)
		if amount > r.cfg.BailoutCap {
			amount = r.cfg.BailoutCap
		}
		if amount <= 0 {
			continue
		}

		if err := r.ledger.AddCash(id, amount); err != nil {
			continue
		}
		if r.metrics != nil {
			r.metrics.RecordBailout(ctx)
		}
		r.logger.Info(ctx, "competitor bailout issued", map[string]interface{}{
			"competitor": id, "tick": tick, "amount": amount, "buildings": buildingCount, "max_aggregation": maxAggregation,
		})
	}
}
