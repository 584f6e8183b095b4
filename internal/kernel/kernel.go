// Package kernel wires every simulation component behind a single owning
// SimulationKernel. There is no global state: every collaborator is a field
// constructed once and injected, and every test builds a fresh kernel.
package kernel

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/industrial-economy/simkernel/internal/competitor"
	"github.com/industrial-economy/simkernel/internal/config"
	"github.com/industrial-economy/simkernel/internal/diagnostics"
	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/internal/market"
	"github.com/industrial-economy/simkernel/internal/orderbook"
	"github.com/industrial-economy/simkernel/internal/ports"
	"github.com/industrial-economy/simkernel/internal/production"
	"github.com/industrial-economy/simkernel/internal/scheduler"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// frequency tiers for the "every M ticks" / "every K ticks" work classes;
// spec.md describes these as "tens" and "hundreds" without naming exact
// config fields, so the kernel fixes concrete values here.
const (
	tierMTicks = 10
	tierKTicks = 100
)

type entityRegistration struct {
	id           uint64
	kind         ledger.EntityKind
	startingCash int64
}

type competitorRegistration struct {
	id      uint64
	persona competitor.Persona
}

// SimulationKernel owns every component (A-J) and is the sole mutator of
// shared state. External collaborators interact only through its command
// surface and Tick's return value.
type SimulationKernel struct {
	cfg    config.Config
	logger *observability.Logger
	seed   int64
	rng    *rand.Rand

	planner  ports.StrategicPlanProvider
	narrator ports.NarrativeEventProvider
	sink     ports.SnapshotSink
	metrics  *observability.MetricsProvider

	ledger      *ledger.Ledger
	book        *orderbook.Book
	matcher     *orderbook.Matcher
	market      *market.Tracker
	production  *production.Engine
	competitor  *competitor.Runtime
	scheduler   *scheduler.Scheduler
	diagnostics *diagnostics.Collector

	tick            uint64
	nextBuildingID  uint64
	scheduledEvents map[uint64][]ports.NarrativeEvent

	// registration replay log, used by Reset to rebuild identical static state
	entities    []entityRegistration
	commodities []market.Commodity
	definitions []production.Definition
	competitors []competitorRegistration
}

// New constructs a SimulationKernel with every component wired together.
// planner, narrator, and sink may all be nil; the kernel degrades to
// persona-driven defaults, no narrative events, and no snapshot delivery
// respectively.
func New(cfg config.Config, logger *observability.Logger, metrics *observability.MetricsProvider, planner ports.StrategicPlanProvider, narrator ports.NarrativeEventProvider, sink ports.SnapshotSink, seed int64) *SimulationKernel {
	if metrics == nil {
		metrics, _ = observability.NewMetricsProvider(observability.MetricsConfig{})
	}
	k := &SimulationKernel{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		seed:     seed,
		planner:  planner,
		narrator: narrator,
		sink:     sink,
	}
	k.buildComponents()
	return k
}

func (k *SimulationKernel) buildComponents() {
	k.rng = rand.New(rand.NewSource(k.seed))
	k.tick = 0
	k.nextBuildingID = 0
	k.scheduledEvents = make(map[uint64][]ports.NarrativeEvent)

	k.ledger = ledger.New(k.logger)
	k.book = orderbook.New(k.logger, k.cfg.MaxOrdersPerEntityPerCommodity, k.cfg.MaxOrdersPerCommodity, k.cfg.ExpirySweepInterval)
	k.matcher = orderbook.NewMatcher(k.book, k.ledger, k.logger, k.metrics, k.cfg.MatchingMaxPairsPerCommodity, k.cfg.FullMatchSweepInterval)
	k.market = market.New(market.Config{
		MinMultiplier:      k.cfg.PriceMinMultiplier,
		MaxMultiplier:      k.cfg.PriceMaxMultiplier,
		ImbalanceThreshold: k.cfg.PriceImbalanceThreshold,
		AdjustmentRate:     k.cfg.PriceAdjustmentRate,
		SupplyDemandDecay:  k.cfg.SupplyDemandDecay,
		DemandCycleLength:  k.cfg.DemandCycleLength,
		DemandAmplitude:    k.cfg.DemandAmplitude,
		HistoryCapacity:    k.cfg.PriceHistoryCapacity,
	}, k.logger, k.seed)
	k.production = production.New(production.Config{
		CashProtectionThreshold:   k.cfg.CashProtectionThreshold,
		AutoPurchaseMaxSpendRatio: k.cfg.AutoPurchaseMaxSpendRatio,
		AutoPurchaseValidityTicks: k.cfg.DefaultOrderValidityTicks,
	}, k.ledger, k.book, k.market, k.logger)
	k.competitor = competitor.New(competitor.Config{
		DecisionsPerTick:      k.cfg.CompetitorDecisionsPerTick,
		DecisionIntervalMin:   k.cfg.CompetitorDecisionIntervalMin,
		DecisionIntervalMax:   k.cfg.CompetitorDecisionIntervalMax,
		BailoutBase:           k.cfg.BailoutBase,
		BailoutPerBuilding:    k.cfg.BailoutPerBuilding,
		BailoutPerAggregation: k.cfg.BailoutPerAggregationLevel,
		BailoutCap:            k.cfg.BailoutCap,
	}, k.ledger, k.book, k.market, k.production, k, k.planner, k.logger, k.metrics)
	k.scheduler = scheduler.New(scheduler.Config{
		BasePeriod:    k.cfg.BaseTickDuration(),
		SlowTickFloor: k.cfg.SlowTickDuration(),
		EveryMTicks:   tierMTicks,
		EveryKTicks:   tierKTicks,
	}, k.logger)
	k.diagnostics, _ = diagnostics.New(diagnostics.Config{
		RingCapacity:         1000,
		P95WarningThreshold:  k.cfg.SlowTickDuration(),
		PhaseHotspotFraction: 0.4,
	}, k.logger)

	for _, e := range k.entities {
		k.ledger.CreateEntity(e.id, e.kind, e.startingCash)
	}
	for _, c := range k.commodities {
		_ = k.market.RegisterCommodity(c)
	}
	for _, d := range k.definitions {
		k.production.RegisterDefinition(d)
	}
	for _, c := range k.competitors {
		k.competitor.Register(c.id, c.persona)
	}
}

// RegisterEntity adds a player or competitor to the ledger. Call before the
// first Tick; Reset replays this registration.
func (k *SimulationKernel) RegisterEntity(id uint64, kind ledger.EntityKind, startingCash int64) {
	k.entities = append(k.entities, entityRegistration{id: id, kind: kind, startingCash: startingCash})
	k.ledger.CreateEntity(id, kind, startingCash)
}

// RegisterCommodity adds a tradable commodity to the market tracker.
func (k *SimulationKernel) RegisterCommodity(c market.Commodity) error {
	if err := k.market.RegisterCommodity(c); err != nil {
		return err
	}
	k.commodities = append(k.commodities, c)
	return nil
}

// RegisterBuildingDefinition adds a building type template.
func (k *SimulationKernel) RegisterBuildingDefinition(def production.Definition) {
	k.production.RegisterDefinition(def)
	k.definitions = append(k.definitions, def)
}

// RegisterCompetitor adds an autonomous competitor's persona. The entity
// itself must already be registered via RegisterEntity.
func (k *SimulationKernel) RegisterCompetitor(id uint64, persona competitor.Persona) {
	k.competitor.Register(id, persona)
	k.competitors = append(k.competitors, competitorRegistration{id: id, persona: persona})
}

// Paused reports whether the scheduler is paused; the caller's own driver
// loop should skip calling Tick when this is true.
func (k *SimulationKernel) Paused() bool { return k.scheduler.Paused() }

// Pause stops further ticks.
func (k *SimulationKernel) Pause() { k.scheduler.Pause() }

// Resume allows ticks to proceed again.
func (k *SimulationKernel) Resume() { k.scheduler.Resume() }

// SetSpeed changes the scheduler's wall-clock multiplier.
func (k *SimulationKernel) SetSpeed(speed scheduler.Speed) error {
	return k.scheduler.SetSpeed(speed)
}

// CurrentTick returns the last completed tick number.
func (k *SimulationKernel) CurrentTick() uint64 { return k.tick }

// Reset clears every component's state and rebuilds it from the same
// registrations New/RegisterX were called with, reseeding the same
// deterministic RNG — equivalent to constructing a brand new kernel.
func (k *SimulationKernel) Reset() {
	k.buildComponents()
}

// TickUpdate is the per-tick update record returned to an external driver
// for transport/snapshot delivery.
type TickUpdate struct {
	Tick               uint64
	Trades             []orderbook.Trade
	Volumes            map[uint64]orderbook.VolumeDelta
	PriceChanges       []uint64
	Shortages          []production.ShortageReport
	CompetitorDecisions []competitor.Decision
	ExpiredOrders      int
	SlowTick           bool
}

// Tick advances the simulation by exactly one tick. When DebugAssertions is
// enabled, an ErrInvariantViolation detected mid-tick panics and is
// recovered here at the scheduler boundary rather than propagating into
// caller code; with DebugAssertions off the same violation is logged and
// the tick's result is returned as usual.
func (k *SimulationKernel) Tick(ctx context.Context) (update TickUpdate) {
	if k.cfg.DebugAssertions {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
				k.logger.Error(ctx, "tick aborted by invariant violation", err, map[string]interface{}{"tick": k.tick})
				update = TickUpdate{Tick: k.tick}
			}
		}()
	}
	return k.tickOnce(ctx)
}

// tickOnce runs the fixed per-tick order: scheduled external events,
// consumer-demand injection, order matching, price discovery, production,
// competitor policy, throttled expiry sweep, snapshot emission, then an
// end-of-tick invariant check.
func (k *SimulationKernel) tickOnce(ctx context.Context) TickUpdate {
	k.tick++
	tick := k.tick
	rec := k.diagnostics.Begin(tick)
	tickStart := time.Now()

	k.applyScheduledNarrativeEvents(ctx, tick)
	k.fetchNarrativeEvents(ctx, tick)

	k.market.InjectBaselineDemand(tick)

	rec.PhaseStart(diagnostics.PhaseMatching)
	trades, volumes := k.matcher.MatchTick(ctx, tick)
	for commodity, vd := range volumes {
		k.market.RecordTradeVolume(commodity, market.VolumeDelta{Total: vd.Total, Buy: vd.Buy, Sell: vd.Sell})
	}
	rec.PhaseEnd(diagnostics.PhaseMatching)

	rec.PhaseStart(diagnostics.PhaseStockMarket)
	changed := k.market.UpdatePrices(ctx, tick)
	rec.PhaseEnd(diagnostics.PhaseStockMarket)

	rec.PhaseStart(diagnostics.PhaseProduction)
	shortages := k.production.Tick(ctx, tick)
	rec.PhaseEnd(diagnostics.PhaseProduction)

	// The M-tier limiter is consulted once per tick; a second call in the
	// same tick would always be refused.
	runTierM := k.scheduler.ShouldRunEveryM(tick)

	var decisions []competitor.Decision
	rec.PhaseStart(diagnostics.PhaseCompetitorDecision)
	if runTierM {
		decisions = k.competitor.Tick(ctx, tick)
	}
	rec.PhaseEnd(diagnostics.PhaseCompetitorDecision)

	expired := k.book.SweepExpired(ctx, tick)

	slow := k.scheduler.IsSlowTick(time.Since(tickStart))
	update := TickUpdate{
		Tick:                tick,
		Trades:              trades,
		Volumes:             volumes,
		PriceChanges:        changed,
		Shortages:           shortages,
		CompetitorDecisions: decisions,
		ExpiredOrders:       expired,
		SlowTick:            slow,
	}

	rec.PhaseStart(diagnostics.PhaseSnapshotEmit)
	if k.sink != nil && runTierM {
		_ = k.sink.Emit(ctx, ports.Snapshot{Tick: tick, Data: update})
	}
	rec.PhaseEnd(diagnostics.PhaseSnapshotEmit)

	k.checkInvariants(ctx)

	k.diagnostics.Finish(ctx, rec, slow)
	k.metrics.RecordTick(ctx, time.Since(tickStart), slow)
	return update
}

// checkInvariants validates the ledger and book's structural invariants
// (stock non-negativity, reserved<=quantity, book sort order, id->index
// sync). With DebugAssertions enabled a violation panics so Tick's deferred
// recover can abort the tick at the scheduler boundary; otherwise it is
// logged and the tick's result stands as computed.
func (k *SimulationKernel) checkInvariants(ctx context.Context) {
	if err := k.ledger.CheckInvariants(); err != nil {
		k.reportInvariantViolation(ctx, err)
	}
	if err := k.book.CheckInvariants(); err != nil {
		k.reportInvariantViolation(ctx, err)
	}
}

func (k *SimulationKernel) reportInvariantViolation(ctx context.Context, err error) {
	if k.cfg.DebugAssertions {
		panic(err)
	}
	k.logger.Error(ctx, "invariant violation detected", err, map[string]interface{}{"tick": k.tick})
}

func (k *SimulationKernel) applyScheduledNarrativeEvents(ctx context.Context, tick uint64) {
	events, ok := k.scheduledEvents[tick]
	if !ok {
		return
	}
	delete(k.scheduledEvents, tick)
	for _, ev := range events {
		for commodity, pct := range priceChangesOf(ev) {
			_ = k.market.ApplyPriceDelta(commodity, pct)
		}
		for commodity, pct := range supplyChangesOf(ev) {
			_ = k.market.ApplySupplyDelta(commodity, pct)
		}
		k.logger.Info(ctx, "narrative event applied", map[string]interface{}{"tick": tick, "kind": ev.Kind})
	}
}

func priceChangesOf(ev ports.NarrativeEvent) map[uint64]float64 {
	return mapFloatPayload(ev, "price_changes")
}

func supplyChangesOf(ev ports.NarrativeEvent) map[uint64]float64 {
	return mapFloatPayload(ev, "supply_changes")
}

func mapFloatPayload(ev ports.NarrativeEvent, key string) map[uint64]float64 {
	raw, ok := ev.Payload[key]
	if !ok {
		return nil
	}
	m, ok := raw.(map[uint64]float64)
	if !ok {
		return nil
	}
	return m
}

func (k *SimulationKernel) fetchNarrativeEvents(ctx context.Context, tick uint64) {
	if k.narrator == nil {
		return
	}
	events, err := k.narrator.PendingEvents(ctx, tick)
	if err != nil {
		k.logger.Debug(ctx, "narrative event fetch failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, ev := range events {
		offset := uint64(10 + k.rng.Intn(201))
		scheduledTick := tick + offset
		k.scheduledEvents[scheduledTick] = append(k.scheduledEvents[scheduledTick], ev)
	}
}

// PurchaseBuildingReason enumerates rejection reasons for PurchaseBuilding.
type PurchaseBuildingReason string

const (
	ReasonInsufficientCash    PurchaseBuildingReason = "insufficient_cash"
	ReasonUnknownDefinition   PurchaseBuildingReason = "unknown_definition"
)

// PurchaseBuildingResult is the outcome of a purchase_building command.
type PurchaseBuildingResult struct {
	Accepted         bool
	LaborCostCharged int64
	BuildingID       uint64
	MissingMaterials []production.RecipeItem
	Reason           PurchaseBuildingReason
}

// laborCostOf derives a flat labor charge from a definition's maintenance
// figure — a tenth of its monthly maintenance, floored at zero.
func laborCostOf(def *production.Definition) int64 {
	cost := def.MonthlyMaintenance / 10
	if cost < 0 {
		return 0
	}
	return cost
}

// PurchaseBuilding constructs a new building instance for an entity from a
// registered definition, charging a labor cost. The building starts waiting
// on materials if the definition lists construction materials, under
// construction if it only needs construction ticks, and running if it needs
// neither.
func (k *SimulationKernel) PurchaseBuilding(entity, definitionID uint64) (PurchaseBuildingResult, error) {
	def, err := k.production.Definition(definitionID)
	if err != nil {
		return PurchaseBuildingResult{Accepted: false, Reason: ReasonUnknownDefinition}, nil
	}

	laborCost := laborCostOf(def)
	if laborCost > 0 {
		cash, cashErr := k.ledger.Cash(entity)
		if cashErr != nil {
			return PurchaseBuildingResult{}, cashErr
		}
		if cash < laborCost {
			return PurchaseBuildingResult{Accepted: false, Reason: ReasonInsufficientCash}, nil
		}
		if err := k.ledger.DeductCash(entity, laborCost, false); err != nil {
			return PurchaseBuildingResult{Accepted: false, Reason: ReasonInsufficientCash}, nil
		}
	}

	k.nextBuildingID++
	status := production.StatusUnderConstruction
	if def.ConstructionTicksRequired == 0 && len(def.ConstructionMaterials) == 0 {
		status = production.StatusRunning
	} else if len(def.ConstructionMaterials) > 0 {
		status = production.StatusWaitingMaterials
	}

	lenient := false
	if owner, err := k.ledger.Entity(entity); err == nil && owner.Kind == ledger.EntityCompetitor {
		lenient = true
	}

	building := &production.Building{
		ID:                  k.nextBuildingID,
		DefinitionID:        definitionID,
		Owner:               entity,
		Status:              status,
		CurrentMethodID:     def.DefaultMethodID,
		AggregationFactor:   1,
		Efficiency:          1.0,
		Utilization:         0.0,
		LenientConstruction: lenient,
	}
	k.production.AddBuilding(building)

	return PurchaseBuildingResult{Accepted: true, LaborCostCharged: laborCost, BuildingID: building.ID}, nil
}

// Purchase implements competitor.Commander, adapting PurchaseBuilding's
// richer result to the narrow (accepted, buildingID, err) shape the
// competitor runtime's goal dispatch needs.
func (k *SimulationKernel) Purchase(entity, definitionID uint64) (accepted bool, buildingID uint64, err error) {
	res, err := k.PurchaseBuilding(entity, definitionID)
	if err != nil {
		return false, 0, err
	}
	return res.Accepted, res.BuildingID, nil
}

// SubmitOrderReason enumerates rejection reasons for SubmitOrder.
type SubmitOrderReason string

const (
	OrderReasonInsufficientCash     SubmitOrderReason = "insufficient_cash"
	OrderReasonInsufficientReserved SubmitOrderReason = "insufficient_reserved"
	OrderReasonUnknownCommodity     SubmitOrderReason = "unknown_commodity"
	OrderReasonInvalidQty           SubmitOrderReason = "invalid_qty"
)

// SubmitOrderResult is the outcome of a submit_order command.
type SubmitOrderResult struct {
	Accepted bool
	OrderID  uint64
	Reason   SubmitOrderReason
}

// SubmitOrder places a buy or sell order on behalf of an entity, performing
// the upfront affordability (buy) or reservation (sell) check the external
// interface's rejection contract requires before it ever reaches the book.
func (k *SimulationKernel) SubmitOrder(entity, commodity uint64, side orderbook.Side, qty, unitPrice int64, validity uint64) (SubmitOrderResult, error) {
	if qty <= 0 || unitPrice <= 0 {
		return SubmitOrderResult{Accepted: false, Reason: OrderReasonInvalidQty}, nil
	}
	if _, err := k.market.Price(commodity); err != nil {
		return SubmitOrderResult{Accepted: false, Reason: OrderReasonUnknownCommodity}, nil
	}

	commodityLabel := strconv.FormatUint(commodity, 10)

	switch side {
	case orderbook.Sell:
		if err := k.ledger.ReserveForSale(entity, commodity, qty); err != nil {
			k.metrics.RecordOrderRejected(context.Background(), string(OrderReasonInsufficientReserved))
			return SubmitOrderResult{Accepted: false, Reason: OrderReasonInsufficientReserved}, nil
		}
		result, err := k.book.SubmitSell(entity, commodity, qty, unitPrice, k.tick, validity)
		if err != nil {
			_ = k.ledger.ReleaseSaleReservation(entity, commodity, qty)
			k.metrics.RecordOrderRejected(context.Background(), string(OrderReasonInvalidQty))
			return SubmitOrderResult{Accepted: false, Reason: OrderReasonInvalidQty}, nil
		}
		k.metrics.RecordOrderAccepted(context.Background(), commodityLabel)
		return SubmitOrderResult{Accepted: true, OrderID: result.Order.ID}, nil

	case orderbook.Buy:
		cash, err := k.ledger.Cash(entity)
		if err != nil {
			return SubmitOrderResult{}, err
		}
		if cash < qty*unitPrice {
			k.metrics.RecordOrderRejected(context.Background(), string(OrderReasonInsufficientCash))
			return SubmitOrderResult{Accepted: false, Reason: OrderReasonInsufficientCash}, nil
		}
		result, err := k.book.SubmitBuy(entity, commodity, qty, unitPrice, k.tick, validity)
		if err != nil {
			k.metrics.RecordOrderRejected(context.Background(), string(OrderReasonInvalidQty))
			return SubmitOrderResult{Accepted: false, Reason: OrderReasonInvalidQty}, nil
		}
		k.metrics.RecordOrderAccepted(context.Background(), commodityLabel)
		return SubmitOrderResult{Accepted: true, OrderID: result.Order.ID}, nil
	}

	return SubmitOrderResult{Accepted: false, Reason: OrderReasonInvalidQty}, nil
}

// CancelOrder cancels an order by id, verifying ownership.
func (k *SimulationKernel) CancelOrder(entity, orderID uint64) bool {
	ok := k.book.CancelByOwner(entity, orderID, k.tick)
	if ok {
		k.metrics.RecordOrderRemoved(context.Background())
	}
	return ok
}

// SwitchMethod changes a building's active recipe/method.
func (k *SimulationKernel) SwitchMethod(entity, buildingID, methodID uint64) error {
	building, err := k.production.Building(buildingID)
	if err != nil {
		return err
	}
	if building.Owner != entity {
		return errs.WrapEntity("kernel.switch_method", entity, errs.ErrUnknownBuilding)
	}
	def, err := k.production.Definition(building.DefinitionID)
	if err != nil {
		return err
	}
	if _, ok := def.Recipes[methodID]; !ok {
		return errs.WrapCommodity("kernel.switch_method", entity, methodID, errs.ErrInvariantViolation)
	}
	building.CurrentMethodID = methodID
	building.ProductionProgress = 0
	return nil
}
