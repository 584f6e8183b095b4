// Package market tracks per-commodity supply and demand, discovers new
// prices from the balance between them, and synthesizes background consumer
// demand each tick.
package market

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/internal/ringbuffer"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// Commodity is a tradable good's static definition.
type Commodity struct {
	ID                 uint64
	BasePrice           int64
	Category            string
	ConsumerDemandRate  float64 // base demand units/tick; 0 triggers the category fallback table
}

// state is the live supply/demand/price tracking for one commodity.
type state struct {
	supply        float64
	demand        float64
	lastPrice     int64
	priceVelocity float64
	pendingVolume VolumeDelta
	phaseOffset   float64
}

const demandFloor = 100.0

// VolumeDelta is the matching engine's per-commodity per-tick trade volume.
type VolumeDelta struct {
	Total, Buy, Sell int64
}

// OHLCV is one tick's price-history bar.
type OHLCV struct {
	Tick                        uint64
	Open, High, Low, Close      int64
	TotalVolume, BuyVol, SellVol int64
}

// Config holds the price-discovery and demand-generator tunables.
type Config struct {
	MinMultiplier      float64
	MaxMultiplier      float64
	ImbalanceThreshold float64
	AdjustmentRate     float64
	SupplyDemandDecay  float64
	DemandCycleLength  uint64
	DemandAmplitude    float64
	HistoryCapacity    int
}

// categoryFallbackRate is the legacy hardcoded table used when a commodity's
// own ConsumerDemandRate is unset, keeping the market alive regardless.
var categoryFallbackRate = map[string]float64{
	"staple":  400,
	"luxury":  80,
	"default": 200,
}

// Tracker owns every commodity's supply/demand state and price history.
type Tracker struct {
	cfg        Config
	logger     *observability.Logger
	rng        *rand.Rand
	commodities map[uint64]*Commodity
	states      map[uint64]*state
	history     map[uint64]*ringbuffer.Buffer[OHLCV]
}

// New constructs an empty Tracker. seed controls the deterministic noise
// source used by price discovery and demand generation.
func New(cfg Config, logger *observability.Logger, seed int64) *Tracker {
	return &Tracker{
		cfg:         cfg,
		logger:      logger,
		rng:         rand.New(rand.NewSource(seed)),
		commodities: make(map[uint64]*Commodity),
		states:      make(map[uint64]*state),
		history:     make(map[uint64]*ringbuffer.Buffer[OHLCV]),
	}
}

// RegisterCommodity adds a commodity and seeds its price history with its
// base price at tick 0, per the reset contract.
func (t *Tracker) RegisterCommodity(c Commodity) error {
	hist, err := ringbuffer.New[OHLCV](t.cfg.HistoryCapacity)
	if err != nil {
		return errs.Wrap("market.register_commodity", err)
	}
	t.commodities[c.ID] = &c
	// Stagger peaks by id rather than registration order, so phase offsets
	// never shift as more commodities are added.
	phase := float64(c.ID % t.cfg.DemandCycleLength)
	t.states[c.ID] = &state{
		supply:      demandFloor,
		demand:      demandFloor,
		lastPrice:   c.BasePrice,
		phaseOffset: phase,
	}
	hist.Push(OHLCV{Tick: 0, Open: c.BasePrice, High: c.BasePrice, Low: c.BasePrice, Close: c.BasePrice})
	t.history[c.ID] = hist
	return nil
}

// Price returns a commodity's current market price.
func (t *Tracker) Price(commodity uint64) (int64, error) {
	s, ok := t.states[commodity]
	if !ok {
		return 0, errs.WrapCommodity("market.price", 0, commodity, errs.ErrUnknownCommodity)
	}
	return s.lastPrice, nil
}

// History returns the price-history ring buffer for a commodity.
func (t *Tracker) History(commodity uint64) (*ringbuffer.Buffer[OHLCV], error) {
	h, ok := t.history[commodity]
	if !ok {
		return nil, errs.WrapCommodity("market.history", 0, commodity, errs.ErrUnknownCommodity)
	}
	return h, nil
}

// RecordSupply adds to a commodity's supply accumulator (called on
// production output completion).
func (t *Tracker) RecordSupply(commodity uint64, qty float64) {
	s, ok := t.states[commodity]
	if !ok {
		return
	}
	s.supply += qty
}

// RecordDemand adds to a commodity's demand accumulator (called on input
// consumption).
func (t *Tracker) RecordDemand(commodity uint64, qty float64) {
	s, ok := t.states[commodity]
	if !ok {
		return
	}
	s.demand += qty
}

// ApplyPriceDelta applies an externally-sourced percentage price shock
// (e.g. a narrative event), clamped to the same multiplier bounds as
// ordinary price discovery.
func (t *Tracker) ApplyPriceDelta(commodity uint64, pct float64) error {
	c, ok := t.commodities[commodity]
	if !ok {
		return errs.WrapCommodity("market.apply_price_delta", 0, commodity, errs.ErrUnknownCommodity)
	}
	s := t.states[commodity]
	newPrice := float64(s.lastPrice) * (1 + pct)
	minPrice := float64(c.BasePrice) * t.cfg.MinMultiplier
	maxPrice := float64(c.BasePrice) * t.cfg.MaxMultiplier
	if newPrice < minPrice {
		newPrice = minPrice
	}
	if newPrice > maxPrice {
		newPrice = maxPrice
	}
	s.lastPrice = int64(math.Round(newPrice))
	return nil
}

// ApplySupplyDelta applies an externally-sourced percentage supply shock.
func (t *Tracker) ApplySupplyDelta(commodity uint64, pct float64) error {
	s, ok := t.states[commodity]
	if !ok {
		return errs.WrapCommodity("market.apply_supply_delta", 0, commodity, errs.ErrUnknownCommodity)
	}
	s.supply = math.Max(s.supply*(1+pct), demandFloor)
	return nil
}

// RecordTradeVolume folds the matching engine's per-tick volume into the
// pending OHLCV bar for a commodity.
func (t *Tracker) RecordTradeVolume(commodity uint64, vd VolumeDelta) {
	s, ok := t.states[commodity]
	if !ok {
		return
	}
	s.pendingVolume.Total += vd.Total
	s.pendingVolume.Buy += vd.Buy
	s.pendingVolume.Sell += vd.Sell
}

// InjectBaselineDemand implements the consumer demand generator (component
// I): base × (1 + A·sin(2π(tick+phase)/L)) × (0.9 + 0.2·U), staggered per
// commodity by a phase offset so peaks do not all land together.
func (t *Tracker) InjectBaselineDemand(tick uint64) {
	for _, id := range t.sortedIDs() {
		c := t.commodities[id]
		s := t.states[id]
		base := c.ConsumerDemandRate
		if base <= 0 {
			base = categoryFallbackRate[c.Category]
			if base == 0 {
				base = categoryFallbackRate["default"]
			}
		}
		cyclic := 1 + t.cfg.DemandAmplitude*math.Sin(2*math.Pi*(float64(tick)+s.phaseOffset)/float64(t.cfg.DemandCycleLength))
		noise := 0.9 + 0.2*t.rng.Float64()
		s.demand += base * cyclic * noise
	}
}

// sortedIDs returns the registered commodity ids in ascending order, so the
// shared noise source is drawn in the same order on every run.
func (t *Tracker) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(t.commodities))
	for id := range t.commodities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UpdatePrices runs price discovery for every registered commodity after
// matching has executed for the tick. It returns the ids of commodities
// whose price changed.
func (t *Tracker) UpdatePrices(ctx context.Context, tick uint64) []uint64 {
	var changed []uint64
	for _, id := range t.sortedIDs() {
		c := t.commodities[id]
		s := t.states[id]
		prevClose := s.lastPrice

		newPrice := t.discoverPrice(c, s)

		open := prevClose
		high := open
		low := open
		if newPrice > high {
			high = newPrice
		}
		if newPrice < low {
			low = newPrice
		}

		hist := t.history[id]
		hist.Push(OHLCV{
			Tick: tick, Open: open, High: high, Low: low, Close: newPrice,
			TotalVolume: s.pendingVolume.Total, BuyVol: s.pendingVolume.Buy, SellVol: s.pendingVolume.Sell,
		})
		s.pendingVolume = VolumeDelta{}

		if newPrice != prevClose {
			changed = append(changed, id)
		}
		s.lastPrice = newPrice

		// supply/demand decay toward equilibrium, floored
		s.supply = math.Max(s.supply*t.cfg.SupplyDemandDecay, demandFloor)
		s.demand = math.Max(s.demand*t.cfg.SupplyDemandDecay, demandFloor)
	}
	return changed
}

// discoverPrice implements the ratio/imbalance/velocity rule using
// shopspring/decimal for the intermediate arithmetic, rounding back to an
// int64 minor-unit price before returning.
func (t *Tracker) discoverPrice(c *Commodity, s *state) int64 {
	ratio := decimal.NewFromFloat(s.demand).Div(decimal.NewFromFloat(s.supply))
	imbalance, _ := ratio.Sub(decimal.NewFromInt(1)).Float64()

	current := decimal.NewFromInt(s.lastPrice)

	if math.Abs(imbalance) > t.cfg.ImbalanceThreshold {
		s.priceVelocity = 0.9*s.priceVelocity + 0.1*(imbalance*t.cfg.AdjustmentRate)
		delta := decimal.NewFromFloat(s.priceVelocity)
		current = current.Mul(decimal.NewFromInt(1).Add(delta))
	} else {
		s.priceVelocity *= 0.95
		base := decimal.NewFromInt(c.BasePrice)
		gap := base.Sub(current)
		current = current.Add(gap.Mul(decimal.NewFromFloat(0.001)))
	}

	noise := (t.rng.Float64() - 0.5) * 0.01
	current = current.Mul(decimal.NewFromFloat(1 + noise))

	minPrice := decimal.NewFromInt(c.BasePrice).Mul(decimal.NewFromFloat(t.cfg.MinMultiplier))
	maxPrice := decimal.NewFromInt(c.BasePrice).Mul(decimal.NewFromFloat(t.cfg.MaxMultiplier))
	if current.LessThan(minPrice) {
		current = minPrice
	}
	if current.GreaterThan(maxPrice) {
		current = maxPrice
	}

	return current.Round(0).IntPart()
}
