// Package ledger is the kernel's authoritative store of per-entity cash and
// goods. Every mutation validates its invariants before touching state, so a
// rejected operation leaves the ledger exactly as it was (all-or-nothing).
package ledger

import (
	"context"

	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// EntityKind distinguishes the player entity from autonomous competitors.
type EntityKind string

const (
	EntityPlayer     EntityKind = "player"
	EntityCompetitor EntityKind = "competitor"
)

// Stock is one entity's position in one commodity.
type Stock struct {
	Quantity              int64
	ReservedForSale       int64
	ReservedForProduction int64
	AvgCost               int64 // advisory; production cost basis only
}

// Available returns quantity not already earmarked for sale or production.
func (s Stock) Available() int64 {
	return s.Quantity - s.ReservedForSale - s.ReservedForProduction
}

// Entity is a player or competitor's cash and inventory.
type Entity struct {
	ID     uint64
	Kind   EntityKind
	Cash   int64
	Stocks map[uint64]*Stock // keyed by commodity id
}

func newEntity(id uint64, kind EntityKind, startingCash int64) *Entity {
	return &Entity{
		ID:     id,
		Kind:   kind,
		Cash:   startingCash,
		Stocks: make(map[uint64]*Stock),
	}
}

func (e *Entity) stockFor(commodity uint64) *Stock {
	s, ok := e.Stocks[commodity]
	if !ok {
		s = &Stock{}
		e.Stocks[commodity] = s
	}
	return s
}

// Ledger owns every entity's cash and stock state.
type Ledger struct {
	logger   *observability.Logger
	entities map[uint64]*Entity
}

// New constructs an empty ledger.
func New(logger *observability.Logger) *Ledger {
	return &Ledger{
		logger:   logger,
		entities: make(map[uint64]*Entity),
	}
}

// CreateEntity registers a new entity with a starting cash balance. Calling
// it twice for the same id replaces the prior entity entirely, which is only
// safe during reset.
func (l *Ledger) CreateEntity(id uint64, kind EntityKind, startingCash int64) {
	l.entities[id] = newEntity(id, kind, startingCash)
}

func (l *Ledger) entity(id uint64) (*Entity, error) {
	e, ok := l.entities[id]
	if !ok {
		return nil, errs.WrapEntity("ledger", id, errs.ErrUnknownEntity)
	}
	return e, nil
}

// Entity returns a read snapshot of an entity's public state. Callers must
// treat the returned Stocks map as read-only.
func (l *Ledger) Entity(id uint64) (*Entity, error) {
	return l.entity(id)
}

// EntityIDs returns every registered entity id, for the competitor bailout
// sweep.
func (l *Ledger) EntityIDs() []uint64 {
	ids := make([]uint64, 0, len(l.entities))
	for id := range l.entities {
		ids = append(ids, id)
	}
	return ids
}

// Cash returns an entity's current cash balance.
func (l *Ledger) Cash(id uint64) (int64, error) {
	e, err := l.entity(id)
	if err != nil {
		return 0, err
	}
	return e.Cash, nil
}

// AvailableQuantity returns quantity − reserved_for_sale − reserved_for_production.
func (l *Ledger) AvailableQuantity(entityID, commodity uint64) (int64, error) {
	e, err := l.entity(entityID)
	if err != nil {
		return 0, err
	}
	s, ok := e.Stocks[commodity]
	if !ok {
		return 0, nil
	}
	return s.Available(), nil
}

// AddGoods increases quantity and updates avg_cost by a quantity-weighted mean.
func (l *Ledger) AddGoods(entityID, commodity uint64, qty, unitCost int64, tick uint64, reason string) error {
	if qty <= 0 {
		return errs.WrapCommodity("ledger.add_goods", entityID, commodity, errs.ErrInvalidQuantity)
	}
	e, err := l.entity(entityID)
	if err != nil {
		return err
	}
	s := e.stockFor(commodity)

	totalCostBefore := s.Quantity * s.AvgCost
	totalCostAdded := qty * unitCost
	newQuantity := s.Quantity + qty
	s.AvgCost = (totalCostBefore + totalCostAdded) / newQuantity
	s.Quantity = newQuantity

	l.logger.Debug(context.Background(), "goods added", map[string]interface{}{
		"entity": entityID, "commodity": commodity, "qty": qty, "tick": tick, "reason": reason,
	})
	return nil
}

// ConsumeGoods decreases quantity, failing if it would exceed the free
// (unreserved) portion of the stock. Production draws on its own prior
// reservation first, so the reserved_for_production bucket is clamped down
// rather than left to exceed the new (lower) quantity.
func (l *Ledger) ConsumeGoods(entityID, commodity uint64, qty int64, tick uint64, reason string) error {
	if qty <= 0 {
		return errs.WrapCommodity("ledger.consume_goods", entityID, commodity, errs.ErrInvalidQuantity)
	}
	e, err := l.entity(entityID)
	if err != nil {
		return err
	}
	s := e.stockFor(commodity)
	if s.Quantity-s.ReservedForSale < qty {
		return errs.WrapCommodity("ledger.consume_goods", entityID, commodity, errs.ErrInsufficientStock)
	}
	s.Quantity -= qty
	if max := s.Quantity - s.ReservedForSale; s.ReservedForProduction > max {
		s.ReservedForProduction = max
	}
	l.logger.Debug(context.Background(), "goods consumed", map[string]interface{}{
		"entity": entityID, "commodity": commodity, "qty": qty, "tick": tick, "reason": reason,
	})
	return nil
}

// ReserveForSale shifts qty from free to reserved_for_sale.
func (l *Ledger) ReserveForSale(entityID, commodity uint64, qty int64) error {
	return l.reserve(entityID, commodity, qty, reservedForSale)
}

// ReleaseSaleReservation shifts qty from reserved_for_sale back to free.
func (l *Ledger) ReleaseSaleReservation(entityID, commodity uint64, qty int64) error {
	return l.release(entityID, commodity, qty, reservedForSale)
}

// ReserveForProduction shifts qty from free to reserved_for_production.
func (l *Ledger) ReserveForProduction(entityID, commodity uint64, qty int64) error {
	return l.reserve(entityID, commodity, qty, reservedForProduction)
}

// ReleaseProductionReservation shifts qty from reserved_for_production back to free.
func (l *Ledger) ReleaseProductionReservation(entityID, commodity uint64, qty int64) error {
	return l.release(entityID, commodity, qty, reservedForProduction)
}

type reservationBucket int

const (
	reservedForSale reservationBucket = iota
	reservedForProduction
)

func (l *Ledger) reserve(entityID, commodity uint64, qty int64, bucket reservationBucket) error {
	if qty <= 0 {
		return errs.WrapCommodity("ledger.reserve", entityID, commodity, errs.ErrInvalidQuantity)
	}
	e, err := l.entity(entityID)
	if err != nil {
		return err
	}
	s := e.stockFor(commodity)
	if s.Available() < qty {
		return errs.WrapCommodity("ledger.reserve", entityID, commodity, errs.ErrInsufficientFree)
	}
	switch bucket {
	case reservedForSale:
		s.ReservedForSale += qty
	case reservedForProduction:
		s.ReservedForProduction += qty
	}
	return nil
}

func (l *Ledger) release(entityID, commodity uint64, qty int64, bucket reservationBucket) error {
	if qty <= 0 {
		return errs.WrapCommodity("ledger.release", entityID, commodity, errs.ErrInvalidQuantity)
	}
	e, err := l.entity(entityID)
	if err != nil {
		return err
	}
	s := e.stockFor(commodity)
	switch bucket {
	case reservedForSale:
		if s.ReservedForSale < qty {
			return errs.WrapCommodity("ledger.release", entityID, commodity, errs.ErrInsufficientReserved)
		}
		s.ReservedForSale -= qty
	case reservedForProduction:
		if s.ReservedForProduction < qty {
			return errs.WrapCommodity("ledger.release", entityID, commodity, errs.ErrInsufficientReserved)
		}
		s.ReservedForProduction -= qty
	}
	return nil
}

// AddCash credits an entity's cash balance.
func (l *Ledger) AddCash(entityID uint64, amount int64) error {
	if amount < 0 {
		return errs.WrapEntity("ledger.add_cash", entityID, errs.ErrInvalidQuantity)
	}
	e, err := l.entity(entityID)
	if err != nil {
		return err
	}
	e.Cash += amount
	return nil
}

// DeductCash debits an entity's cash balance. It fails with
// ErrInsufficientCash if the result would go below zero, unless allowNegative
// is set — the production engine's maintenance charge sets it for every
// owner, and the competitor bailout sweep later credits competitors whose
// cash went negative.
func (l *Ledger) DeductCash(entityID uint64, amount int64, allowNegative bool) error {
	if amount < 0 {
		return errs.WrapEntity("ledger.deduct_cash", entityID, errs.ErrInvalidQuantity)
	}
	e, err := l.entity(entityID)
	if err != nil {
		return err
	}
	if !allowNegative && e.Cash-amount < 0 {
		return errs.WrapEntity("ledger.deduct_cash", entityID, errs.ErrInsufficientCash)
	}
	e.Cash -= amount
	return nil
}

// CheckInvariants validates every entity's stock bookkeeping: quantity must
// never go negative, and the reservation buckets must never exceed it. It is
// the per-tick consistency check the kernel's debug-assertion contract runs.
func (l *Ledger) CheckInvariants() error {
	for id, e := range l.entities {
		for commodity, s := range e.Stocks {
			if s.Quantity < 0 {
				return errs.WrapCommodity("ledger.invariant", id, commodity, errs.ErrInvariantViolation)
			}
			if s.ReservedForSale+s.ReservedForProduction > s.Quantity {
				return errs.WrapCommodity("ledger.invariant", id, commodity, errs.ErrInvariantViolation)
			}
		}
	}
	return nil
}

// CompletePurchase atomically debits cash and adds goods for a buyer.
func (l *Ledger) CompletePurchase(buyer, commodity uint64, qty, unitPrice int64, tick, tradeID uint64) error {
	if qty <= 0 {
		return errs.WrapCommodity("ledger.complete_purchase", buyer, commodity, errs.ErrInvalidQuantity)
	}
	total := qty * unitPrice
	e, err := l.entity(buyer)
	if err != nil {
		return err
	}
	if e.Cash-total < 0 {
		return errs.WrapCommodity("ledger.complete_purchase", buyer, commodity, errs.ErrInsufficientCash)
	}
	e.Cash -= total

	s := e.stockFor(commodity)
	totalCostBefore := s.Quantity * s.AvgCost
	newQuantity := s.Quantity + qty
	s.AvgCost = (totalCostBefore + total) / newQuantity
	s.Quantity = newQuantity

	l.logger.Debug(context.Background(), "purchase completed", map[string]interface{}{
		"buyer": buyer, "commodity": commodity, "qty": qty, "tick": tick, "trade_id": tradeID,
	})
	return nil
}

// CompleteSale atomically consumes from the seller's sale reservation and
// credits cash.
func (l *Ledger) CompleteSale(seller, commodity uint64, qty, unitPrice int64, tick, tradeID uint64) error {
	if qty <= 0 {
		return errs.WrapCommodity("ledger.complete_sale", seller, commodity, errs.ErrInvalidQuantity)
	}
	e, err := l.entity(seller)
	if err != nil {
		return err
	}
	s := e.stockFor(commodity)
	if s.ReservedForSale < qty {
		return errs.WrapCommodity("ledger.complete_sale", seller, commodity, errs.ErrInsufficientReserved)
	}
	s.ReservedForSale -= qty
	s.Quantity -= qty
	e.Cash += qty * unitPrice

	l.logger.Debug(context.Background(), "sale completed", map[string]interface{}{
		"seller": seller, "commodity": commodity, "qty": qty, "tick": tick, "trade_id": tradeID,
	})
	return nil
}
