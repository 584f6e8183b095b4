package orderbook

import (
	"context"
	"sort"

	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

type location struct {
	side  Side
	index int
}

// CommodityBook is the buy/sell book for a single commodity: two
// price-sorted slices plus an id→index secondary map for O(1) cancel-locate.
type CommodityBook struct {
	commodity uint64

	buys  []*Order // descending by price, ties FIFO
	sells []*Order // ascending by price, ties FIFO

	byID map[uint64]location

	// FIFO list of active order ids per owner, oldest first, across both
	// sides — used to enforce the per-(entity,commodity) cap.
	ownerActive map[uint64][]uint64

	lastSweepTick uint64

	bestBid, bestAsk int64
}

func newCommodityBook(commodity uint64) *CommodityBook {
	return &CommodityBook{
		commodity:   commodity,
		byID:        make(map[uint64]location),
		ownerActive: make(map[uint64][]uint64),
	}
}

func (cb *CommodityBook) side(s Side) []*Order {
	if s == Buy {
		return cb.buys
	}
	return cb.sells
}

func (cb *CommodityBook) setSide(s Side, orders []*Order) {
	if s == Buy {
		cb.buys = orders
	} else {
		cb.sells = orders
	}
}

// less reports whether a should sort before b on the given side.
func less(s Side, a, b *Order) bool {
	if a.UnitPrice != b.UnitPrice {
		if s == Buy {
			return a.UnitPrice > b.UnitPrice // descending
		}
		return a.UnitPrice < b.UnitPrice // ascending
	}
	return a.CreatedTick < b.CreatedTick // earlier first (time priority)
}

// insert places o into its side in sorted order and reindexes the affected
// tail.
func (cb *CommodityBook) insert(o *Order) {
	orders := cb.side(o.Side)
	pos := sort.Search(len(orders), func(i int) bool {
		return less(o.Side, o, orders[i])
	})
	orders = append(orders, nil)
	copy(orders[pos+1:], orders[pos:])
	orders[pos] = o
	cb.setSide(o.Side, orders)
	cb.reindexFrom(o.Side, pos)
	cb.refreshBest(o.Side)
}

// removeAt removes the order at position i on the given side and reindexes
// the tail that shifted down.
func (cb *CommodityBook) removeAt(s Side, i int) *Order {
	orders := cb.side(s)
	o := orders[i]
	orders = append(orders[:i], orders[i+1:]...)
	cb.setSide(s, orders)
	delete(cb.byID, o.ID)
	cb.reindexFrom(s, i)
	cb.refreshBest(s)
	return o
}

func (cb *CommodityBook) reindexFrom(s Side, from int) {
	orders := cb.side(s)
	for i := from; i < len(orders); i++ {
		cb.byID[orders[i].ID] = location{side: s, index: i}
	}
}

func (cb *CommodityBook) refreshBest(s Side) {
	orders := cb.side(s)
	var best int64
	if len(orders) > 0 {
		best = orders[0].UnitPrice
	}
	if s == Buy {
		cb.bestBid = best
	} else {
		cb.bestAsk = best
	}
}

// checkSorted reports an invariant violation if side is not sorted per the
// book's ordering rule (descending price for buys, ascending for sells, ties
// broken by time priority).
func (cb *CommodityBook) checkSorted(s Side) error {
	orders := cb.side(s)
	for i := 1; i < len(orders); i++ {
		if less(s, orders[i], orders[i-1]) {
			return errs.ErrInvariantViolation
		}
	}
	return nil
}

// checkIndexSync reports an invariant violation if the id→index secondary
// map disagrees with the sorted slices it is meant to mirror.
func (cb *CommodityBook) checkIndexSync() error {
	for id, loc := range cb.byID {
		orders := cb.side(loc.side)
		if loc.index < 0 || loc.index >= len(orders) || orders[loc.index].ID != id || !orders[loc.index].Status.Active() {
			return errs.ErrInvariantViolation
		}
	}
	return nil
}

// Spread returns bestAsk - bestBid; meaningless if either side is empty.
func (cb *CommodityBook) Spread() int64 {
	return cb.bestAsk - cb.bestBid
}

func (cb *CommodityBook) activeCount() int {
	return len(cb.buys) + len(cb.sells)
}

func (cb *CommodityBook) appendOwnerActive(owner, orderID uint64) {
	cb.ownerActive[owner] = append(cb.ownerActive[owner], orderID)
}

func (cb *CommodityBook) removeOwnerActive(owner, orderID uint64) {
	list := cb.ownerActive[owner]
	for i, id := range list {
		if id == orderID {
			cb.ownerActive[owner] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// DepthLevel is one aggregated price level.
type DepthLevel struct {
	Price    int64
	Quantity int64
	Orders   int
}

// DepthView is a snapshot of aggregated book depth for one commodity.
type DepthView struct {
	Commodity uint64
	Bids      []DepthLevel
	Asks      []DepthLevel
}

func depthFor(orders []*Order, levels int) []DepthLevel {
	out := make([]DepthLevel, 0, levels)
	i := 0
	for i < len(orders) && len(out) < levels {
		price := orders[i].UnitPrice
		var qty int64
		var count int
		for i < len(orders) && orders[i].UnitPrice == price {
			qty += orders[i].RemainingQty
			count++
			i++
		}
		out = append(out, DepthLevel{Price: price, Quantity: qty, Orders: count})
	}
	return out
}

// Depth returns an aggregated view of the book with up to levels price
// levels per side.
func (cb *CommodityBook) Depth(levels int) DepthView {
	return DepthView{
		Commodity: cb.commodity,
		Bids:      depthFor(cb.buys, levels),
		Asks:      depthFor(cb.sells, levels),
	}
}

// Book is the container owning every commodity's CommodityBook, the global
// strictly-increasing order id sequence, and the per-entity/per-commodity and
// per-commodity caps.
type Book struct {
	logger *observability.Logger

	maxPerEntityPerCommodity int
	maxPerCommodity          int
	expirySweepInterval      uint64

	books  map[uint64]*CommodityBook
	nextID uint64

	// dirty marks commodities with a new order since the last matching
	// pass, so the matcher can run an incremental sweep instead of a full
	// one every tick.
	dirty map[uint64]struct{}
}

// New constructs an empty Book.
func New(logger *observability.Logger, maxPerEntityPerCommodity, maxPerCommodity int, expirySweepInterval uint64) *Book {
	return &Book{
		logger:                   logger,
		maxPerEntityPerCommodity: maxPerEntityPerCommodity,
		maxPerCommodity:          maxPerCommodity,
		expirySweepInterval:      expirySweepInterval,
		books:                    make(map[uint64]*CommodityBook),
		dirty:                    make(map[uint64]struct{}),
	}
}

func (b *Book) bookFor(commodity uint64) *CommodityBook {
	cb, ok := b.books[commodity]
	if !ok {
		cb = newCommodityBook(commodity)
		b.books[commodity] = cb
	}
	return cb
}

// SubmitResult reports the outcome of a submit call, including any order the
// per-entity cap forced out.
type SubmitResult struct {
	Order            *Order
	CancelledForCap  *uint64 // order id cancelled to enforce the K1 cap, if any
	DroppedTailForK2 *uint64 // order id dropped to enforce the K2 cap, if any
}

func (b *Book) submit(owner, commodity uint64, side Side, qty, unitPrice int64, tick, validityTicks uint64) (SubmitResult, error) {
	if qty <= 0 {
		return SubmitResult{}, errs.WrapCommodity("orderbook.submit", owner, commodity, errs.ErrInvalidQuantity)
	}
	if unitPrice <= 0 {
		return SubmitResult{}, errs.WrapCommodity("orderbook.submit", owner, commodity, errs.ErrInvalidPrice)
	}

	cb := b.bookFor(commodity)

	var result SubmitResult

	if len(cb.ownerActive[owner]) >= b.maxPerEntityPerCommodity {
		oldest := cb.ownerActive[owner][0]
		if b.doCancel(cb, oldest, tick) {
			result.CancelledForCap = &oldest
		}
	}

	b.nextID++
	o := &Order{
		ID:             b.nextID,
		Owner:          owner,
		Commodity:      commodity,
		Side:           side,
		OriginalQty:    qty,
		RemainingQty:   qty,
		UnitPrice:      unitPrice,
		Status:         StatusOpen,
		CreatedTick:    tick,
		ExpiryTick:     tick + validityTicks,
		LastUpdateTick: tick,
	}

	cb.insert(o)
	cb.appendOwnerActive(owner, o.ID)
	b.dirty[commodity] = struct{}{}

	if cb.activeCount() > b.maxPerCommodity {
		orders := cb.side(side)
		tailIdx := len(orders) - 1
		tail := orders[tailIdx]
		if tail.ID == o.ID {
			// the new order is itself the worst-priced entry; drop it.
			cb.removeAt(side, tailIdx)
			cb.removeOwnerActive(tail.Owner, tail.ID)
			tail.Status = StatusCancelled
			result.DroppedTailForK2 = &tail.ID
			result.Order = nil
		} else {
			cb.removeAt(side, tailIdx)
			cb.removeOwnerActive(tail.Owner, tail.ID)
			tail.Status = StatusCancelled
			result.DroppedTailForK2 = &tail.ID
			result.Order = o
		}
	} else {
		result.Order = o
	}

	return result, nil
}

// SubmitBuy submits a new buy order.
func (b *Book) SubmitBuy(owner, commodity uint64, qty, maxUnitPrice int64, tick, validityTicks uint64) (SubmitResult, error) {
	return b.submit(owner, commodity, Buy, qty, maxUnitPrice, tick, validityTicks)
}

// SubmitSell submits a new sell order.
func (b *Book) SubmitSell(owner, commodity uint64, qty, minUnitPrice int64, tick, validityTicks uint64) (SubmitResult, error) {
	return b.submit(owner, commodity, Sell, qty, minUnitPrice, tick, validityTicks)
}

func (b *Book) doCancel(cb *CommodityBook, orderID uint64, tick uint64) bool {
	loc, ok := cb.byID[orderID]
	if !ok {
		return false
	}
	orders := cb.side(loc.side)
	if loc.index >= len(orders) || orders[loc.index].ID != orderID {
		return false
	}
	o := orders[loc.index]
	if !o.Status.Active() {
		return false
	}
	cb.removeAt(loc.side, loc.index)
	cb.removeOwnerActive(o.Owner, o.ID)
	o.Status = StatusCancelled
	o.LastUpdateTick = tick
	return true
}

// Cancel cancels an order by id. Returns false if the order is unknown or no
// longer open/partial.
func (b *Book) Cancel(commodity, orderID uint64, tick uint64) bool {
	cb, ok := b.books[commodity]
	if !ok {
		return false
	}
	return b.doCancel(cb, orderID, tick)
}

// CancelByOwner cancels an order by id without the caller needing to know
// which commodity it belongs to, verifying ownership first. Used by the
// cancel_order command surface, which is keyed only by (entity, order_id).
func (b *Book) CancelByOwner(owner, orderID uint64, tick uint64) bool {
	for _, cb := range b.books {
		loc, ok := cb.byID[orderID]
		if !ok {
			continue
		}
		orders := cb.side(loc.side)
		if loc.index >= len(orders) || orders[loc.index].ID != orderID {
			continue
		}
		if orders[loc.index].Owner != owner {
			return false
		}
		return b.doCancel(cb, orderID, tick)
	}
	return false
}

// UpdateAfterTrade decrements an order's remaining quantity; the order is
// removed from the book and marked filled once remaining reaches zero.
func (b *Book) UpdateAfterTrade(commodity, orderID uint64, tradedQty int64, tick uint64) error {
	cb, ok := b.books[commodity]
	if !ok {
		return errs.WrapCommodity("orderbook.update_after_trade", 0, commodity, errs.ErrUnknownOrder)
	}
	loc, ok := cb.byID[orderID]
	if !ok {
		return errs.WrapCommodity("orderbook.update_after_trade", 0, commodity, errs.ErrUnknownOrder)
	}
	o := cb.side(loc.side)[loc.index]
	o.RemainingQty -= tradedQty
	o.LastUpdateTick = tick
	if o.RemainingQty <= 0 {
		o.Status = StatusFilled
		cb.removeAt(loc.side, loc.index)
		cb.removeOwnerActive(o.Owner, o.ID)
	} else {
		o.Status = StatusPartial
	}
	return nil
}

// SweepExpired expires orders past their expiry tick, throttled to run at
// most once every expirySweepInterval ticks.
func (b *Book) SweepExpired(ctx context.Context, tick uint64) int {

	expiredCount := 0
	for _, cb := range b.books {
		if tick-cb.lastSweepTick < b.expirySweepInterval {
			continue
		}
		cb.lastSweepTick = tick
		expiredCount += b.sweepCommodity(cb, tick)
	}
	return expiredCount
}

func (b *Book) sweepCommodity(cb *CommodityBook, tick uint64) int {
	count := 0
	for _, s := range []Side{Buy, Sell} {
		var toExpire []uint64
		for _, o := range cb.side(s) {
			if o.Status.Active() && o.ExpiryTick <= tick {
				toExpire = append(toExpire, o.ID)
			}
		}
		for _, id := range toExpire {
			loc := cb.byID[id]
			o := cb.side(loc.side)[loc.index]
			cb.removeAt(loc.side, loc.index)
			cb.removeOwnerActive(o.Owner, o.ID)
			o.Status = StatusExpired
			o.LastUpdateTick = tick
			count++
		}
	}
	return count
}

// BestBidAsk returns the best bid and ask for a commodity (0 if a side is empty).
func (b *Book) BestBidAsk(commodity uint64) (bid, ask int64) {
	cb, ok := b.books[commodity]
	if !ok {
		return 0, 0
	}
	return cb.bestBid, cb.bestAsk
}

// Depth returns an aggregated depth view for a commodity.
func (b *Book) Depth(commodity uint64, levels int) DepthView {
	cb, ok := b.books[commodity]
	if !ok {
		return DepthView{Commodity: commodity}
	}
	return cb.Depth(levels)
}

// ActiveCount returns the number of active orders on one commodity's book.
func (b *Book) ActiveCount(commodity uint64) int {
	cb, ok := b.books[commodity]
	if !ok {
		return 0
	}
	return cb.activeCount()
}

// ActiveCountForOwner returns the number of active orders an owner has on one
// commodity's book (used by tests asserting the K1 cap).
func (b *Book) ActiveCountForOwner(commodity, owner uint64) int {
	cb, ok := b.books[commodity]
	if !ok {
		return 0
	}
	return len(cb.ownerActive[owner])
}

// drainDirty returns and clears the set of commodities with new orders since
// the last call, for the matcher's incremental pass.
func (b *Book) drainDirty() []uint64 {
	out := make([]uint64, 0, len(b.dirty))
	for c := range b.dirty {
		out = append(out, c)
	}
	b.dirty = make(map[uint64]struct{})
	return out
}

// CheckInvariants validates the sort order and id→index secondary map of
// every commodity's book — the consistency the matching engine's
// head-to-tail scan and O(1) cancel-by-id both depend on. It is the
// order-book half of the kernel's per-tick debug-assertion contract.
func (b *Book) CheckInvariants() error {
	for commodity, cb := range b.books {
		if err := cb.checkSorted(Buy); err != nil {
			return errs.WrapCommodity("orderbook.invariant", 0, commodity, err)
		}
		if err := cb.checkSorted(Sell); err != nil {
			return errs.WrapCommodity("orderbook.invariant", 0, commodity, err)
		}
		if err := cb.checkIndexSync(); err != nil {
			return errs.WrapCommodity("orderbook.invariant", 0, commodity, err)
		}
	}
	return nil
}

// AllCommodities returns every commodity id that has had a book created for
// it; books are not removed when they empty, so some may hold no orders.
func (b *Book) AllCommodities() []uint64 {
	out := make([]uint64, 0, len(b.books))
	for c := range b.books {
		out = append(out, c)
	}
	return out
}
