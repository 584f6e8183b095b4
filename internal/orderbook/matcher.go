package orderbook

import (
	"context"

	"github.com/google/uuid"

	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// Trade is an append-only record of one executed match. ID is the
// strictly-increasing sequence number matching engines rely on for
// ordering within a run; RecordID is the trade-log's external record
// identity, which has no ordering requirement.
type Trade struct {
	ID          uint64
	RecordID    uuid.UUID
	Commodity   uint64
	Buyer       uint64
	Seller      uint64
	BuyOrderID  uint64
	SellOrderID uint64
	Qty         int64
	UnitPrice   int64
	Total       int64
	Tick        uint64
}

// VolumeDelta accumulates a commodity's traded volume for one tick.
type VolumeDelta struct {
	Total int64
	Buy   int64
	Sell  int64
}

// Matcher pairs compatible buy/sell orders from a Book and executes them
// against a Ledger.
type Matcher struct {
	book    *Book
	ledger  *ledger.Ledger
	logger  *observability.Logger
	metrics *observability.MetricsProvider

	maxPairsPerCommodity   int
	fullSweepIntervalTicks uint64
	lastFullSweep          uint64

	nextTradeID uint64
}

// NewMatcher constructs a Matcher bound to a Book and Ledger.
func NewMatcher(book *Book, led *ledger.Ledger, logger *observability.Logger, metrics *observability.MetricsProvider, maxPairsPerCommodity int, fullSweepIntervalTicks uint64) *Matcher {
	return &Matcher{
		book:                   book,
		ledger:                 led,
		logger:                 logger,
		metrics:                metrics,
		maxPairsPerCommodity:   maxPairsPerCommodity,
		fullSweepIntervalTicks: fullSweepIntervalTicks,
	}
}

// MatchTick runs one matching pass: the commodities signaled dirty since the
// last call, plus every commodity on a periodic full sweep. It returns the
// trades executed and the per-commodity volume traded this tick.
func (m *Matcher) MatchTick(ctx context.Context, tick uint64) ([]Trade, map[uint64]VolumeDelta) {
	toCheck := m.book.drainDirty()

	if tick-m.lastFullSweep >= m.fullSweepIntervalTicks {
		m.lastFullSweep = tick
		toCheck = m.book.AllCommodities()
	}

	var trades []Trade
	volumes := make(map[uint64]VolumeDelta)

	for _, commodity := range toCheck {
		commodityTrades := m.matchCommodity(ctx, commodity, tick)
		if len(commodityTrades) == 0 {
			continue
		}
		trades = append(trades, commodityTrades...)
		vd := volumes[commodity]
		for _, t := range commodityTrades {
			vd.Total += t.Qty
			vd.Buy += t.Qty
			vd.Sell += t.Qty
			if m.metrics != nil {
				m.metrics.RecordTrade(ctx, commodityIDString(commodity))
			}
		}
		volumes[commodity] = vd
	}

	return trades, volumes
}

func commodityIDString(id uint64) string {
	if id == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}

// matchCommodity runs one commodity's matching pass: fast-reject on an
// empty or uncrossed book, then walk buys head-to-tail and, for each, walk
// sells head-to-tail until the sell price exceeds the buy price. Because cb
// is a live pointer, a fill's in-place removal from cb.buys/cb.sells is
// immediately visible to the loop — no re-fetch needed.
func (m *Matcher) matchCommodity(ctx context.Context, commodity uint64, tick uint64) []Trade {
	cb, ok := m.book.books[commodity]
	if !ok {
		return nil
	}
	if len(cb.buys) == 0 || len(cb.sells) == 0 || cb.bestBid < cb.bestAsk {
		return nil
	}

	var trades []Trade
	pairs := 0

	buyIdx := 0
	for buyIdx < len(cb.buys) && pairs < m.maxPairsPerCommodity {
		buyOrder := cb.buys[buyIdx]
		buyFilled := false

		sellIdx := 0
		for sellIdx < len(cb.sells) && pairs < m.maxPairsPerCommodity {
			sellOrder := cb.sells[sellIdx]
			if sellOrder.UnitPrice > buyOrder.UnitPrice {
				break // sorted invariant: no later sell can match this buy
			}
			if sellOrder.Owner == buyOrder.Owner {
				sellIdx++
				continue
			}

			trade, ok := m.execute(ctx, commodity, buyOrder, sellOrder, tick)
			pairs++
			if !ok {
				// cash/reservation shortfall: skip this pair, try the next sell
				sellIdx++
				continue
			}
			trades = append(trades, trade)

			if buyOrder.RemainingQty == 0 {
				buyFilled = true
				break // buy order removed; outer loop re-reads the same index
			}
			// sell was exactly filled (qty = min of the two remainders);
			// it was removed, so sellIdx already points at the next sell.
		}

		if !buyFilled {
			buyIdx++
		}
	}

	return trades
}

// execute performs one trade attempt between a resting buy and sell order.
// Trade price is the sell order's unit price (the resting/maker side).
func (m *Matcher) execute(ctx context.Context, commodity uint64, buyOrder, sellOrder *Order, tick uint64) (Trade, bool) {
	qty := buyOrder.RemainingQty
	if sellOrder.RemainingQty < qty {
		qty = sellOrder.RemainingQty
	}
	price := sellOrder.UnitPrice
	tradeID := m.nextTradeID + 1

	if err := m.ledger.CompletePurchase(buyOrder.Owner, commodity, qty, price, tick, tradeID); err != nil {
		m.logger.Debug(ctx, "trade skipped: buyer cash shortfall", map[string]interface{}{
			"commodity": commodity, "buyer": buyOrder.Owner, "error": err.Error(),
		})
		return Trade{}, false
	}
	if err := m.ledger.CompleteSale(sellOrder.Owner, commodity, qty, price, tick, tradeID); err != nil {
		// roll back the purchase: credit buyer's cash, remove the goods
		// that were never actually delivered.
		_ = m.ledger.AddCash(buyOrder.Owner, qty*price)
		_ = m.ledger.ConsumeGoods(buyOrder.Owner, commodity, qty, tick, "trade rollback")
		m.logger.Debug(ctx, "trade rolled back: seller reservation shortfall", map[string]interface{}{
			"commodity": commodity, "seller": sellOrder.Owner, "error": err.Error(),
		})
		return Trade{}, false
	}

	if err := m.book.UpdateAfterTrade(commodity, buyOrder.ID, qty, tick); err != nil {
		m.logger.Error(ctx, "update_after_trade failed for buy order", err, nil)
	}
	if err := m.book.UpdateAfterTrade(commodity, sellOrder.ID, qty, tick); err != nil {
		m.logger.Error(ctx, "update_after_trade failed for sell order", err, nil)
	}

	m.nextTradeID++
	trade := Trade{
		ID:          m.nextTradeID,
		RecordID:    uuid.New(),
		Commodity:   commodity,
		Buyer:       buyOrder.Owner,
		Seller:      sellOrder.Owner,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		Qty:         qty,
		UnitPrice:   price,
		Total:       qty * price,
		Tick:        tick,
	}
	m.logger.Info(ctx, "trade executed", map[string]interface{}{
		"commodity": commodity, "buyer": buyOrder.Owner, "seller": sellOrder.Owner,
		"qty": qty, "price": price, "tick": tick,
	})
	return trade, true
}
