package orderbook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-economy/simkernel/internal/ledger"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

func newTestMatcher(maxPairs int, fullSweepInterval uint64) (*Book, *ledger.Ledger, *Matcher) {
	logger := observability.NewLogger(observability.LoggerConfig{ServiceName: "matcher-test"})
	book := New(logger, 10, 100, 10)
	led := ledger.New(logger)
	matcher := NewMatcher(book, led, logger, nil, maxPairs, fullSweepInterval)
	return book, led, matcher
}

const commodityX = 1

// TestS1SimpleCrossedMatch mirrors the canonical crossed-match scenario: B
// seeded with 10 units of X at avg-cost 100 and cash 0; A seeded with cash
// 10,000. A buys 5 @ 200; B sells 5 @ 150. One trade at the sell price.
func TestS1SimpleCrossedMatch(t *testing.T) {
	book, led, matcher := newTestMatcher(100, 1000)

	led.CreateEntity(1, ledger.EntityPlayer, 10_000) // A
	led.CreateEntity(2, ledger.EntityCompetitor, 0)   // B
	require.NoError(t, led.AddGoods(2, commodityX, 10, 100, 0, "seed"))
	require.NoError(t, led.ReserveForSale(2, commodityX, 10))

	_, err := book.SubmitBuy(1, commodityX, 5, 200, 0, 24)
	require.NoError(t, err)
	_, err = book.SubmitSell(2, commodityX, 5, 150, 0, 24)
	require.NoError(t, err)

	trades, volumes := matcher.MatchTick(context.Background(), 1)

	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, int64(5), trade.Qty)
	assert.Equal(t, int64(150), trade.UnitPrice)
	assert.Equal(t, uint64(1), trade.Buyer)
	assert.Equal(t, uint64(2), trade.Seller)

	cashA, _ := led.Cash(1)
	cashB, _ := led.Cash(2)
	assert.Equal(t, int64(9_250), cashA)
	assert.Equal(t, int64(750), cashB)

	eA, _ := led.Entity(1)
	eB, _ := led.Entity(2)
	assert.Equal(t, int64(5), eA.Stocks[commodityX].Quantity)
	assert.Equal(t, int64(5), eB.Stocks[commodityX].Quantity)

	assert.Equal(t, 0, book.ActiveCount(commodityX), "both orders fully filled and removed")
	assert.Equal(t, int64(5), volumes[commodityX].Total)
}

// TestS3SelfTradePrevention: one entity submits a crossing buy and sell on
// the same commodity. No trade executes; both orders remain open.
func TestS3SelfTradePrevention(t *testing.T) {
	book, led, matcher := newTestMatcher(100, 1000)
	led.CreateEntity(3, ledger.EntityPlayer, 10_000)
	require.NoError(t, led.AddGoods(3, commodityX, 10, 100, 0, "seed"))
	require.NoError(t, led.ReserveForSale(3, commodityX, 10))

	_, err := book.SubmitBuy(3, commodityX, 10, 300, 0, 24)
	require.NoError(t, err)
	_, err = book.SubmitSell(3, commodityX, 10, 200, 0, 24)
	require.NoError(t, err)

	trades, _ := matcher.MatchTick(context.Background(), 1)
	assert.Empty(t, trades)
	assert.Equal(t, 2, book.ActiveCount(commodityX))
}

func TestPartialFillLeavesRemainderOpen(t *testing.T) {
	book, led, matcher := newTestMatcher(100, 1000)
	led.CreateEntity(1, ledger.EntityPlayer, 10_000)
	led.CreateEntity(2, ledger.EntityCompetitor, 0)
	require.NoError(t, led.AddGoods(2, commodityX, 10, 100, 0, "seed"))
	require.NoError(t, led.ReserveForSale(2, commodityX, 10))

	_, err := book.SubmitBuy(1, commodityX, 10, 200, 0, 24)
	require.NoError(t, err)
	_, err = book.SubmitSell(2, commodityX, 4, 150, 0, 24)
	require.NoError(t, err)

	trades, _ := matcher.MatchTick(context.Background(), 1)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(4), trades[0].Qty)

	assert.Equal(t, 1, book.ActiveCount(commodityX), "buy order remains open with 6 remaining")
	remaining := book.books[commodityX].buys[0].RemainingQty
	assert.Equal(t, int64(6), remaining)
}

func TestNoMatchWhenBooksDoNotCross(t *testing.T) {
	book, led, matcher := newTestMatcher(100, 1000)
	led.CreateEntity(1, ledger.EntityPlayer, 10_000)
	led.CreateEntity(2, ledger.EntityCompetitor, 0)
	require.NoError(t, led.AddGoods(2, commodityX, 10, 100, 0, "seed"))
	require.NoError(t, led.ReserveForSale(2, commodityX, 10))

	book.SubmitBuy(1, commodityX, 5, 100, 0, 24)
	book.SubmitSell(2, commodityX, 5, 150, 0, 24)

	trades, _ := matcher.MatchTick(context.Background(), 1)
	assert.Empty(t, trades)
}

func TestBuyerCashShortfallSkipsPairWithoutAborting(t *testing.T) {
	book, led, matcher := newTestMatcher(100, 1000)
	led.CreateEntity(1, ledger.EntityPlayer, 10) // not enough cash
	led.CreateEntity(2, ledger.EntityCompetitor, 0)
	require.NoError(t, led.AddGoods(2, commodityX, 10, 100, 0, "seed"))
	require.NoError(t, led.ReserveForSale(2, commodityX, 10))

	book.SubmitBuy(1, commodityX, 5, 200, 0, 24)
	book.SubmitSell(2, commodityX, 5, 150, 0, 24)

	trades, _ := matcher.MatchTick(context.Background(), 1)
	assert.Empty(t, trades)
	// both orders remain on the book since the pair was skipped, not filled
	assert.Equal(t, 2, book.ActiveCount(commodityX))
}
