package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

func newTestLedger() *Ledger {
	logger := observability.NewLogger(observability.LoggerConfig{ServiceName: "ledger-test"})
	return New(logger)
}

func TestAddAndConsumeGoods(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 0)

	require.NoError(t, l.AddGoods(1, 100, 10, 50, 0, "seed"))
	require.NoError(t, l.AddGoods(1, 100, 10, 150, 0, "seed-2"))

	e, err := l.Entity(1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), e.Stocks[100].Quantity)
	assert.Equal(t, int64(100), e.Stocks[100].AvgCost) // (10*50+10*150)/20

	require.NoError(t, l.ConsumeGoods(1, 100, 5, 1, "production"))
	avail, err := l.AvailableQuantity(1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(15), avail)
}

func TestConsumeGoodsInsufficientStock(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 0)
	require.NoError(t, l.AddGoods(1, 100, 5, 10, 0, "seed"))

	err := l.ConsumeGoods(1, 100, 10, 1, "overdraw")
	assert.ErrorIs(t, err, errs.ErrInsufficientStock)

	avail, _ := l.AvailableQuantity(1, 100)
	assert.Equal(t, int64(5), avail, "failed op must leave ledger unchanged")
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 0)
	require.NoError(t, l.AddGoods(1, 100, 10, 10, 0, "seed"))

	before, _ := l.Entity(1)
	beforeStock := *before.Stocks[100]

	require.NoError(t, l.ReserveForSale(1, 100, 4))
	require.NoError(t, l.ReleaseSaleReservation(1, 100, 4))

	after, _ := l.Entity(1)
	assert.Equal(t, beforeStock, *after.Stocks[100])
}

func TestReserveInsufficientFree(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 0)
	require.NoError(t, l.AddGoods(1, 100, 5, 10, 0, "seed"))

	err := l.ReserveForSale(1, 100, 10)
	assert.ErrorIs(t, err, errs.ErrInsufficientFree)
}

func TestCompletePurchaseDebitsAndAddsGoods(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 10_000)

	require.NoError(t, l.CompletePurchase(1, 100, 5, 150, 0, 1))

	cash, err := l.Cash(1)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000-5*150), cash)

	e, _ := l.Entity(1)
	assert.Equal(t, int64(5), e.Stocks[100].Quantity)
}

func TestCompletePurchaseInsufficientCash(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 100)

	err := l.CompletePurchase(1, 100, 5, 150, 0, 1)
	assert.ErrorIs(t, err, errs.ErrInsufficientCash)

	cash, _ := l.Cash(1)
	assert.Equal(t, int64(100), cash, "failed purchase must not touch cash")
}

func TestCompleteSaleCreditsCashAndConsumesReservation(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 0)
	require.NoError(t, l.AddGoods(1, 100, 10, 50, 0, "seed"))
	require.NoError(t, l.ReserveForSale(1, 100, 5))

	require.NoError(t, l.CompleteSale(1, 100, 5, 150, 0, 1))

	cash, _ := l.Cash(1)
	assert.Equal(t, int64(5*150), cash)

	e, _ := l.Entity(1)
	assert.Equal(t, int64(5), e.Stocks[100].Quantity)
	assert.Equal(t, int64(0), e.Stocks[100].ReservedForSale)
}

func TestCompleteSaleInsufficientReserved(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityPlayer, 0)
	require.NoError(t, l.AddGoods(1, 100, 10, 50, 0, "seed"))

	err := l.CompleteSale(1, 100, 5, 150, 0, 1)
	assert.ErrorIs(t, err, errs.ErrInsufficientReserved)
}

func TestDeductCashAllowNegativeForBailout(t *testing.T) {
	l := newTestLedger()
	l.CreateEntity(1, EntityCompetitor, 50)

	err := l.DeductCash(1, 200, true)
	require.NoError(t, err)
	cash, _ := l.Cash(1)
	assert.Equal(t, int64(-150), cash)

	require.NoError(t, l.AddCash(1, 300))
	cash, _ = l.Cash(1)
	assert.Equal(t, int64(150), cash)
}

func TestUnknownEntity(t *testing.T) {
	l := newTestLedger()
	_, err := l.Cash(999)
	assert.ErrorIs(t, err, errs.ErrUnknownEntity)
}

// TestS1SimpleCrossedMatch exercises the ledger side of the canonical
// crossed-match scenario directly (matching engine behavior is tested in
// internal/orderbook).
func TestS1SimpleCrossedMatchLedgerEffects(t *testing.T) {
	l := newTestLedger()
	const commodityX = 1
	l.CreateEntity(1, EntityPlayer, 10_000)     // A
	l.CreateEntity(2, EntityCompetitor, 0)      // B
	require.NoError(t, l.AddGoods(2, commodityX, 10, 100, 0, "seed"))
	require.NoError(t, l.ReserveForSale(2, commodityX, 5))

	require.NoError(t, l.CompletePurchase(1, commodityX, 5, 150, 1, 1))
	require.NoError(t, l.CompleteSale(2, commodityX, 5, 150, 1, 1))

	cashA, _ := l.Cash(1)
	cashB, _ := l.Cash(2)
	assert.Equal(t, int64(9_250), cashA)
	assert.Equal(t, int64(750), cashB)

	eA, _ := l.Entity(1)
	eB, _ := l.Entity(2)
	assert.Equal(t, int64(5), eA.Stocks[commodityX].Quantity)
	assert.Equal(t, int64(5), eB.Stocks[commodityX].Quantity)
}
