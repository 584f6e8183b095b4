package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap("ledger.consume_goods", ErrInsufficientStock)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Contains(t, err.Error(), "ledger.consume_goods")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap("op", nil))
	assert.Nil(t, WrapEntity("op", 1, nil))
	assert.Nil(t, WrapCommodity("op", 1, 2, nil))
}

func TestWrapCommodityCarriesContext(t *testing.T) {
	err := WrapCommodity("orderbook.submit_buy", 7, 42, ErrInvalidQuantity)
	var kernelErr *KernelError
	assert.True(t, errors.As(err, &kernelErr))
	assert.Equal(t, uint64(7), kernelErr.EntityID)
	assert.Equal(t, uint64(42), kernelErr.Commodity)
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
}
