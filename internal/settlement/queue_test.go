package settlement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"clobx/internal/common"
)

func TestQuoteAmountScalesByBaseDecimals(t *testing.T) {
	// size=5 base units, price=200 quote-per-unit, 2 base decimals -> 5*200/100 = 10.
	amount, err := quoteAmount(5, 200, 2)
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), amount)
}

func TestQuoteAmountZeroBaseDecimalsNoScaling(t *testing.T) {
	amount, err := quoteAmount(5, 200, 0)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1000), amount)
}

func TestQuoteAmountDetectsMultiplicationOverflow(t *testing.T) {
	_, err := quoteAmount(math.MaxUint64, math.MaxUint64, 0)
	assert.ErrorIs(t, err, common.ErrArithmeticOverflow)
}

func TestQuoteAmountZeroPriceIsZero(t *testing.T) {
	amount, err := quoteAmount(100, 0, 2)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), amount)
}

func TestBpsOfTruncates(t *testing.T) {
	// 999 * 30bps / 10000 = 2.997 -> truncates to 2.
	assert.Equal(t, uint64(2), bpsOf(999, 30))
}

func TestBpsOfZeroOrNegativeBpsIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), bpsOf(1000, 0))
	assert.Equal(t, uint64(0), bpsOf(1000, -5))
}

func TestPow10(t *testing.T) {
	assert.Equal(t, uint64(1), pow10(0))
	assert.Equal(t, uint64(1000), pow10(3))
	assert.Equal(t, uint64(0), pow10(-1))
}
