package order

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestFillPrice(t *testing.T) {
	r := Result{AvgPrice: 100.5}
	assert.Equal(t, 100.5, r.FillPrice(99))

	none := Result{}
	assert.Equal(t, 99.0, none.FillPrice(99))
	assert.False(t, none.Filled())

	filled := Result{ExecutedQty: 0.5}
	assert.True(t, filled.Filled())
}

func TestNewClientOrderID(t *testing.T) {
	a := NewClientOrderID("st")
	b := NewClientOrderID("st")

	assert.True(t, strings.HasPrefix(a, "st-"))
	assert.NotEqual(t, a, b)
	// Binance caps client order IDs at 36 chars.
	assert.LessOrEqual(t, len(a), 36)
}
