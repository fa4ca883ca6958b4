package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleBook() *OrderBook {
	return &OrderBook{
		Symbol: "BTCUSDT",
		Bids:   [][2]float64{{100, 2}, {99.5, 1}},
		Asks:   [][2]float64{{100.5, 1}, {101, 3}},
	}
}

func TestOrderBookTopOfBook(t *testing.T) {
	ob := sampleBook()
	assert.Equal(t, 100.0, ob.BestBid())
	assert.Equal(t, 100.5, ob.BestAsk())
	assert.Equal(t, 100.25, ob.Mid())
	assert.InDelta(t, 0.5/100.25*100, ob.SpreadPct(), 1e-9)
}

func TestOrderBookEmptySides(t *testing.T) {
	ob := &OrderBook{Symbol: "BTCUSDT"}
	assert.Equal(t, 0.0, ob.BestBid())
	assert.Equal(t, 0.0, ob.BestAsk())
	assert.Equal(t, 0.0, ob.Mid())
	assert.Equal(t, 0.0, ob.SpreadPct())

	oneSided := &OrderBook{Bids: [][2]float64{{100, 1}}}
	assert.Equal(t, 0.0, oneSided.Mid())
}

func TestOrderBookDepth(t *testing.T) {
	ob := sampleBook()
	assert.InDelta(t, 200.0, ob.BidDepthUSD(1), 1e-9)
	assert.InDelta(t, 299.5, ob.BidDepthUSD(5), 1e-9)
	assert.InDelta(t, 100.5, ob.AskDepthUSD(1), 1e-9)
	assert.InDelta(t, 403.5, ob.AskDepthUSD(2), 1e-9)
}

func TestPositionInfoROE(t *testing.T) {
	p := PositionInfo{EntryPrice: 100, Size: 1, Leverage: 5, UnrealizedPnL: 2}
	assert.InDelta(t, 0.1, p.ROE(), 1e-9)
	assert.Equal(t, 100.0, p.Notional())

	assert.Equal(t, 0.0, PositionInfo{Size: 1, Leverage: 5}.ROE())
	assert.Equal(t, 0.0, PositionInfo{EntryPrice: 100, Leverage: 5}.ROE())
}

func TestRoundToStep(t *testing.T) {
	f := SymbolFilters{StepSize: 0.001}

	assert.Equal(t, 0.123, f.RoundToStep(0.12345))
	assert.Equal(t, 0.123, f.RoundToStep(0.123))
	assert.Equal(t, 0.124, f.CeilToStep(0.12345))
	assert.Equal(t, 0.123, f.CeilToStep(0.123))

	// Binary float residue must not leak into the rounded result.
	assert.Equal(t, 0.3, f.RoundToStep(0.1+0.2))

	none := SymbolFilters{}
	assert.Equal(t, 0.12345, none.RoundToStep(0.12345))
	assert.Equal(t, 0.12345, none.CeilToStep(0.12345))
}

func TestRoundToTick(t *testing.T) {
	f := SymbolFilters{TickSize: 0.5}
	assert.Equal(t, 100.5, f.RoundToTick(100.26))
	assert.Equal(t, 100.0, f.RoundToTick(100.24))
	assert.Equal(t, 100.0, f.RoundToTick(100.0))

	fine := SymbolFilters{TickSize: 0.01}
	assert.Equal(t, 49999.99, fine.RoundToTick(49999.994))

	none := SymbolFilters{}
	assert.Equal(t, 100.26, none.RoundToTick(100.26))
}

func TestFormatting(t *testing.T) {
	f := SymbolFilters{StepSize: 0.001, TickSize: 0.01}
	assert.Equal(t, "0.120", f.FormatQty(0.12))
	assert.Equal(t, "50000.10", f.FormatPrice(50000.1))

	whole := SymbolFilters{StepSize: 1}
	assert.Equal(t, "5", whole.FormatQty(5))

	none := SymbolFilters{}
	assert.Equal(t, "0.12", none.FormatQty(0.12))
}
