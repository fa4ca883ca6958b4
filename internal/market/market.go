// Package market holds exchange-agnostic market data types and the
// precision rules used when submitting orders.
package market

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook represents the L2 orderbook snapshot.
type OrderBook struct {
	Symbol    string
	Bids      [][2]float64 // price, quantity
	Asks      [][2]float64
	Timestamp time.Time
}

// BestBid returns the highest bid price, 0 when the book is empty.
func (ob *OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0][0]
}

// BestAsk returns the lowest ask price, 0 when the book is empty.
func (ob *OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0][0]
}

// Mid returns the midpoint of the best bid and ask, 0 when either side is
// empty.
func (ob *OrderBook) Mid() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// SpreadPct returns the bid/ask spread as a percentage of the midpoint.
func (ob *OrderBook) SpreadPct() float64 {
	mid := ob.Mid()
	if mid <= 0 {
		return 0
	}
	return (ob.BestAsk() - ob.BestBid()) / mid * 100
}

// BidDepthUSD sums notional over the top levels of the bid side.
func (ob *OrderBook) BidDepthUSD(levels int) float64 {
	return depthUSD(ob.Bids, levels)
}

// AskDepthUSD sums notional over the top levels of the ask side.
func (ob *OrderBook) AskDepthUSD(levels int) float64 {
	return depthUSD(ob.Asks, levels)
}

func depthUSD(side [][2]float64, levels int) float64 {
	if levels > len(side) {
		levels = len(side)
	}
	var total float64
	for i := 0; i < levels; i++ {
		total += side[i][0] * side[i][1]
	}
	return total
}

// Balance represents an asset balance on the futures account.
type Balance struct {
	Asset     string  `json:"asset"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
	Total     float64 `json:"total"`
}

// PositionInfo is the venue's authoritative view of an open position.
// Size is always positive; Side carries the direction.
type PositionInfo struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
}

// ROE returns the unrealized return on the position's margin.
func (p PositionInfo) ROE() float64 {
	if p.EntryPrice <= 0 || p.Size <= 0 || p.Leverage <= 0 {
		return 0
	}
	margin := p.EntryPrice * p.Size / float64(p.Leverage)
	if margin == 0 {
		return 0
	}
	return p.UnrealizedPnL / margin
}

// Notional returns the position's exposure at its entry price.
func (p PositionInfo) Notional() float64 {
	return p.EntryPrice * p.Size
}

// FundingRate is the current premium-index funding for a perpetual.
type FundingRate struct {
	Symbol    string
	Rate      float64
	MarkPrice float64
	NextTime  time.Time
}

// SymbolFilters carries the exchange's precision and minimum rules for one
// symbol. Zero values disable the corresponding rule.
type SymbolFilters struct {
	TickSize    float64 `json:"tick_size"`
	StepSize    float64 `json:"step_size"`
	MinQty      float64 `json:"min_qty"`
	MinNotional float64 `json:"min_notional"`
}

// RoundToStep floors a quantity to the symbol's lot step. Quantities are
// floored, never rounded up, so a sizing decision can only shrink.
func (f SymbolFilters) RoundToStep(qty float64) float64 {
	if f.StepSize <= 0 {
		return qty
	}
	d := decimal.NewFromFloat(qty)
	step := decimal.NewFromFloat(f.StepSize)
	out, _ := d.Div(step).Floor().Mul(step).Float64()
	return out
}

// CeilToStep raises a quantity to the next lot step, used when bumping to
// an exchange minimum.
func (f SymbolFilters) CeilToStep(qty float64) float64 {
	if f.StepSize <= 0 {
		return qty
	}
	d := decimal.NewFromFloat(qty)
	step := decimal.NewFromFloat(f.StepSize)
	out, _ := d.Div(step).Ceil().Mul(step).Float64()
	return out
}

// RoundToTick snaps a price to the symbol's tick grid.
func (f SymbolFilters) RoundToTick(price float64) float64 {
	if f.TickSize <= 0 {
		return price
	}
	d := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(f.TickSize)
	out, _ := d.Div(tick).Round(0).Mul(tick).Float64()
	return out
}

func decimalsOf(step float64) int {
	if step <= 0 {
		return -1
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// FormatQty renders a quantity with the precision the exchange expects.
func (f SymbolFilters) FormatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', decimalsOf(f.StepSize), 64)
}

// FormatPrice renders a price with the symbol's tick precision.
func (f SymbolFilters) FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', decimalsOf(f.TickSize), 64)
}
