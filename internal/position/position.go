// Package position
package position

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Side is the direction of a futures position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// SideFromVenue maps an exchange position side ("long"/"short", any case)
// to a Side.
func SideFromVenue(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return Long, true
	case "SHORT", "SELL":
		return Short, true
	default:
		return "", false
	}
}

// pnlHistoryLen bounds the per-position PnL marks kept for health scoring.
const pnlHistoryLen = 5

// Position is the locally tracked lifecycle state for one open futures
// position. It is persisted verbatim in the bot state file, so every field
// that matters across a restart carries a JSON tag.
type Position struct {
	Symbol     string  `json:"symbol"`
	Direction  Side    `json:"direction"`
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`
	// InitialSize is the fill size at entry; Size shrinks as partials fire.
	InitialSize float64 `json:"initial_size"`
	Leverage    int     `json:"leverage"`

	StopPrice float64 `json:"sl_price"`
	ATREntry  float64 `json:"atr_entry"`

	// Venue order IDs of the protective orders, so replacements cancel
	// the exact order they supersede.
	StopOrderID int64 `json:"sl_order_id,omitempty"`
	TPOrderID   int64 `json:"tp_order_id,omitempty"`

	// Favourable extremes observed since entry, tracked on closed candles.
	PMax float64 `json:"p_max"`
	PMin float64 `json:"p_min"`

	// Partial-profit ladder bookkeeping. Partials maps level name to
	// taken, DynamicLevel counts levels fired past the fixed ladder.
	Partials       map[string]bool `json:"partials"`
	DynamicLevel   int             `json:"dynamic_level"`
	AccumulatedPnL float64         `json:"accumulated_pnl"`

	EntryTime    time.Time `json:"entry_time"`
	LastSLUpdate time.Time `json:"last_sl_update"`
	SLMovedCount int       `json:"sl_moved_count"`

	// Health tracking for opportunity switching.
	PnLHistory    []float64 `json:"pnl_history"`
	LastEvaluated time.Time `json:"last_evaluation_time"`
}

// New builds the lifecycle record for a freshly opened position. levels
// seeds the fixed ladder map so progress survives restarts even when no
// level has fired yet.
func New(symbol string, dir Side, entry, size, stop, atr float64, leverage int, levels []string, now time.Time) *Position {
	partials := make(map[string]bool, len(levels))
	for _, name := range levels {
		partials[name] = false
	}
	return &Position{
		Symbol:       symbol,
		Direction:    dir,
		EntryPrice:   entry,
		Size:         size,
		InitialSize:  size,
		Leverage:     leverage,
		StopPrice:    stop,
		ATREntry:     atr,
		PMax:         entry,
		PMin:         entry,
		Partials:     partials,
		EntryTime:    now,
		LastSLUpdate: now,
		PnLHistory:   []float64{},
	}
}

// UpdateExtremes folds a closed candle's high/low into the favourable
// extremes and reports whether either moved.
func (p *Position) UpdateExtremes(high, low float64) bool {
	moved := false
	if p.Direction == Long {
		if high > p.PMax {
			p.PMax = high
			moved = true
		}
	} else {
		if low < p.PMin {
			p.PMin = low
			moved = true
		}
	}
	return moved
}

// Extreme returns the favourable extreme for the position's direction.
func (p *Position) Extreme() float64 {
	if p.Direction == Long {
		return p.PMax
	}
	return p.PMin
}

// PnLPercent is the unleveraged price move from entry, signed so profit is
// positive for both sides.
func (p *Position) PnLPercent(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Direction == Long {
		return (price - p.EntryPrice) / p.EntryPrice
	}
	return (p.EntryPrice - price) / p.EntryPrice
}

// GrossPnL is the dollar PnL of the remaining size at price, before
// commissions and earlier partial fills.
func (p *Position) GrossPnL(price float64) float64 {
	if p.Direction == Long {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// Notional is the current exposure in quote currency.
func (p *Position) Notional() float64 {
	return p.Size * p.EntryPrice
}

// Margin is the isolated margin backing the remaining size.
func (p *Position) Margin() float64 {
	if p.Leverage <= 0 {
		return p.Notional()
	}
	return p.Notional() / float64(p.Leverage)
}

// InitialMargin is the margin committed at entry, the denominator for
// realized ROI.
func (p *Position) InitialMargin() float64 {
	notional := p.InitialSize * p.EntryPrice
	if p.Leverage <= 0 {
		return notional
	}
	return notional / float64(p.Leverage)
}

// MaxFavorablePct is the best unleveraged move seen since entry.
func (p *Position) MaxFavorablePct() float64 {
	if p.Direction == Long {
		return p.PnLPercent(p.PMax)
	}
	return p.PnLPercent(p.PMin)
}

// Age is the time the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// StopBelowEntry reports whether the stop still sits on the losing side of
// entry, i.e. the position has not yet been ratcheted to breakeven.
func (p *Position) StopBelowEntry() bool {
	if p.Direction == Long {
		return p.StopPrice < p.EntryPrice
	}
	return p.StopPrice > p.EntryPrice
}

// AllPartialsTaken reports whether every fixed ladder level has fired.
func (p *Position) AllPartialsTaken() bool {
	if len(p.Partials) == 0 {
		return false
	}
	for _, taken := range p.Partials {
		if !taken {
			return false
		}
	}
	return true
}

// TakenLevels lists the fired ladder levels in a stable order.
func (p *Position) TakenLevels() []string {
	var levels []string
	for name, taken := range p.Partials {
		if taken {
			levels = append(levels, name)
		}
	}
	sort.Strings(levels)
	return levels
}

// RecordPnL appends a PnL mark for health scoring, keeping the most recent
// entries only.
func (p *Position) RecordPnL(pnl float64, now time.Time) {
	p.PnLHistory = append(p.PnLHistory, pnl)
	if len(p.PnLHistory) > pnlHistoryLen {
		p.PnLHistory = p.PnLHistory[len(p.PnLHistory)-pnlHistoryLen:]
	}
	p.LastEvaluated = now
}

// String renders a compact human form for logs.
func (p *Position) String() string {
	return fmt.Sprintf("%s %s size=%.6f entry=%.4f sl=%.4f", p.Symbol, p.Direction, p.Size, p.EntryPrice, p.StopPrice)
}
