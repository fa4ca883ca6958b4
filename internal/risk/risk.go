// Package risk implements the account-level entry gates and position
// sizing. Sizing never returns an error: a trade that cannot be sized
// safely comes back as quantity zero with the reason.
package risk

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/amirphl/sniper-trader/internal/config"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/position"
)

// DailyStopHit reports whether today's realized loss breaches the limit.
// A zero or negative balance always blocks.
func DailyStopHit(balance, dailyPnL, limit float64) bool {
	if balance <= 0 {
		return true
	}
	return dailyPnL/balance <= -limit
}

// MaxSymbolsReached reports whether the open-position cap is hit.
func MaxSymbolsReached(open, maxOpen int) bool {
	return open >= maxOpen
}

// TradeBudgetExhausted reports whether the hourly trade cap is hit.
func TradeBudgetExhausted(tradesLastHour, maxPerHour int) bool {
	return tradesLastHour >= maxPerHour
}

// TotalExposure sums the entry notional of all open positions.
func TotalExposure(positions map[string]*position.Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.Notional()
	}
	return total
}

// returns converts a close series into simple percent returns, skipping
// non-positive prices.
func returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// pearson computes the correlation of two equal-length series. ok is
// false when either side has zero variance or fewer than two points.
func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if n < 2 || n != len(b) {
		return 0, false
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

// FirstCorrelated compares the candidate's close-to-close returns against
// each open symbol's and reports the first whose correlation exceeds the
// threshold. Series are tail-aligned to the shorter length; short or flat
// series are skipped, so the gate fails open on bad data.
func FirstCorrelated(candidate []float64, open map[string][]float64, threshold float64) (string, float64, bool) {
	candRet := returns(candidate)
	if len(candRet) < 2 {
		return "", 0, false
	}

	symbols := make([]string, 0, len(open))
	for sym := range open {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		otherRet := returns(open[sym])
		n := len(candRet)
		if len(otherRet) < n {
			n = len(otherRet)
		}
		if n < 2 {
			continue
		}
		corr, ok := pearson(candRet[len(candRet)-n:], otherRet[len(otherRet)-n:])
		if !ok {
			continue
		}
		if corr > threshold {
			return sym, corr, true
		}
	}
	return "", 0, false
}

// Sizer derives order quantities, shrinking to fit the exposure caps and
// the margin the balance can support rather than rejecting outright.
type Sizer struct {
	mode           config.SizingMode
	fixedUSD       float64
	maxPerTradeUSD float64
	maxTotalUSD    float64
	leverage       int
	buffer         float64 // margin multiplier covering round-trip commission

	settings *config.Settings
}

// NewSizer builds a sizer from the loaded config and runtime settings.
func NewSizer(cfg *config.Config, settings *config.Settings) (*Sizer, error) {
	switch cfg.SizingMode {
	case config.SizingRisk, config.SizingFixed:
	default:
		return nil, fmt.Errorf("unknown sizing mode %q", cfg.SizingMode)
	}
	return &Sizer{
		mode:           cfg.SizingMode,
		fixedUSD:       cfg.FixedExposureUSD,
		maxPerTradeUSD: cfg.MaxExposureUSD,
		maxTotalUSD:    cfg.MaxTotalExposureUSD,
		leverage:       cfg.Leverage,
		buffer:         1 + 2*cfg.CommissionRate,
		settings:       settings,
	}, nil
}

const sizeEps = 1e-9

// Size computes the order quantity for a prospective entry. currentTotal
// is the notional of all open positions. The returned reason is non-empty
// exactly when the quantity is zero.
func (s *Sizer) Size(symbol string, entry, stop, balance, currentTotal float64, f market.SymbolFilters) (float64, string) {
	if entry <= 0 {
		return 0, "invalid entry price"
	}
	if balance <= 0 {
		return 0, "zero balance"
	}

	var qty float64
	switch s.mode {
	case config.SizingRisk:
		dist := math.Abs(entry - stop)
		if dist <= 0 {
			return 0, "invalid stop distance"
		}
		qty = balance * s.settings.RiskPerTradePct() / dist
	case config.SizingFixed:
		qty = s.fixedUSD / entry
	}

	// Per-trade exposure cap.
	if exposure := qty * entry; exposure > s.maxPerTradeUSD {
		qty = s.maxPerTradeUSD / entry
		log.Printf("Sizer | [%s] exposure %.2f over per-trade cap, shrunk to %.2f", symbol, exposure, s.maxPerTradeUSD)
	}

	// Portfolio headroom.
	headroom := s.maxTotalUSD - currentTotal
	if headroom <= 0 {
		return 0, "no exposure headroom"
	}
	if exposure := qty * entry; exposure > headroom {
		qty = headroom / entry
		log.Printf("Sizer | [%s] exposure %.2f over total headroom, shrunk to %.2f", symbol, exposure, headroom)
	}

	// Margin plus commission must fit the balance.
	if required := qty * entry * s.buffer / float64(s.leverage); required > balance {
		qty = balance * float64(s.leverage) / (entry * s.buffer)
		log.Printf("Sizer | [%s] margin %.2f over balance %.2f, shrunk", symbol, required, balance)
	}

	qty = f.RoundToStep(qty)
	if qty <= 0 {
		return 0, "size rounds to zero"
	}

	// Exchange minimums grow the order; the caps are then re-checked so a
	// bump can never smuggle exposure past them.
	bumped := false
	if f.MinQty > 0 && qty < f.MinQty {
		qty = f.CeilToStep(f.MinQty)
		bumped = true
	}
	if f.MinNotional > 0 && qty*entry < f.MinNotional {
		qty = f.CeilToStep(f.MinNotional * s.buffer / entry)
		bumped = true
	}
	if bumped {
		exposure := qty * entry
		if exposure > s.maxPerTradeUSD+sizeEps || exposure > headroom+sizeEps {
			return 0, "exchange minimum exceeds exposure caps"
		}
		if required := exposure * s.buffer / float64(s.leverage); required > balance+sizeEps {
			return 0, "exchange minimum exceeds balance"
		}
		log.Printf("Sizer | [%s] bumped to exchange minimum %.8f", symbol, qty)
	}

	return qty, ""
}
