package engine

import (
	"math"
	"time"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/strategy"
	"github.com/amirphl/sniper-trader/internal/structure"
)

// Exit reasons double as journal entries and metric labels.
const (
	reasonATRExtreme    = "ATR Extreme"
	reasonStructureLow  = "Structure Break (Swing Low)"
	reasonStructureHigh = "Structure Break (Swing High)"
	reasonMACDReversal  = "MACD Reversal"
	reasonHardCross     = "Hard Cross Exit"
	reasonStagnation    = "Stagnation Exit"
	reasonTimeLimit     = "Time Limit"
	reasonSoftTrend     = "Soft Trend Exit"
	reasonEarlyInvalid  = "Early Invalidation"
	reasonStopFilled    = "Stop Filled"
	reasonSwitch        = "Opportunity Switch"
)

const (
	// exitATRMult flags a volatility blowout relative to entry conditions.
	exitATRMult = 1.8
	// stagnationAge is how long a losing trade may drift before it is cut.
	stagnationAge = 45 * time.Minute
	// maxTradeAge expires trades that never left the flat band.
	maxTradeAge = 10 * time.Hour
	// flatPnLBand is the unleveraged PnL magnitude considered "going nowhere".
	flatPnLBand = 0.002
	// earlyInvalidATRMult is the adverse excursion, in entry ATRs against
	// the mark price, that invalidates the setup between candle closes.
	earlyInvalidATRMult = 1.5
)

// exitSignal walks the exit chain on the latest closed candle and returns
// the first reason that fires. Checks run strictly in priority order:
// volatility blowout, structure break, momentum reversal, hard trend
// cross, stagnation, time expiry, and last the soft trend fade, which a
// strong momentum reading in the trade's favor vetoes.
func exitSignal(d *strategy.Dataset, pos *position.Position, now time.Time) (string, bool) {
	i := d.ClosedIndex()
	prev := i - 1
	if prev < 0 || !d.Valid(i) || !d.Valid(prev) {
		return "", false
	}
	long := pos.Direction == position.Long
	closePx := d.Candles[i].Close
	atr := d.ATR[i]

	if pos.ATREntry > 0 && atr > exitATRMult*pos.ATREntry {
		return reasonATRExtreme, true
	}

	window := candle.Series(d.Candles[:i+1])
	sw := structure.FindSwings(window.Highs(), window.Lows())
	if long && sw.HasLow && closePx < sw.Low {
		return reasonStructureLow, true
	}
	if !long && sw.HasHigh && closePx > sw.High {
		return reasonStructureHigh, true
	}

	hist, histPrev := d.MACD.Histogram[i], d.MACD.Histogram[prev]
	if long && hist < 0 && hist < histPrev {
		return reasonMACDReversal, true
	}
	if !long && hist > 0 && hist > histPrev {
		return reasonMACDReversal, true
	}

	if long && d.EMA20[i] < d.EMA50[i] {
		return reasonHardCross, true
	}
	if !long && d.EMA20[i] > d.EMA50[i] {
		return reasonHardCross, true
	}

	pnl := pos.PnLPercent(closePx)
	age := pos.Age(now)
	if age > stagnationAge && pnl < 0 {
		return reasonStagnation, true
	}

	if age > maxTradeAge && math.Abs(pnl) < flatPnLBand {
		return reasonTimeLimit, true
	}

	// Momentum accelerating with the trade keeps it alive through a
	// shallow EMA20 fade.
	momentumStrong := (long && hist > 0 && hist > histPrev) ||
		(!long && hist < 0 && hist < histPrev)
	if !momentumStrong {
		slope := d.EMA20[i] - d.EMA20[prev]
		if long && slope <= 0 && closePx < d.EMA20[i] {
			return reasonSoftTrend, true
		}
		if !long && slope >= 0 && closePx > d.EMA20[i] {
			return reasonSoftTrend, true
		}
	}

	return "", false
}

// earlyInvalidated reports whether the mark price has blown through the
// entry by more than earlyInvalidATRMult entry-ATRs against the position.
// It runs on the monitor cadence so a violent move is cut without waiting
// for the candle to close.
func earlyInvalidated(pos *position.Position, mark float64) bool {
	if pos.ATREntry <= 0 {
		return false
	}
	if pos.Direction == position.Long {
		return mark < pos.EntryPrice-earlyInvalidATRMult*pos.ATREntry
	}
	return mark > pos.EntryPrice+earlyInvalidATRMult*pos.ATREntry
}
