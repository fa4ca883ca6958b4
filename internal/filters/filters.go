// Package filters holds the pre-entry market condition checks. Every
// check is pure: the engine fetches the data and the filters judge it, so
// a fetch failure simply means the symbol is skipped that cycle.
package filters

import (
	"time"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/position"
)

const (
	rangeCandles  = 12
	rangeATRFrac  = 0.6
	depthLevels   = 5
	closeWindowLo = 45 // minute within hour 23
	closeWindowHi = 15 // minute within hour 0
)

// ATRWithinBand reports whether volatility sits inside the tradable band.
// The returned value is ATR as a percent of price; bounds are inclusive.
func ATRWithinBand(atr, price, minPct, maxPct float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	pct := atr / price * 100
	return pct, pct >= minPct && pct <= maxPct
}

// RangeCompressed reports whether the recent candles traded inside a
// squeeze: the total high-low range of the last 12 candles below 0.6 of
// the entry ATR. Compressed markets produce weak breakouts, so true means
// reject. Missing data also rejects.
func RangeCompressed(candles []candle.Candle, atrEntry float64) (float64, bool) {
	if len(candles) == 0 {
		return 0, true
	}
	window := candles
	if len(window) > rangeCandles {
		window = window[len(window)-rangeCandles:]
	}
	hi := window[0].High
	lo := window[0].Low
	for _, c := range window[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	total := hi - lo
	return total, total < rangeATRFrac*atrEntry
}

// SpreadTooWide reports whether the bid/ask spread in percent of mid
// exceeds the limit. An empty book counts as too wide.
func SpreadTooWide(ob *market.OrderBook, maxPct float64) (float64, bool) {
	if ob == nil || ob.Mid() <= 0 {
		return 0, true
	}
	pct := ob.SpreadPct()
	return pct, pct > maxPct
}

// DepthSufficient reports whether the top five levels on both sides hold
// at least the intended order size in base units. Both sides are checked
// because the exit crosses the opposite side of the entry.
func DepthSufficient(ob *market.OrderBook, size float64) (float64, float64, bool) {
	if ob == nil {
		return 0, 0, false
	}
	bidVol := sideVolume(ob.Bids)
	askVol := sideVolume(ob.Asks)
	return bidVol, askVol, bidVol >= size && askVol >= size
}

func sideVolume(side [][2]float64) float64 {
	n := depthLevels
	if n > len(side) {
		n = len(side)
	}
	var vol float64
	for i := 0; i < n; i++ {
		vol += side[i][1]
	}
	return vol
}

// FundingAcceptable reports whether the funding rate allows an entry in
// the given direction: longs pay positive funding, shorts pay negative,
// so each side is blocked only by its own extreme. rate is the venue's
// fraction per interval, maxPct the limit in percent.
func FundingAcceptable(rate float64, dir position.Side, maxPct float64) (float64, bool) {
	pct := rate * 100
	switch dir {
	case position.Long:
		return pct, pct <= maxPct
	case position.Short:
		return pct, pct >= -maxPct
	}
	return pct, false
}

// InDailyCloseWindow reports whether now falls in the 23:45-00:15 UTC
// window around the daily close, when new entries are blocked.
func InDailyCloseWindow(now time.Time) bool {
	utc := now.UTC()
	h, m := utc.Hour(), utc.Minute()
	return (h == 23 && m >= closeWindowLo) || (h == 0 && m <= closeWindowHi)
}
