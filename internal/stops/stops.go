// Package stops computes protective stop prices for futures positions.
package stops

import "github.com/amirphl/sniper-trader/internal/position"

const (
	// Initial stop distance in ATR multiples, clamped to a percent band of
	// entry so thin and violent books both get a sane stop.
	initialATRMult = 3.0
	minStopDistPct = 0.005
	maxStopDistPct = 0.20

	// Trailing distance from the favourable extreme.
	trailingATRMult = 1.8
)

// Initial returns the protective stop for a fresh entry: 3 ATR away from
// the entry, never closer than 0.5% and never further than 20%.
func Initial(entry, atr float64, dir position.Side) float64 {
	if dir == position.Long {
		sl := entry - initialATRMult*atr
		dist := (entry - sl) / entry
		if dist < minStopDistPct {
			sl = entry * (1 - minStopDistPct)
		} else if dist > maxStopDistPct {
			sl = entry * (1 - maxStopDistPct)
		}
		return sl
	}
	sl := entry + initialATRMult*atr
	dist := (sl - entry) / entry
	if dist < minStopDistPct {
		sl = entry * (1 + minStopDistPct)
	} else if dist > maxStopDistPct {
		sl = entry * (1 + maxStopDistPct)
	}
	return sl
}

// Trailing proposes a stop 1.8 ATR behind the favourable extreme and only
// ever ratchets in the protective direction.
func Trailing(currentSL, extreme, atr float64, dir position.Side) float64 {
	if dir == position.Long {
		proposed := extreme - trailingATRMult*atr
		if proposed > currentSL {
			return proposed
		}
		return currentSL
	}
	proposed := extreme + trailingATRMult*atr
	if proposed < currentSL {
		return proposed
	}
	return currentSL
}

// Breakeven returns the stop used once a position has earned its fees back:
// slightly beyond entry so a tag-out still closes green.
func Breakeven(entry float64, offsetPct float64, dir position.Side) float64 {
	if dir == position.Long {
		return entry * (1 + offsetPct)
	}
	return entry * (1 - offsetPct)
}

// AfterPartial returns the stop that locks in the ladder level below the
// one just taken. The first level parks the stop just beyond entry;
// deeper levels move it to the previous level's trigger price.
func AfterPartial(entry float64, prevLevelPct float64, dir position.Side) float64 {
	if dir == position.Long {
		return entry * (1 + prevLevelPct)
	}
	return entry * (1 - prevLevelPct)
}
