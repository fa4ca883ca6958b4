// Package structure detects swing points and short-term trend structure
// from raw high/low series.
package structure

// Swings holds the most recent confirmed 5-bar fractal extremes. A swing
// high needs two strictly lower highs on each side, a swing low two
// strictly higher lows. The newest bars can only serve as neighbours, so a
// forming candle never confirms its own swing.
type Swings struct {
	High    float64
	HighIdx int
	HasHigh bool

	Low    float64
	LowIdx int
	HasLow bool
}

// Trend reports whether the latest pivots form a higher low or a lower
// high.
type Trend struct {
	HigherLow bool
	LowerHigh bool
}

// FindSwings scans from the most recent candidate backwards and returns the
// first confirmed swing high and swing low.
func FindSwings(highs, lows []float64) Swings {
	var s Swings
	n := len(highs)
	if n < 5 || len(lows) != n {
		return s
	}

	for i := n - 3; i >= 2; i-- {
		if s.HasHigh && s.HasLow {
			break
		}
		if !s.HasHigh &&
			highs[i] > highs[i-1] && highs[i] > highs[i-2] &&
			highs[i] > highs[i+1] && highs[i] > highs[i+2] {
			s.High = highs[i]
			s.HighIdx = i
			s.HasHigh = true
		}
		if !s.HasLow &&
			lows[i] < lows[i-1] && lows[i] < lows[i-2] &&
			lows[i] < lows[i+1] && lows[i] < lows[i+2] {
			s.Low = lows[i]
			s.LowIdx = i
			s.HasLow = true
		}
	}
	return s
}

// DetectStructure classifies the last two 3-bar pivots. Higher low means
// the most recent pivot low printed above the one before it, lower high the
// mirror case. Short series yield no structure.
func DetectStructure(highs, lows []float64) Trend {
	var tr Trend
	n := len(highs)
	if n < 10 || len(lows) != n {
		return tr
	}

	var pivotHighs, pivotLows []float64
	for i := 1; i < n-1; i++ {
		if highs[i] > highs[i-1] && highs[i] > highs[i+1] {
			pivotHighs = append(pivotHighs, highs[i])
		}
		if lows[i] < lows[i-1] && lows[i] < lows[i+1] {
			pivotLows = append(pivotLows, lows[i])
		}
	}

	if len(pivotLows) >= 2 {
		tr.HigherLow = pivotLows[len(pivotLows)-1] > pivotLows[len(pivotLows)-2]
	}
	if len(pivotHighs) >= 2 {
		tr.LowerHigh = pivotHighs[len(pivotHighs)-1] < pivotHighs[len(pivotHighs)-2]
	}
	return tr
}
