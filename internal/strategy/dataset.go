// Package strategy evaluates entry signals over closed candles and scores
// them for opportunity ranking.
package strategy

import (
	"fmt"
	"math"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/indicator"
)

// minCandles is the shortest series the full indicator stack evaluates
// cleanly: the slowest warmup is ADX(14) at 28 bars plus MACD signal at
// 33, with headroom for the structure scan.
const minCandles = 100

// Dataset bundles a candle series with the indicator columns the entry
// checks and the exit chain read. All columns are aligned to Candles with
// NaN warmup prefixes.
type Dataset struct {
	Candles []candle.Candle

	EMA9     []float64
	EMA20    []float64
	EMA21    []float64
	EMA50    []float64
	RSI      []float64
	ADX      []float64
	ATR      []float64
	MACD     *indicator.MACDResult
	VolSMA20 []float64
}

// NewDataset computes the indicator columns for a series. The series is
// expected to include the still-forming candle; callers evaluate at
// ClosedIndex.
func NewDataset(candles []candle.Candle) (*Dataset, error) {
	if len(candles) < minCandles {
		return nil, fmt.Errorf("dataset: need at least %d candles, got %d", minCandles, len(candles))
	}

	series := candle.Series(candles)
	closes := series.Closes()
	volumes := series.Volumes()

	macd, err := indicator.CalculateMACD(closes, 12, 26, 9)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	return &Dataset{
		Candles:  candles,
		EMA9:     indicator.CalculateEMA(closes, 9),
		EMA20:    indicator.CalculateEMA(closes, 20),
		EMA21:    indicator.CalculateEMA(closes, 21),
		EMA50:    indicator.CalculateEMA(closes, 50),
		RSI:      indicator.CalculateRSI(closes, 14),
		ADX:      indicator.CalculateADX(candles, 14),
		ATR:      indicator.CalculateATR(candles, 14),
		MACD:     macd,
		VolSMA20: indicator.CalculateSMA(volumes, 20),
	}, nil
}

// Len returns the number of candles.
func (d *Dataset) Len() int {
	return len(d.Candles)
}

// ClosedIndex is the most recent closed candle, one before the forming
// candle at the tail.
func (d *Dataset) ClosedIndex() int {
	return len(d.Candles) - 2
}

// Valid reports whether every entry-relevant column is defined at i.
func (d *Dataset) Valid(i int) bool {
	if i < 0 || i >= len(d.Candles) {
		return false
	}
	for _, col := range [][]float64{
		d.EMA9, d.EMA20, d.EMA21, d.EMA50,
		d.RSI, d.ADX, d.ATR,
		d.MACD.Line, d.MACD.Signal, d.MACD.Histogram,
		d.VolSMA20,
	} {
		if math.IsNaN(col[i]) {
			return false
		}
	}
	return true
}
