package indicator

import (
	"math"

	"github.com/amirphl/sniper-trader/internal/candle"
)

// CalculateATR returns the Wilder average true range, aligned to the input
// candles with NaN warmup.
func CalculateATR(candles []candle.Candle, period int) []float64 {
	if len(candles) < period || period <= 0 {
		return nil
	}
	tr := trueRanges(candles)
	atr := make([]float64, len(candles))
	for i := 0; i < period-1; i++ {
		atr[i] = math.NaN()
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)
	for i := period; i < len(candles); i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}

func trueRanges(candles []candle.Candle) []float64 {
	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		h, l := candles[i].High, candles[i].Low
		pc := candles[i-1].Close
		tr[i] = math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
	}
	return tr
}
