package indicator

import (
	"math"

	"github.com/amirphl/sniper-trader/internal/candle"
)

// CalculateADX returns the Wilder average directional index, aligned to the
// input candles with NaN warmup. The first defined value sits at index
// 2*period-1 because ADX smooths DX values that themselves need a full
// period of directional movement.
func CalculateADX(candles []candle.Candle, period int) []float64 {
	if period <= 0 || len(candles) < 2*period {
		return nil
	}

	n := len(candles)
	tr := trueRanges(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	adx := make([]float64, n)
	for i := range adx {
		adx[i] = math.NaN()
	}

	// Wilder smoothing: seed with the sum of the first period values, then
	// carry forward subtracting 1/period of the running total.
	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := make([]float64, n)
	dx[period] = directionalIndex(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = directionalIndex(smPlus, smMinus, smTR)
	}

	var dxSum float64
	for i := period; i < 2*period; i++ {
		dxSum += dx[i]
	}
	adx[2*period-1] = dxSum / float64(period)
	for i := 2 * period; i < n; i++ {
		adx[i] = (adx[i-1]*float64(period-1) + dx[i]) / float64(period)
	}
	return adx
}

func directionalIndex(smPlus, smMinus, smTR float64) float64 {
	if smTR == 0 {
		return 0
	}
	plusDI := 100 * smPlus / smTR
	minusDI := 100 * smMinus / smTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}
