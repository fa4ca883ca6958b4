// Package indicator computes technical indicator series as float64
// columns aligned to their input, NaN-padded through warmup.
package indicator

import "math"

// CalculateSMA returns the simple moving average, NaN-padded until the
// window is full.
func CalculateSMA(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	sma := make([]float64, len(values))
	for i := 0; i < period-1; i++ {
		sma[i] = math.NaN()
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	sma[period-1] = sum / float64(period)
	for i := period; i < len(values); i++ {
		sum += values[i] - values[i-period]
		sma[i] = sum / float64(period)
	}
	return sma
}

// CalculateEMA returns the exponential moving average seeded with the SMA
// of the first period values, NaN-padded until then.
func CalculateEMA(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	ema := make([]float64, len(values))
	for i := 0; i < period-1; i++ {
		ema[i] = math.NaN()
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema[period-1] = sum / float64(period)
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema[i] = (values[i]-ema[i-1])*k + ema[i-1]
	}
	return ema
}
