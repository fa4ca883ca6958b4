package indicator

import (
	"errors"
	"math"
)

// MACDResult holds the MACD line, signal line, and histogram, each aligned
// to the input series with NaN warmup.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMACD computes MACD(fast, slow, signal) over prices.
func CalculateMACD(prices []float64, fast, slow, signalPeriod int) (*MACDResult, error) {
	if fast <= 0 || slow <= 0 || signalPeriod <= 0 || fast >= slow {
		return nil, errors.New("invalid MACD periods")
	}
	if len(prices) < slow+signalPeriod-1 {
		return nil, errors.New("not enough data for MACD")
	}

	fastEMA := CalculateEMA(prices, fast)
	slowEMA := CalculateEMA(prices, slow)

	n := len(prices)
	line := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < slow-1 {
			line[i] = math.NaN()
		} else {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}

	// Signal is an EMA over the defined segment of the line.
	valid := line[slow-1:]
	sigValid := CalculateEMA(valid, signalPeriod)

	signal := make([]float64, n)
	hist := make([]float64, n)
	for i := 0; i < n; i++ {
		signal[i] = math.NaN()
		hist[i] = math.NaN()
	}
	for i := range sigValid {
		signal[slow-1+i] = sigValid[i]
		if !math.IsNaN(sigValid[i]) {
			hist[slow-1+i] = line[slow-1+i] - sigValid[i]
		}
	}

	return &MACDResult{Line: line, Signal: signal, Histogram: hist}, nil
}
