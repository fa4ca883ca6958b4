package strategy

import (
	"fmt"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/structure"
)

// CheckResult is one entry criterion's outcome. Optional checks are
// tracked for scoring but never block an entry.
type CheckResult struct {
	Name      string `json:"name"`
	Pass      bool   `json:"pass"`
	Value     string `json:"value"`
	Threshold string `json:"threshold,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
}

// Evaluation is the scored outcome of the entry checks for one direction.
type Evaluation struct {
	Direction position.Side `json:"direction"`
	Passed    bool          `json:"passed"`
	Score     float64       `json:"score"`
	Checks    []CheckResult `json:"checks"`
}

// FailedChecks lists the names of the blocking criteria that failed.
func (e Evaluation) FailedChecks() []string {
	var out []string
	for _, c := range e.Checks {
		if !c.Pass && !c.Optional {
			out = append(out, c.Name)
		}
	}
	return out
}

// Scoring weights per criterion, totalling 100. Structure is optional for
// entry but still worth points when present.
const (
	weightTrend     = 25
	weightADX       = 15
	weightRSI       = 15
	weightMACD      = 20
	weightVolume    = 15
	weightStructure = 10

	minADX       = 10
	rsiLongFloor = 35
	rsiShortCap  = 65
	volSMAFrac   = 0.8
)

// TrendOK reports whether the EMA alignment supports the direction:
// EMA9 above EMA21 with price above EMA50 for longs, mirrored for shorts.
func TrendOK(d *Dataset, i int, dir position.Side) bool {
	c := d.Candles[i].Close
	if dir == position.Long {
		return d.EMA9[i] > d.EMA21[i] && c > d.EMA50[i]
	}
	return d.EMA9[i] < d.EMA21[i] && c < d.EMA50[i]
}

// Evaluate runs the entry criteria for one direction at index i, which
// must be a closed candle. All blocking criteria must pass; the score
// ranks opportunities across symbols.
func Evaluate(d *Dataset, i int, dir position.Side) Evaluation {
	if !d.Valid(i) {
		return Evaluation{
			Direction: dir,
			Checks:    []CheckResult{{Name: "Data", Value: "indicators not ready"}},
		}
	}

	ev := Evaluation{Direction: dir}
	add := func(c CheckResult, weight float64) {
		ev.Checks = append(ev.Checks, c)
		if c.Pass {
			ev.Score += weight
		}
	}

	trendThreshold := "EMA9>EMA21, close>EMA50"
	if dir == position.Short {
		trendThreshold = "EMA9<EMA21, close<EMA50"
	}
	trend := TrendOK(d, i, dir)
	add(CheckResult{Name: "Trend", Pass: trend, Value: passFail(trend), Threshold: trendThreshold}, weightTrend)

	adx := d.ADX[i]
	add(CheckResult{Name: "ADX", Pass: adx >= minADX, Value: fmt.Sprintf("%.2f", adx), Threshold: fmt.Sprintf(">= %d", minADX)}, weightADX)

	rsi := d.RSI[i]
	if dir == position.Long {
		add(CheckResult{Name: "RSI", Pass: rsi > rsiLongFloor, Value: fmt.Sprintf("%.2f", rsi), Threshold: fmt.Sprintf("> %d", rsiLongFloor)}, weightRSI)
	} else {
		add(CheckResult{Name: "RSI", Pass: rsi < rsiShortCap, Value: fmt.Sprintf("%.2f", rsi), Threshold: fmt.Sprintf("< %d", rsiShortCap)}, weightRSI)
	}

	line, sig := d.MACD.Line[i], d.MACD.Signal[i]
	macdPass := line > sig
	macdThreshold := "line > signal"
	if dir == position.Short {
		macdPass = line < sig
		macdThreshold = "line < signal"
	}
	add(CheckResult{Name: "MACD", Pass: macdPass, Value: fmt.Sprintf("L:%.4f/S:%.4f", line, sig), Threshold: macdThreshold}, weightMACD)

	vol, volAvg := d.Candles[i].Volume, d.VolSMA20[i]
	add(CheckResult{Name: "Volume", Pass: vol >= volSMAFrac*volAvg, Value: fmt.Sprintf("%.2f", vol), Threshold: fmt.Sprintf(">= %.2f", volSMAFrac*volAvg)}, weightVolume)

	// Structure flips too fast on 15m candles to gate entries, but a
	// supporting pivot pattern still earns score.
	window := candle.Series(d.Candles[:i+1])
	trendShape := structure.DetectStructure(window.Highs(), window.Lows())
	present := trendShape.HigherLow
	label := "HL"
	if dir == position.Short {
		present = trendShape.LowerHigh
		label = "LH"
	}
	value := label
	if !present {
		value = fmt.Sprintf("no %s (optional)", label)
	}
	ev.Checks = append(ev.Checks, CheckResult{Name: "Structure", Pass: true, Value: value, Optional: true})
	if present {
		ev.Score += weightStructure
	}

	ev.Passed = true
	for _, c := range ev.Checks {
		if !c.Pass && !c.Optional {
			ev.Passed = false
			break
		}
	}
	return ev
}

func passFail(ok bool) string {
	if ok {
		return "Pass"
	}
	return "Fail"
}
