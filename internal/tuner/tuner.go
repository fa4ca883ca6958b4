// Package tuner adapts sizing risk and the volatility filter floor from
// realized trade outcomes.
package tuner

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/amirphl/sniper-trader/internal/config"
)

const (
	historyCap = 100
	windowSize = 20

	maxRiskPerTrade = 0.02
	minRiskPerTrade = 0.005
	riskScaleUp     = 1.05
	riskScaleDown   = 0.9

	maxATRMinPct = 0.5
	minATRMinPct = 0.1
	atrTighten   = 1.1
	atrRelax     = 0.95
)

// Outcome is one closed trade: net return on margin and close time.
type Outcome struct {
	PnL  float64   `json:"pnl"`
	Time time.Time `json:"time"`
}

// PartialFill records a ladder level taken while a position was open.
type PartialFill struct {
	Level string    `json:"level"`
	PnL   float64   `json:"pnl"`
	Time  time.Time `json:"time"`
}

// TradeSummary carries the partial breakdown of a finished trade.
type TradeSummary struct {
	PartialPnLUSD float64  `json:"partial_pnl_usd"`
	FinalPnLUSD   float64  `json:"final_pnl_usd"`
	LevelsHit     []string `json:"levels_hit"`
}

// Snapshot is the persistable view of the tuner, stored inside the bot
// state file so adjustments survive restarts.
type Snapshot struct {
	RiskPerTrade   float64                  `json:"risk_per_trade"`
	ATRMinPct      float64                  `json:"atr_min_pct"`
	History        []Outcome                `json:"history"`
	ActivePartials map[string][]PartialFill `json:"active_partials"`
}

// Tuner keeps a rolling window of trade outcomes and nudges two knobs
// through the shared runtime settings: risk per trade (scaled by rolling
// Sharpe) and the minimum ATR percent accepted by the entry filter
// (scaled by win rate).
type Tuner struct {
	mu sync.Mutex

	settings       *config.Settings
	history        []Outcome
	activePartials map[string][]PartialFill
}

// New builds a tuner operating on the given runtime settings.
func New(settings *config.Settings) *Tuner {
	return &Tuner{
		settings:       settings,
		activePartials: make(map[string][]PartialFill),
	}
}

// RiskPerTrade returns the current tuned risk fraction.
func (t *Tuner) RiskPerTrade() float64 {
	return t.settings.RiskPerTradePct()
}

// ATRMinPct returns the current tuned volatility floor in percent.
func (t *Tuner) ATRMinPct() float64 {
	return t.settings.ATRMinPct()
}

// UpdatePartial records a ladder fill for an open position.
func (t *Tuner) UpdatePartial(symbol, level string, pnl float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activePartials[symbol] = append(t.activePartials[symbol], PartialFill{Level: level, PnL: pnl, Time: now})
}

// ClearPartials drops the partial trail of a position that no longer
// exists, e.g. one removed during reconciliation.
func (t *Tuner) ClearPartials(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.activePartials, symbol)
}

// UpdateTrade folds a finished trade into the history and retunes. netROI
// is the commission-adjusted return on margin, maxPnL the best unleveraged
// move the trade saw.
func (t *Tuner) UpdateTrade(netROI, maxPnL float64, now time.Time, symbol string, summary TradeSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, Outcome{PnL: netROI, Time: now})
	if len(t.history) > historyCap {
		t.history = t.history[len(t.history)-historyCap:]
	}
	delete(t.activePartials, symbol)

	log.Printf("Tuner | [%s] trade recorded: roi=%.4f max=%.4f levels=%v partial=%.2f final=%.2f",
		symbol, netROI, maxPnL, summary.LevelsHit, summary.PartialPnLUSD, summary.FinalPnLUSD)

	t.tune()
}

// tune applies the adjustment rules over the most recent window. Caller
// holds the lock.
func (t *Tuner) tune() {
	if len(t.history) < windowSize {
		return
	}
	recent := t.history[len(t.history)-windowSize:]

	var sum float64
	for _, o := range recent {
		sum += o.PnL
	}
	mean := sum / float64(len(recent))
	var sq float64
	for _, o := range recent {
		d := o.PnL - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(recent)))
	sharpe := 0.0
	if std != 0 {
		sharpe = mean / std
	}
	log.Printf("Tuner | rolling sharpe (last %d) = %.2f", windowSize, sharpe)

	risk := t.settings.RiskPerTradePct()
	switch {
	case sharpe > 2.0:
		next := math.Min(risk*riskScaleUp, maxRiskPerTrade)
		if next != risk {
			log.Printf("Tuner | performance stable (sharpe %.2f), raising risk %.3f -> %.3f", sharpe, risk, next)
			t.settings.SetRiskPerTradePct(next)
		}
	case sharpe < 1.0:
		next := math.Max(risk*riskScaleDown, minRiskPerTrade)
		if next != risk {
			log.Printf("Tuner | performance unstable (sharpe %.2f), cutting risk %.3f -> %.3f", sharpe, risk, next)
			t.settings.SetRiskPerTradePct(next)
		}
	}

	wins := 0
	for _, o := range recent {
		if o.PnL > 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(recent))

	atrMin := t.settings.ATRMinPct()
	switch {
	case winRate < 0.4:
		next := math.Min(atrMin*atrTighten, maxATRMinPct)
		if next != atrMin {
			log.Printf("Tuner | low win rate (%.0f%%), tightening ATR floor %.2f -> %.2f", winRate*100, atrMin, next)
			t.settings.SetATRMinPct(next)
		}
	case winRate > 0.6:
		next := math.Max(atrMin*atrRelax, minATRMinPct)
		if next != atrMin {
			log.Printf("Tuner | high win rate (%.0f%%), relaxing ATR floor %.2f -> %.2f", winRate*100, atrMin, next)
			t.settings.SetATRMinPct(next)
		}
	}
}

// Snapshot copies the tuner for persistence.
func (t *Tuner) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	hist := make([]Outcome, len(t.history))
	copy(hist, t.history)
	partials := make(map[string][]PartialFill, len(t.activePartials))
	for sym, fills := range t.activePartials {
		cp := make([]PartialFill, len(fills))
		copy(cp, fills)
		partials[sym] = cp
	}
	return Snapshot{
		RiskPerTrade:   t.settings.RiskPerTradePct(),
		ATRMinPct:      t.settings.ATRMinPct(),
		History:        hist,
		ActivePartials: partials,
	}
}

// Restore replaces the tuner contents with a persisted snapshot. Zero
// knob values keep the current baselines so a fresh state file does not
// zero out sizing.
func (t *Tuner) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.RiskPerTrade > 0 {
		t.settings.SetRiskPerTradePct(s.RiskPerTrade)
	}
	if s.ATRMinPct > 0 {
		t.settings.SetATRMinPct(s.ATRMinPct)
	}
	t.history = append([]Outcome(nil), s.History...)
	t.activePartials = make(map[string][]PartialFill, len(s.ActivePartials))
	for sym, fills := range s.ActivePartials {
		t.activePartials[sym] = append([]PartialFill(nil), fills...)
	}
}
