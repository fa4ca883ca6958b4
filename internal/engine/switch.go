package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/strategy"
)

// Switch thresholds. A position is abandoned only when it is old and weak
// while the alternative is strong in absolute terms and clearly better.
const (
	keepFreshAge      = 15 * time.Minute
	keepHealth        = 60
	keepPnLPct        = 0.003
	switchMinAge      = 30 * time.Minute
	switchMaxHealth   = 40
	switchMinScore    = 80.0
	switchScoreMargin = 30.0
)

// positionHealth scores an open position 0-100 from its PnL trajectory,
// stop progression, indicator alignment, and age.
func positionHealth(pos *position.Position, d *strategy.Dataset, price float64, now time.Time) int {
	score := 0
	pnl := pos.PnLPercent(price)

	// Trajectory: improving candle-close PnL is the strongest keep vote.
	h := pos.PnLHistory
	switch {
	case len(h) >= 2 && h[len(h)-1] > h[len(h)-2]:
		score += 30
	case len(h) >= 2 && h[len(h)-1] > h[len(h)-2]-0.001:
		score += 15
	case len(h) < 2 && pnl > 0:
		score += 15
	}

	// Stop progression: moved stops are locked-in ground.
	switch {
	case pos.SLMovedCount >= 3:
		score += 25
	case pos.SLMovedCount >= 1:
		score += 15
	}

	// Indicator alignment with the held direction.
	if i := d.ClosedIndex(); d.Valid(i) {
		long := pos.Direction == position.Long
		if line, sig := d.MACD.Line[i], d.MACD.Signal[i]; (long && line > sig) || (!long && line < sig) {
			score += 10
		}
		if rsi := d.RSI[i]; (long && rsi > 45 && rsi < 70) || (!long && rsi > 30 && rsi < 55) {
			score += 8
		}
		if fast, slow := d.EMA9[i], d.EMA20[i]; (long && fast > slow) || (!long && fast < slow) {
			score += 7
		}
	}

	// Freshness: young positions get the benefit of the doubt, mature
	// ones keep credit only while in profit.
	age := pos.Age(now)
	switch {
	case age < keepFreshAge:
		score += 20
	case age < switchMinAge:
		score += 10
	case pnl > keepPnLPct:
		score += 15
	}
	return score
}

// considerSwitch weighs the cycle's best blocked candidate against the
// weakest open position and swaps only on a decisive gap. Keep vetoes run
// first: a banked stop move, live profit, youth, or plain health each
// hold the position outright.
func (e *Engine) considerSwitch(ctx context.Context, cand candidate, now time.Time) {
	var victim *position.Position
	victimHealth := 101
	var victimPrice float64

	for sym, pos := range e.store.Positions() {
		ds, err := e.dataset(ctx, sym)
		if err != nil {
			continue
		}
		i := ds.ClosedIndex()
		if i < 0 {
			continue
		}
		price := ds.Candles[i].Close
		health := positionHealth(pos, ds, price, now)
		pnl := pos.PnLPercent(price)
		age := pos.Age(now)
		log.Printf("Switch | [%s] health %d/100: pnl %+.2f%%, age %s, stop moves %d",
			sym, health, pnl*100, age.Round(time.Minute), pos.SLMovedCount)

		if pos.SLMovedCount > 0 || pnl > keepPnLPct || age < keepFreshAge || health >= keepHealth {
			continue
		}
		if age < switchMinAge || health >= switchMaxHealth {
			continue
		}
		if health < victimHealth {
			victim, victimHealth, victimPrice = pos, health, price
		}
	}

	if victim == nil {
		log.Printf("Switch | [%s] strong alternative (score %.0f) but nothing weak enough to drop",
			cand.symbol, cand.eval.Score)
		return
	}
	if cand.eval.Score < switchMinScore || cand.eval.Score <= float64(victimHealth)+switchScoreMargin {
		log.Printf("Switch | [%s] score %.0f does not clear %s health %d decisively, holding",
			cand.symbol, cand.eval.Score, victim.Symbol, victimHealth)
		return
	}

	log.Printf("Switch | dropping %s (health %d) for %s %s (score %.0f)",
		victim.Symbol, victimHealth, cand.symbol, cand.eval.Direction, cand.eval.Score)
	_ = e.notify.SendWithRetry(fmt.Sprintf("🔄 Switching %s (health %d) into %s %s (score %.0f)",
		victim.Symbol, victimHealth, cand.symbol, cand.eval.Direction, cand.eval.Score))

	e.closeAndSettle(ctx, victim, victimPrice, reasonSwitch)
	if e.store.Position(victim.Symbol) != nil {
		// The close failed and the resync kept it. Do not double up.
		log.Printf("Switch | %s still open after close attempt, aborting switch", victim.Symbol)
		return
	}
	metrics.IncSwitch()
	e.enter(ctx, cand)
}
