package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/amirphl/sniper-trader/internal/journal"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/stops"
)

// ladderBreakevenPct parks the stop a hair past entry once the first
// partial banks, so the rest of the trade cannot go red.
const ladderBreakevenPct = 0.001

// ladderHit describes the level about to be taken.
type ladderHit struct {
	name    string
	frac    float64
	prevPct float64 // stop ratchet anchor once the close fills
	dynamic int     // dynamic level ordinal, 0 for fixed levels
}

// runLadder advances the partial-profit ladder at most one level per
// pass. Fixed levels bank strictly in order; once all are taken, the
// dynamic extension keeps peeling slices off at every further step up.
// Returns true when the pass acted on the position, including a failed
// close, which already triggered a venue resync.
func (e *Engine) runLadder(ctx context.Context, pos *position.Position, mark float64, shouldLog bool) bool {
	pnl := pos.PnLPercent(mark)

	for i, lvl := range e.cfg.Ladder {
		if pos.Partials[lvl.Name] {
			continue
		}
		if pnl < lvl.TriggerPct {
			if shouldLog {
				log.Printf("Ladder | [%s] waiting on %s: pnl %+.2f%% of %.2f%%",
					pos.Symbol, lvl.Name, pnl*100, lvl.TriggerPct*100)
			}
			return false
		}
		hit := ladderHit{name: lvl.Name, frac: lvl.CloseFrac, prevPct: ladderBreakevenPct}
		if i > 0 {
			hit.prevPct = e.cfg.Ladder[i-1].TriggerPct
		}
		return e.takePartial(ctx, pos, mark, hit)
	}

	if !pos.AllPartialsTaken() {
		return false
	}
	next := pos.DynamicLevel + 1
	trigger := e.cfg.DynamicStartPct + float64(next)*e.cfg.DynamicStepPct
	if pnl < trigger {
		if shouldLog {
			log.Printf("Ladder | [%s] waiting on D%d: pnl %+.2f%% of %.2f%%",
				pos.Symbol, next, pnl*100, trigger*100)
		}
		return false
	}
	return e.takePartial(ctx, pos, mark, ladderHit{
		name:    fmt.Sprintf("D%d", next),
		frac:    e.cfg.DynamicCloseFrac,
		prevPct: e.cfg.DynamicStartPct + float64(next-1)*e.cfg.DynamicStepPct,
		dynamic: next,
	})
}

// takePartial closes the slice and realizes its PnL net of both legs'
// commission. Books only move on confirmed fills; a failed close resyncs
// against the venue instead of guessing.
func (e *Engine) takePartial(ctx context.Context, pos *position.Position, mark float64, hit ladderHit) bool {
	now := e.clk.Now()
	qty := pos.Size * hit.frac

	res, full, err := e.closePartial(ctx, pos, qty, mark)
	if err != nil {
		log.Printf("Ladder | [%s] %s close failed: %v, resyncing", pos.Symbol, hit.name, err)
		e.resyncSize(ctx, pos)
		return true
	}
	if full {
		e.settleClose(ctx, pos, res, mark, fmt.Sprintf("Partial %s (dust)", hit.name))
		return true
	}

	fill := res.FillPrice(mark)
	closed := res.ExecutedQty
	if closed <= 0 {
		closed = qty
	}
	diff := fill - pos.EntryPrice
	if pos.Direction == position.Short {
		diff = -diff
	}
	net := diff*closed - (pos.EntryPrice+fill)*closed*e.cfg.CommissionRate

	pos.Size -= closed
	if hit.dynamic > 0 {
		pos.DynamicLevel = hit.dynamic
	} else {
		pos.Partials[hit.name] = true
	}
	pos.AccumulatedPnL += net
	if err := e.store.SetPosition(pos.Symbol, pos); err != nil {
		log.Printf("Ladder | [%s] persisting partial: %v", pos.Symbol, err)
	}
	if err := e.store.AddTradeTime(now); err != nil {
		log.Printf("Ladder | [%s] trade budget stamp: %v", pos.Symbol, err)
	}
	if err := e.store.AddDailyPnL(net); err != nil {
		log.Printf("Ladder | [%s] daily pnl: %v", pos.Symbol, err)
	}
	e.tun.UpdatePartial(pos.Symbol, hit.name, net, now)

	if err := e.journal.LogClose(journal.Closure{
		Time:        now,
		Symbol:      pos.Symbol,
		Direction:   string(pos.Direction),
		ExitPrice:   fill,
		PnLUSD:      net,
		MarginUSD:   closed * pos.EntryPrice / float64(pos.Leverage),
		Leverage:    pos.Leverage,
		ExposureUSD: closed * pos.EntryPrice,
		Duration:    pos.Age(now),
		Reason:      "Partial " + hit.name,
	}); err != nil {
		log.Printf("Ladder | [%s] journaling partial: %v", pos.Symbol, err)
	}
	metrics.IncPartial(hit.name)
	metrics.SetDailyPnL(e.store.DailyPnL())

	log.Printf("Ladder | [%s] %s banked: %.6f @ %.4f, net %+.2f USD, %.6f left",
		pos.Symbol, hit.name, closed, fill, net, pos.Size)

	// Each banked level drags the stop behind it: the first to a hair
	// past entry, deeper ones to the prior level's trigger price.
	target := stops.AfterPartial(pos.EntryPrice, hit.prevPct, pos.Direction)
	e.ratchetStop(ctx, pos, target, stopKindLadder)
	return true
}
