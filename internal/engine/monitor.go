package engine

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/order"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/stops"
)

// monitorPositions is the real-time pass between candle closes: one batch
// position fetch drives the ladder, the breakeven move, and the early
// invalidation check for every open position. With nothing open it
// occasionally sweeps orphaned resting orders instead.
func (e *Engine) monitorPositions(ctx context.Context, now time.Time) {
	if e.store.OpenCount() == 0 {
		if now.Sub(e.lastSweep) >= orphanSweepInterval {
			e.lastSweep = now
			e.sweepOrphans(ctx)
		}
		return
	}

	infos, err := e.cli.FetchPositions(ctx)
	if err != nil {
		log.Printf("Monitor | venue positions: %v", err)
		return
	}
	venue := make(map[string]market.PositionInfo, len(infos))
	for _, info := range infos {
		if info.Size > 0 {
			venue[info.Symbol] = info
		}
	}

	shouldLog := now.Sub(e.lastDetailLog) >= detailLogInterval
	if shouldLog {
		e.lastDetailLog = now
	}

	for sym, pos := range e.store.Positions() {
		if _, known := venue[sym]; !known {
			// The venue is flat: the protective stop (or a manual close)
			// filled between passes. Settle at the stop price, the best
			// fill estimate available.
			log.Printf("Monitor | [%s] gone from venue, settling at stop %.4f", sym, pos.StopPrice)
			e.settleClose(ctx, pos,
				order.Result{Symbol: sym, Status: order.StatusAlreadyClosed},
				pos.StopPrice, reasonStopFilled)
			continue
		}
		e.monitorPosition(ctx, pos, venue[sym], shouldLog)
	}
}

// monitorPosition runs one position through the intra-candle checks. The
// ladder goes first: a banked level also ratchets the stop, which the
// later checks then see.
func (e *Engine) monitorPosition(ctx context.Context, pos *position.Position, info market.PositionInfo, shouldLog bool) {
	mark := info.MarkPrice
	if mark <= 0 || math.IsNaN(mark) {
		log.Printf("Monitor | [%s] unusable mark price %v", pos.Symbol, mark)
		return
	}

	if math.Abs(info.Size-pos.Size) > sizeDriftTolerance {
		log.Printf("Monitor | [%s] size drift: local %.6f, venue %.6f, adopting venue",
			pos.Symbol, pos.Size, info.Size)
		pos.Size = info.Size
		if err := e.store.SetPosition(pos.Symbol, pos); err != nil {
			log.Printf("Monitor | [%s] persisting drift fix: %v", pos.Symbol, err)
		}
	}

	if e.runLadder(ctx, pos, mark, shouldLog) {
		return
	}

	e.maybeBreakeven(ctx, pos, mark)

	if earlyInvalidated(pos, mark) {
		log.Printf("Monitor | [%s] mark %.4f is %.1f entry-ATRs through entry %.4f, cutting",
			pos.Symbol, mark, earlyInvalidATRMult, pos.EntryPrice)
		e.closeAndSettle(ctx, pos, mark, reasonEarlyInvalid)
		return
	}

	if shouldLog {
		e.logPositionDetail(pos, mark)
	}
}

// maybeBreakeven moves a still-losing stop to just past entry once the
// leveraged return on margin clears the configured trigger.
func (e *Engine) maybeBreakeven(ctx context.Context, pos *position.Position, mark float64) {
	if !pos.StopBelowEntry() {
		return
	}
	roi := pos.PnLPercent(mark) * float64(pos.Leverage)
	if roi < e.cfg.BreakevenTriggerROI {
		return
	}
	target := stops.Breakeven(pos.EntryPrice, e.cfg.BreakevenOffsetPct, pos.Direction)
	if e.ratchetStop(ctx, pos, target, stopKindBreakeven) {
		log.Printf("Monitor | [%s] breakeven locked at %.4f (roi %+.2f%%)",
			pos.Symbol, pos.StopPrice, roi*100)
	}
}

func (e *Engine) logPositionDetail(pos *position.Position, mark float64) {
	pnl := pos.PnLPercent(mark)
	dist := math.Abs(mark-pos.StopPrice) / mark
	log.Printf("Monitor | [%s] %s %.6f @ %.4f: mark %.4f, pnl %+.2f%%, stop %.4f (%.2f%% away), banked %+.2f USD",
		pos.Symbol, pos.Direction, pos.Size, pos.EntryPrice, mark,
		pnl*100, pos.StopPrice, dist*100, pos.AccumulatedPnL)
}
