package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/sniper-trader/internal/journal"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/order"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/tuner"
)

// closeAndSettle flattens the position and settles the books. mark is the
// freshest price estimate, standing in for the fill when the venue result
// carries none.
func (e *Engine) closeAndSettle(ctx context.Context, pos *position.Position, mark float64, reason string) {
	res, err := e.closeFull(ctx, pos)
	if err != nil {
		log.Printf("Close | [%s] %s close failed: %v, resyncing against venue", pos.Symbol, reason, err)
		e.resyncSize(ctx, pos)
		return
	}
	e.settleClose(ctx, pos, res, mark, reason)
}

// settleClose realizes the final chunk and retires the position: daily
// PnL, tuner feedback, journal row, cooldown stamp, order cleanup, and
// the operator note all happen here and only here. res may carry
// StatusAlreadyClosed, in which case fallbackPx stands in for the fill
// and the locally known size for the closed quantity.
//
// Partial closes already realized their own net PnL, so daily PnL takes
// just the final chunk while the reported trade total folds the
// accumulated partials back in.
func (e *Engine) settleClose(ctx context.Context, pos *position.Position, res order.Result, fallbackPx float64, reason string) {
	now := e.clk.Now()
	fill := res.FillPrice(fallbackPx)
	closed := res.ExecutedQty
	if closed <= 0 {
		closed = pos.Size
	}

	diff := fill - pos.EntryPrice
	if pos.Direction == position.Short {
		diff = -diff
	}
	gross := diff * closed
	fee := (pos.EntryPrice + fill) * closed * e.cfg.CommissionRate
	finalNet := gross - fee
	totalNet := finalNet + pos.AccumulatedPnL

	roi := 0.0
	if m := pos.InitialMargin(); m > 0 {
		roi = totalNet / m
	}

	e.tun.UpdateTrade(roi, pos.MaxFavorablePct(), now, pos.Symbol, tuner.TradeSummary{
		PartialPnLUSD: pos.AccumulatedPnL,
		FinalPnLUSD:   totalNet,
		LevelsHit:     pos.TakenLevels(),
	})
	if err := e.store.SetTuner(e.tun.Snapshot()); err != nil {
		log.Printf("Close | [%s] saving tuner state: %v", pos.Symbol, err)
	}

	if err := e.store.AddDailyPnL(finalNet); err != nil {
		log.Printf("Close | [%s] daily pnl: %v", pos.Symbol, err)
	}
	if err := e.journal.LogClose(journal.Closure{
		Time:        now,
		Symbol:      pos.Symbol,
		Direction:   string(pos.Direction),
		ExitPrice:   fill,
		PnLUSD:      finalNet,
		MarginUSD:   closed * pos.EntryPrice / float64(pos.Leverage),
		Leverage:    pos.Leverage,
		ExposureUSD: closed * pos.EntryPrice,
		Duration:    pos.Age(now),
		Reason:      reason,
	}); err != nil {
		log.Printf("Close | [%s] journaling closure: %v", pos.Symbol, err)
	}

	if err := e.store.ClearPosition(pos.Symbol); err != nil {
		log.Printf("Close | [%s] clearing record: %v", pos.Symbol, err)
	}
	if err := e.store.SetLastTrade(pos.Symbol, now); err != nil {
		log.Printf("Close | [%s] stamping cooldown: %v", pos.Symbol, err)
	}
	if err := e.cli.CancelAllOrders(ctx, pos.Symbol); err != nil {
		log.Printf("Close | [%s] cancelling leftover orders: %v", pos.Symbol, err)
	}

	metrics.IncExit(reason)
	metrics.SetDailyPnL(e.store.DailyPnL())
	metrics.SetOpenPositions(e.store.OpenCount())

	log.Printf("Close | [%s] %s settled @ %.4f (%s): final %+.2f, partials %+.2f, total %+.2f USD, roi %+.2f%%",
		pos.Symbol, pos.Direction, fill, reason, finalNet, pos.AccumulatedPnL, totalNet, roi*100)
	_ = e.notify.SendWithRetry(fmt.Sprintf("%s Closed %s %s: %+.2f USD (roi %+.2f%%) after %s, reason: %s",
		pnlEmoji(totalNet), pos.Symbol, pos.Direction, totalNet, roi*100,
		pos.Age(now).Round(time.Second), reason))
}

func pnlEmoji(v float64) string {
	if v >= 0 {
		return "💰"
	}
	return "🩸"
}

// resyncSize reconciles a position after a failed close. The venue's size
// wins; a venue that reports flat (or a flipped side) means the tracked
// position is gone, so the books settle at the stop price, the best
// estimate of where it went.
func (e *Engine) resyncSize(ctx context.Context, pos *position.Position) {
	info, err := e.cli.FetchPosition(ctx, pos.Symbol)
	if err != nil {
		log.Printf("Close | [%s] resync: %v", pos.Symbol, err)
		return
	}
	gone := info == nil
	if !gone {
		if side, ok := position.SideFromVenue(info.Side); !ok || side != pos.Direction {
			log.Printf("Close | [%s] venue holds %q against local %s, settling the tracked side",
				pos.Symbol, info.Side, pos.Direction)
			gone = true
		}
	}
	if gone {
		e.settleClose(ctx, pos,
			order.Result{Symbol: pos.Symbol, Status: order.StatusAlreadyClosed},
			pos.StopPrice, reasonStopFilled)
		return
	}
	if info.Size != pos.Size {
		log.Printf("Close | [%s] size resynced %.6f -> %.6f", pos.Symbol, pos.Size, info.Size)
		pos.Size = info.Size
		if err := e.store.SetPosition(pos.Symbol, pos); err != nil {
			log.Printf("Close | [%s] persisting resync: %v", pos.Symbol, err)
		}
	}
}
