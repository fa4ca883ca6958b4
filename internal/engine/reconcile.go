package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/amirphl/sniper-trader/internal/journal"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/order"
	"github.com/amirphl/sniper-trader/internal/position"
)

const (
	// adoptedStopPct positions the synthesized stop when an adopted
	// position has nothing resting on the venue.
	adoptedStopPct = 0.01
	// adoptedATRPct synthesizes an entry ATR when candles are unavailable.
	adoptedATRPct = 0.01
)

// reconcile aligns local state with the venue book. Ghosts, local records
// the venue no longer holds, are purged. Orphans, venue positions with no
// local record, are adopted under synthesized context. A failed venue
// fetch aborts the pass with local state untouched.
func (e *Engine) reconcile(ctx context.Context) error {
	var infos []market.PositionInfo
	err := e.retry.Do(ctx, "reconcile positions", func() error {
		var err error
		infos, err = e.cli.FetchPositions(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("reconcile: venue positions unavailable, keeping local state: %w", err)
	}

	venue := make(map[string]market.PositionInfo, len(infos))
	for _, info := range infos {
		if info.Size > 0 {
			venue[info.Symbol] = info
		}
	}

	for sym := range e.store.Positions() {
		if _, ok := venue[sym]; ok {
			continue
		}
		log.Printf("Sync | [%s] local record has no venue position, purging", sym)
		e.tun.ClearPartials(sym)
		if err := e.store.ClearPosition(sym); err != nil {
			log.Printf("Sync | [%s] purge: %v", sym, err)
		}
		if err := e.journal.LogEvent(journal.Event{
			Time:        e.clk.Now(),
			Type:        "reconcile_purge",
			Symbol:      sym,
			Description: "local record without venue position",
		}); err != nil {
			log.Printf("Sync | [%s] journaling purge: %v", sym, err)
		}
		metrics.IncReconciliation("purge")
	}

	for sym, info := range venue {
		if e.store.Position(sym) != nil {
			continue
		}
		e.adopt(ctx, sym, info)
	}

	log.Printf("Sync | reconciled: %d on venue, %d tracked", len(venue), e.store.OpenCount())
	return nil
}

// adopt takes ownership of a venue position the store does not know,
// synthesizing the context an entry would have recorded: ATR from fresh
// candles, the stop from a surviving resting stop order, entry time now.
// A position with no stop on the venue gets one immediately.
func (e *Engine) adopt(ctx context.Context, sym string, info market.PositionInfo) {
	dir, ok := position.SideFromVenue(info.Side)
	if !ok {
		log.Printf("Sync | [%s] unreadable venue side %q, leaving unmanaged", sym, info.Side)
		return
	}
	now := e.clk.Now()

	atr := info.EntryPrice * adoptedATRPct
	if ds, err := e.dataset(ctx, sym); err == nil {
		if i := ds.ClosedIndex(); ds.Valid(i) && ds.ATR[i] > 0 {
			atr = ds.ATR[i]
		}
	} else {
		log.Printf("Sync | [%s] no candles for adopted position, assuming %.2f%% ATR: %v",
			sym, adoptedATRPct*100, err)
	}

	var stop float64
	var stopID int64
	if resting, err := e.cli.OpenOrders(ctx, sym); err == nil {
		for _, o := range resting {
			if o.Type == order.StopMarket && o.StopPrice > 0 {
				stop, stopID = o.StopPrice, o.OrderID
				break
			}
		}
	} else {
		log.Printf("Sync | [%s] open orders: %v", sym, err)
	}
	if stop == 0 {
		if dir == position.Long {
			stop = info.EntryPrice * (1 - adoptedStopPct)
		} else {
			stop = info.EntryPrice * (1 + adoptedStopPct)
		}
	}

	lev := info.Leverage
	if lev <= 0 {
		lev = e.cfg.Leverage
	}
	pos := position.New(sym, dir, info.EntryPrice, info.Size, stop, atr, lev, e.cfg.LadderNames(), now)
	pos.StopOrderID = stopID
	if err := e.store.SetPosition(sym, pos); err != nil {
		log.Printf("Sync | [%s] adopting: %v", sym, err)
		return
	}

	if stopID == 0 {
		// The venue holds this position unprotected.
		if placed, err := e.placeStop(ctx, pos, stop); err != nil {
			log.Printf("Sync | [%s] protecting adopted position: %v", sym, err)
			_ = e.notify.SendWithRetry(fmt.Sprintf("⚠️ Adopted %s %s without a stop and placement failed: %v",
				sym, dir, err))
		} else {
			pos.StopPrice = placed
			_ = e.store.SetPosition(sym, pos)
		}
	}

	log.Printf("Sync | [%s] adopted %s %.6f @ %.4f, stop %.4f, atr %.4f",
		sym, dir, info.Size, info.EntryPrice, pos.StopPrice, atr)
	if err := e.journal.LogEvent(journal.Event{
		Time:        now,
		Type:        "reconcile_adopt",
		Symbol:      sym,
		Description: fmt.Sprintf("%s %.6f @ %.4f", dir, info.Size, info.EntryPrice),
	}); err != nil {
		log.Printf("Sync | [%s] journaling adoption: %v", sym, err)
	}
	metrics.IncReconciliation("adopt")
	_ = e.notify.SendWithRetry(fmt.Sprintf("👀 Adopted unmanaged %s %s %.6f @ %.4f",
		sym, dir, info.Size, info.EntryPrice))
}
