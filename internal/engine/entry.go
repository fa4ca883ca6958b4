package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/amirphl/sniper-trader/internal/journal"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/order"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/risk"
	"github.com/amirphl/sniper-trader/internal/stops"
	"github.com/amirphl/sniper-trader/internal/strategy"
)

// enter opens a position for a fully qualified candidate: fresh balance,
// final sizing, market entry, protective orders, books. Sizing reruns
// here because the scan's dry run used cycle-start numbers.
func (e *Engine) enter(ctx context.Context, cand candidate) {
	sym, dir := cand.symbol, cand.eval.Direction
	now := e.clk.Now()

	bal, err := e.fetchBalance(ctx)
	if err != nil {
		log.Printf("Entry | [%s] balance: %v", sym, err)
		return
	}
	f, err := e.cli.SymbolFilters(ctx, sym)
	if err != nil {
		log.Printf("Entry | [%s] symbol filters: %v", sym, err)
		return
	}
	stopEstimate := stops.Initial(cand.price, cand.atr, dir)
	qty, sizeReject := e.sizer.Size(sym, cand.price, stopEstimate, bal.Available,
		risk.TotalExposure(e.store.Positions()), f)
	if sizeReject != "" {
		log.Printf("Entry | [%s] sizing at execution: %s", sym, sizeReject)
		e.reject("Sizing")
		return
	}

	side := order.Buy
	if dir == position.Short {
		side = order.Sell
	}
	res, err := e.submit(ctx, order.Request{
		Symbol:        sym,
		Side:          side,
		Type:          order.Market,
		Quantity:      qty,
		ClientOrderID: order.NewClientOrderID("entry"),
	})
	if err != nil {
		log.Printf("Entry | [%s] order rejected: %v", sym, err)
		if jerr := e.journal.LogEvent(journal.Event{
			Time: now, Type: "entry_failed", Symbol: sym, Description: err.Error(),
		}); jerr != nil {
			log.Printf("Entry | [%s] journaling rejection: %v", sym, jerr)
		}
		_ = e.notify.SendWithRetry(fmt.Sprintf("⚠️ Entry %s %s rejected: %v", sym, dir, err))
		return
	}

	fill := res.FillPrice(cand.price)
	size := res.ExecutedQty
	if size <= 0 {
		size = qty
	}
	// The stop anchors on the actual fill, not the signal price.
	stop := stops.Initial(fill, cand.atr, dir)

	pos := position.New(sym, dir, fill, size, stop, cand.atr, e.cfg.Leverage, e.cfg.LadderNames(), now)
	if err := e.store.SetPosition(sym, pos); err != nil {
		log.Printf("Entry | [%s] persisting position: %v", sym, err)
	}
	if err := e.store.AddTradeTime(now); err != nil {
		log.Printf("Entry | [%s] trade budget stamp: %v", sym, err)
	}

	e.protect(ctx, pos)

	if err := e.journal.LogOpen(journal.Entry{
		Time:        now,
		Symbol:      sym,
		Direction:   string(dir),
		EntryPrice:  fill,
		Size:        size,
		MarginUSD:   pos.Margin(),
		ExposureUSD: pos.Notional(),
		Leverage:    pos.Leverage,
		Criteria:    criteriaSummary(cand.eval),
	}); err != nil {
		log.Printf("Entry | [%s] journaling entry: %v", sym, err)
	}
	metrics.IncEntry(string(dir))
	metrics.SetOpenPositions(e.store.OpenCount())

	log.Printf("Entry | [%s] %s filled: %.6f @ %.4f, stop %.4f, margin %.2f USD, score %.0f",
		sym, dir, size, fill, pos.StopPrice, pos.Margin(), cand.eval.Score)
	_ = e.notify.SendWithRetry(fmt.Sprintf("📈 Opened %s %s: %.6f @ %.4f, stop %.4f, score %.0f",
		sym, dir, size, fill, pos.StopPrice, cand.eval.Score))
}

// criteriaSummary renders the winning signal checks for the journal row.
func criteriaSummary(ev strategy.Evaluation) string {
	parts := make([]string, 0, len(ev.Checks)+1)
	parts = append(parts, fmt.Sprintf("Score=%.0f", ev.Score))
	for _, c := range ev.Checks {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	return strings.Join(parts, "; ")
}
