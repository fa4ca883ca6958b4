package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/amirphl/sniper-trader/internal/config"
	"github.com/amirphl/sniper-trader/internal/exchange"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/order"
	"github.com/amirphl/sniper-trader/internal/position"
)

const (
	// dustNotionalUSD is the smallest slice worth closing on its own.
	// Anything under it escalates to a full close.
	dustNotionalUSD = 5.0
	// safetyTPPct is the catch-all take-profit distance for multi-level
	// ladders. The partials are expected to beat it by a wide margin.
	safetyTPPct = 0.20
)

// Stop move kinds, used as metric labels and in logs.
const (
	stopKindBreakeven = "breakeven"
	stopKindLadder    = "ladder"
	stopKindTrailing  = "trailing"
)

func exitSide(dir position.Side) order.Side {
	if dir == position.Long {
		return order.Sell
	}
	return order.Buy
}

// submit pushes an order through the retry policy and counts it. Venue
// rejections surface immediately; only transport failures retry.
func (e *Engine) submit(ctx context.Context, req order.Request) (order.Result, error) {
	var res order.Result
	err := e.retry.Do(ctx, fmt.Sprintf("%s %s %s", req.Symbol, req.Side, req.Type), func() error {
		var err error
		res, err = e.cli.SubmitOrder(ctx, req)
		return err
	})
	if err != nil {
		return order.Result{}, err
	}
	metrics.IncOrder(string(req.Side), string(req.Type))
	return res, nil
}

// closeFull flattens the position with a reduce-only market order sized
// from the venue's own number, so a locally stale size can never leave a
// remainder. A venue that reports the position gone yields a result with
// StatusAlreadyClosed and no fill.
func (e *Engine) closeFull(ctx context.Context, pos *position.Position) (order.Result, error) {
	info, err := e.cli.FetchPosition(ctx, pos.Symbol)
	if err != nil {
		return order.Result{}, fmt.Errorf("close %s: %w", pos.Symbol, err)
	}
	if info == nil {
		log.Printf("Executor | [%s] nothing on the venue to close", pos.Symbol)
		return order.Result{Symbol: pos.Symbol, Status: order.StatusAlreadyClosed}, nil
	}
	f, err := e.cli.SymbolFilters(ctx, pos.Symbol)
	if err != nil {
		return order.Result{}, fmt.Errorf("close %s: %w", pos.Symbol, err)
	}
	qty := f.RoundToStep(info.Size)
	if qty <= 0 {
		return order.Result{Symbol: pos.Symbol, Status: order.StatusAlreadyClosed}, nil
	}
	res, err := e.submit(ctx, order.Request{
		Symbol:        pos.Symbol,
		Side:          exitSide(pos.Direction),
		Type:          order.Market,
		Quantity:      qty,
		ReduceOnly:    true,
		ClientOrderID: order.NewClientOrderID("close"),
	})
	if err != nil {
		if exchange.IsReduceOnlyRejection(err) {
			log.Printf("Executor | [%s] close raced a fill, position already flat", pos.Symbol)
			return order.Result{Symbol: pos.Symbol, Status: order.StatusAlreadyClosed}, nil
		}
		return order.Result{}, err
	}
	return res, nil
}

// closePartial closes qty at market, reduce-only. Slices whose notional
// falls under the venue's useful minimum escalate to a full close,
// reported through full.
func (e *Engine) closePartial(ctx context.Context, pos *position.Position, qty, mark float64) (res order.Result, full bool, err error) {
	f, err := e.cli.SymbolFilters(ctx, pos.Symbol)
	if err != nil {
		return order.Result{}, false, fmt.Errorf("partial close %s: %w", pos.Symbol, err)
	}
	rounded := f.RoundToStep(qty)
	if rounded*mark < dustNotionalUSD {
		log.Printf("Executor | [%s] slice %.6f is dust at %.4f, escalating to full close",
			pos.Symbol, rounded, mark)
		res, err = e.closeFull(ctx, pos)
		return res, true, err
	}
	res, err = e.submit(ctx, order.Request{
		Symbol:        pos.Symbol,
		Side:          exitSide(pos.Direction),
		Type:          order.Market,
		Quantity:      rounded,
		ReduceOnly:    true,
		ClientOrderID: order.NewClientOrderID("part"),
	})
	if err != nil {
		return order.Result{}, false, err
	}
	return res, false, nil
}

// placeStop replaces the protective stop and returns the tick-rounded
// price actually resting. The previously tracked stop order is cancelled
// first; hitting the venue's stop-order cap clears every resting order on
// the symbol and retries once.
func (e *Engine) placeStop(ctx context.Context, pos *position.Position, price float64) (float64, error) {
	f, err := e.cli.SymbolFilters(ctx, pos.Symbol)
	if err != nil {
		return 0, fmt.Errorf("stop %s: %w", pos.Symbol, err)
	}
	price = f.RoundToTick(price)

	if pos.StopOrderID != 0 {
		if err := e.cli.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			log.Printf("Executor | [%s] cancelling stale stop %d: %v", pos.Symbol, pos.StopOrderID, err)
		}
		pos.StopOrderID = 0
	}

	req := order.Request{
		Symbol:        pos.Symbol,
		Side:          exitSide(pos.Direction),
		Type:          order.StopMarket,
		StopPrice:     price,
		ClosePosition: true,
		ClientOrderID: order.NewClientOrderID("sl"),
	}
	res, err := e.submit(ctx, req)
	if exchange.IsMaxStopOrders(err) {
		log.Printf("Executor | [%s] stop order cap hit, clearing resting orders and retrying", pos.Symbol)
		if cerr := e.cli.CancelAllOrders(ctx, pos.Symbol); cerr != nil {
			return 0, fmt.Errorf("stop %s: clearing order cap: %v: %w", pos.Symbol, cerr, err)
		}
		pos.StopOrderID, pos.TPOrderID = 0, 0
		req.ClientOrderID = order.NewClientOrderID("sl")
		res, err = e.submit(ctx, req)
	}
	if err != nil {
		return 0, fmt.Errorf("stop %s: %w", pos.Symbol, err)
	}
	pos.StopOrderID = res.OrderID
	return price, nil
}

// placeTakeProfit parks the hard profit cap as a close-position
// take-profit order triggered off the mark price.
func (e *Engine) placeTakeProfit(ctx context.Context, pos *position.Position, price float64) error {
	f, err := e.cli.SymbolFilters(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("take-profit %s: %w", pos.Symbol, err)
	}
	price = f.RoundToTick(price)

	if pos.TPOrderID != 0 {
		if err := e.cli.CancelOrder(ctx, pos.Symbol, pos.TPOrderID); err != nil {
			log.Printf("Executor | [%s] cancelling stale take-profit %d: %v", pos.Symbol, pos.TPOrderID, err)
		}
		pos.TPOrderID = 0
	}

	res, err := e.submit(ctx, order.Request{
		Symbol:        pos.Symbol,
		Side:          exitSide(pos.Direction),
		Type:          order.TakeProfitMarket,
		StopPrice:     price,
		ClosePosition: true,
		ClientOrderID: order.NewClientOrderID("tp"),
	})
	if err != nil {
		return fmt.Errorf("take-profit %s: %w", pos.Symbol, err)
	}
	pos.TPOrderID = res.OrderID
	return nil
}

// protect places the stop and the safety take-profit for a fresh or
// adopted position and persists the resulting order ids. A failed stop is
// loud: the position is live without its primary protection.
func (e *Engine) protect(ctx context.Context, pos *position.Position) {
	if placed, err := e.placeStop(ctx, pos, pos.StopPrice); err != nil {
		log.Printf("Executor | [%s] stop placement failed: %v", pos.Symbol, err)
		_ = e.notify.SendWithRetry(fmt.Sprintf("⚠️ %s %s is live without a stop: %v",
			pos.Symbol, pos.Direction, err))
	} else {
		pos.StopPrice = placed
	}
	tp := safetyTakeProfit(pos.EntryPrice, e.cfg.Ladder, pos.Direction)
	if err := e.placeTakeProfit(ctx, pos, tp); err != nil {
		log.Printf("Executor | [%s] safety take-profit: %v", pos.Symbol, err)
	}
	if err := e.store.SetPosition(pos.Symbol, pos); err != nil {
		log.Printf("Executor | [%s] persisting order ids: %v", pos.Symbol, err)
	}
}

// safetyTakeProfit is the catch-all profit cap. A single-level ladder
// takes full profit at its one level; multi-level ladders get a far cap
// the partials should always beat.
func safetyTakeProfit(entry float64, ladder []config.LadderLevel, dir position.Side) float64 {
	pct := safetyTPPct
	if len(ladder) == 1 {
		pct = ladder[0].TriggerPct
	}
	if dir == position.Long {
		return entry * (1 + pct)
	}
	return entry * (1 - pct)
}

// ratchetStop replaces the venue stop when target improves on the current
// one and reports whether it moved. Trailing moves stay out of the
// SLMovedCount tally; once a trend runs they fire on most candles, which
// would drown the progress signal the tally feeds into position health.
func (e *Engine) ratchetStop(ctx context.Context, pos *position.Position, target float64, kind string) bool {
	improves := target > pos.StopPrice
	if pos.Direction == position.Short {
		improves = target < pos.StopPrice
	}
	if !improves {
		return false
	}
	placed, err := e.placeStop(ctx, pos, target)
	if err != nil {
		log.Printf("Stops | [%s] %s move to %.4f failed: %v", pos.Symbol, kind, target, err)
		return false
	}
	log.Printf("Stops | [%s] %s stop %.4f -> %.4f", pos.Symbol, kind, pos.StopPrice, placed)
	pos.StopPrice = placed
	pos.LastSLUpdate = e.clk.Now()
	if kind != stopKindTrailing {
		pos.SLMovedCount++
	}
	if err := e.store.SetPosition(pos.Symbol, pos); err != nil {
		log.Printf("Stops | [%s] persisting stop: %v", pos.Symbol, err)
	}
	metrics.IncStopMove(kind)
	return true
}

// sweepOrphans cancels resting orders left behind after positions close.
// It only runs while the local book is flat, so protective orders of live
// positions are never touched.
func (e *Engine) sweepOrphans(ctx context.Context) {
	orders, err := e.cli.OpenOrders(ctx, "")
	if err != nil {
		log.Printf("Executor | orphan sweep: %v", err)
		return
	}
	seen := map[string]bool{}
	for _, o := range orders {
		if seen[o.Symbol] {
			continue
		}
		seen[o.Symbol] = true
		if err := e.cli.CancelAllOrders(ctx, o.Symbol); err != nil {
			log.Printf("Executor | [%s] orphan cancel: %v", o.Symbol, err)
			continue
		}
		log.Printf("Executor | [%s] cancelled orphaned resting orders", o.Symbol)
		metrics.IncReconciliation("sweep")
	}
}
