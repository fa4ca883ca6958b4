package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/filters"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/risk"
	"github.com/amirphl/sniper-trader/internal/stops"
	"github.com/amirphl/sniper-trader/internal/strategy"
)

// candidate is a symbol that cleared every entry gate this cycle.
type candidate struct {
	symbol string
	ds     *strategy.Dataset
	eval   strategy.Evaluation
	atr    float64
	price  float64
}

// runCycle is the once-per-candle pass: manage held positions on closed
// data, then scan the rest of the universe for at most one new entry.
// Pauses and risk gates block entries only; held positions are managed
// regardless.
func (e *Engine) runCycle(ctx context.Context, now time.Time) {
	metrics.IncCycle()
	e.cycleData = make(map[string]*strategy.Dataset)
	e.rejections = make(map[string]int)

	symbols := e.universe()
	log.Printf("Cycle | %s candle closed, scanning %d symbols, %d open",
		e.cfg.Timeframe, len(symbols), e.store.OpenCount())

	bal, balErr := e.fetchBalance(ctx)
	if balErr != nil {
		log.Printf("Cycle | balance unavailable, entries blocked: %v", balErr)
	}

	allowEntries := balErr == nil
	if e.gate.Paused() {
		log.Printf("Cycle | venue degraded, entries paused")
		allowEntries = false
	}
	if filters.InDailyCloseWindow(now) {
		log.Printf("Cycle | daily close window, entries blocked")
		allowEntries = false
	}
	if balErr == nil && risk.DailyStopHit(bal.Total, e.store.DailyPnL(), e.cfg.DailyDrawdownLimit) {
		log.Printf("Cycle | daily stop hit (%+.2f USD on %.2f balance), entries blocked until UTC reset",
			e.store.DailyPnL(), bal.Total)
		if !e.dailyStopNotified {
			e.dailyStopNotified = true
			_ = e.notify.SendWithRetry(fmt.Sprintf(
				"🛑 Daily stop hit: %+.2f USD on %.2f balance. Entries blocked until the UTC reset.",
				e.store.DailyPnL(), bal.Total))
		}
		allowEntries = false
	}
	if risk.TradeBudgetExhausted(e.store.TradeCount(), e.cfg.MaxTradesPerHour) {
		log.Printf("Cycle | hourly trade budget exhausted (%d), entries blocked", e.store.TradeCount())
		allowEntries = false
	}

	var best *candidate
	entered := false
	unrealized := 0.0

	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		ds, err := e.dataset(ctx, sym)
		if err != nil {
			log.Printf("Cycle | [%s] dataset: %v", sym, err)
			continue
		}
		if pos := e.store.Position(sym); pos != nil {
			unrealized += e.managePosition(ctx, pos, ds, now)
			continue
		}
		if !allowEntries || entered {
			continue
		}
		cand, ok := e.scanSymbol(ctx, sym, ds, now, bal)
		if !ok {
			continue
		}
		if !risk.MaxSymbolsReached(e.store.OpenCount(), e.cfg.MaxOpenSymbols) {
			e.enter(ctx, cand)
			entered = true
			continue
		}
		if best == nil || cand.eval.Score > best.eval.Score {
			c := cand
			best = &c
			log.Printf("Cycle | [%s] qualifies at full book (score %.0f), tracked as alternative",
				sym, cand.eval.Score)
		}
	}

	if best != nil && !entered {
		e.considerSwitch(ctx, *best, now)
	}

	e.logRejections()
	log.Printf("Cycle | done: %d open, unrealized %+.2f USD at close", e.store.OpenCount(), unrealized)
}

// managePosition runs the closed-candle lifecycle for a held position:
// extreme tracking, PnL history, the exit chain, and last the trailing
// stop. Returns the unrealized PnL at the candle close.
func (e *Engine) managePosition(ctx context.Context, pos *position.Position, ds *strategy.Dataset, now time.Time) float64 {
	i := ds.ClosedIndex()
	if i < 0 {
		return 0
	}
	closed := ds.Candles[i]

	pos.UpdateExtremes(closed.High, closed.Low)
	pnl := pos.PnLPercent(closed.Close)
	pos.RecordPnL(pnl, now)
	if err := e.store.SetPosition(pos.Symbol, pos); err != nil {
		log.Printf("Cycle | [%s] persisting candle update: %v", pos.Symbol, err)
	}

	if reason, ok := exitSignal(ds, pos, now); ok {
		log.Printf("Cycle | [%s] exit signal: %s", pos.Symbol, reason)
		e.closeAndSettle(ctx, pos, closed.Close, reason)
		return 0
	}

	if ds.Valid(i) && ds.ATR[i] > 0 {
		target := stops.Trailing(pos.StopPrice, pos.Extreme(), ds.ATR[i], pos.Direction)
		e.ratchetStop(ctx, pos, target, stopKindTrailing)
	}

	log.Printf("Cycle | [%s] held %s: pnl %+.2f%%, age %s, stop %.4f",
		pos.Symbol, pos.Direction, pnl*100, pos.Age(now).Round(time.Minute), pos.StopPrice)
	return pos.GrossPnL(closed.Close)
}

// scanSymbol walks the entry gate chain on one symbol. The first gate to
// fail ends the scan, and every rejection lands in the cycle tally.
func (e *Engine) scanSymbol(ctx context.Context, sym string, ds *strategy.Dataset, now time.Time, bal market.Balance) (candidate, bool) {
	none := candidate{}
	i := ds.ClosedIndex()
	if !ds.Valid(i) {
		e.reject("Indicators Warmup")
		return none, false
	}
	if e.store.InCooldown(sym, now, e.cfg.SymbolCooldown) {
		e.reject("Cooldown")
		return none, false
	}

	price := ds.Candles[i].Close
	atr := ds.ATR[i]
	if price <= 0 || math.IsNaN(atr) || atr <= 0 {
		e.reject("Indicators Warmup")
		return none, false
	}

	atrPct, ok := filters.ATRWithinBand(atr, price, e.settings.ATRMinPct(), e.cfg.ATRMaxPct)
	if !ok {
		e.reject("Volatility (ATR)")
		log.Printf("Cycle | [%s] atr %.2f%% outside [%.2f%%, %.2f%%]",
			sym, atrPct, e.settings.ATRMinPct(), e.cfg.ATRMaxPct)
		return none, false
	}
	if total, compressed := filters.RangeCompressed(ds.Candles[:i+1], atr); compressed {
		e.reject("Volatility (Range)")
		log.Printf("Cycle | [%s] range %.4f compressed against atr %.4f", sym, total, atr)
		return none, false
	}

	ob, err := e.cli.FetchOrderBook(ctx, sym, bookDepth)
	if err != nil {
		log.Printf("Cycle | [%s] order book: %v", sym, err)
		return none, false
	}
	if spread, wide := filters.SpreadTooWide(ob, e.cfg.MaxSpreadPct); wide {
		e.reject("Spread High")
		log.Printf("Cycle | [%s] spread %.3f%% over %.3f%%", sym, spread, e.cfg.MaxSpreadPct)
		return none, false
	}

	var eval strategy.Evaluation
	passed := false
	for _, dir := range []position.Side{position.Long, position.Short} {
		ev := strategy.Evaluate(ds, i, dir)
		if ev.Passed {
			eval = ev
			passed = true
			break
		}
		for _, name := range ev.FailedChecks() {
			e.reject("Signal: " + name)
		}
	}
	if !passed {
		return none, false
	}

	if e.cfg.FundingGate {
		fr, err := e.cli.FetchFundingRate(ctx, sym)
		if err != nil {
			log.Printf("Cycle | [%s] funding rate: %v", sym, err)
			return none, false
		}
		if pct, ok := filters.FundingAcceptable(fr.Rate, eval.Direction, e.cfg.MaxFundingPct); !ok {
			e.reject("Funding Bias")
			log.Printf("Cycle | [%s] funding %.4f%% against a %s", sym, pct, eval.Direction)
			return none, false
		}
	}

	if openSym, r, hit := e.correlatedWithOpen(ctx, ds); hit {
		e.reject("Correlation")
		log.Printf("Cycle | [%s] moves with open %s (r=%.2f)", sym, openSym, r)
		return none, false
	}

	// Sizing dry run, so depth gets checked against the quantity that
	// would actually hit the book.
	f, err := e.cli.SymbolFilters(ctx, sym)
	if err != nil {
		log.Printf("Cycle | [%s] symbol filters: %v", sym, err)
		return none, false
	}
	stop := stops.Initial(price, atr, eval.Direction)
	qty, sizeReject := e.sizer.Size(sym, price, stop, bal.Available, risk.TotalExposure(e.store.Positions()), f)
	if sizeReject != "" {
		e.reject("Sizing")
		log.Printf("Cycle | [%s] sizing: %s", sym, sizeReject)
		return none, false
	}
	if bidVol, askVol, deep := filters.DepthSufficient(ob, qty); !deep {
		e.reject("Depth Thin")
		log.Printf("Cycle | [%s] book too thin for %.6f (bids %.2f, asks %.2f)", sym, qty, bidVol, askVol)
		return none, false
	}

	log.Printf("Cycle | [%s] %s setup passed, score %.0f", sym, eval.Direction, eval.Score)
	return candidate{symbol: sym, ds: ds, eval: eval, atr: atr, price: price}, true
}

// correlatedWithOpen checks the candidate's closes against every open
// position's series. Open symbols whose data cannot be fetched are
// skipped rather than blocking the candidate.
func (e *Engine) correlatedWithOpen(ctx context.Context, ds *strategy.Dataset) (string, float64, bool) {
	open := e.store.Positions()
	if len(open) == 0 {
		return "", 0, false
	}
	series := make(map[string][]float64, len(open))
	for sym := range open {
		ods, err := e.dataset(ctx, sym)
		if err != nil {
			log.Printf("Cycle | [%s] correlation series: %v", sym, err)
			continue
		}
		series[sym] = candle.Series(ods.Candles).DropForming().Closes()
	}
	cand := candle.Series(ds.Candles).DropForming().Closes()
	return risk.FirstCorrelated(cand, series, e.cfg.CorrelationThreshold)
}

func (e *Engine) reject(reason string) {
	e.rejections[reason]++
	metrics.IncRejection(reason)
}

// logRejections prints the cycle's three most common rejection reasons.
func (e *Engine) logRejections() {
	if len(e.rejections) == 0 {
		return
	}
	type tally struct {
		reason string
		n      int
	}
	list := make([]tally, 0, len(e.rejections))
	for r, n := range e.rejections {
		list = append(list, tally{r, n})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].n != list[j].n {
			return list[i].n > list[j].n
		}
		return list[i].reason < list[j].reason
	})
	if len(list) > 3 {
		list = list[:3]
	}
	parts := make([]string, len(list))
	for i, t := range list {
		parts[i] = fmt.Sprintf("%s x%d", t.reason, t.n)
	}
	log.Printf("Cycle | top rejections: %s", strings.Join(parts, ", "))
}

// universe is the configured watchlist plus any adopted symbols outside it.
func (e *Engine) universe() []string {
	syms := make([]string, 0, len(e.cfg.Symbols)+2)
	seen := make(map[string]bool, len(e.cfg.Symbols)+2)
	for _, s := range e.cfg.Symbols {
		if !seen[s] {
			syms = append(syms, s)
			seen[s] = true
		}
	}
	for _, s := range e.store.Symbols() {
		if !seen[s] {
			syms = append(syms, s)
			seen[s] = true
		}
	}
	return syms
}

func (e *Engine) fetchBalance(ctx context.Context) (market.Balance, error) {
	var bal market.Balance
	err := e.retry.Do(ctx, "fetch balance", func() error {
		var err error
		bal, err = e.cli.FetchBalance(ctx)
		return err
	})
	return bal, err
}

// dataset fetches and computes the indicator set for a symbol, cached per
// cycle so held-position management, correlation checks, and the entry
// scan share one venue call.
func (e *Engine) dataset(ctx context.Context, sym string) (*strategy.Dataset, error) {
	if ds, ok := e.cycleData[sym]; ok {
		return ds, nil
	}
	var candles []candle.Candle
	err := e.retry.Do(ctx, "candles "+sym, func() error {
		var err error
		candles, err = e.cli.FetchCandles(ctx, sym, e.cfg.Timeframe, datasetCandles)
		return err
	})
	if err != nil {
		return nil, err
	}
	ds, err := strategy.NewDataset(candles)
	if err != nil {
		return nil, err
	}
	e.cycleData[sym] = ds
	return ds, nil
}
