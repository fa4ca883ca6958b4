// Package engine runs the live trading loop. A single goroutine ticks a
// cooperative scheduler that multiplexes the venue health probe, the
// real-time position monitor, the once-per-candle strategy cycle, and a
// reporting heartbeat. All venue access goes through exchange.Client, all
// durable state through state.Store, so every path here is testable
// against the mock venue and a fake clock.
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/amirphl/sniper-trader/internal/clock"
	"github.com/amirphl/sniper-trader/internal/config"
	"github.com/amirphl/sniper-trader/internal/exchange"
	"github.com/amirphl/sniper-trader/internal/health"
	"github.com/amirphl/sniper-trader/internal/journal"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/notifier"
	"github.com/amirphl/sniper-trader/internal/risk"
	"github.com/amirphl/sniper-trader/internal/state"
	"github.com/amirphl/sniper-trader/internal/strategy"
	"github.com/amirphl/sniper-trader/internal/tfutils"
	"github.com/amirphl/sniper-trader/internal/tuner"
)

const (
	// probeInterval paces the venue latency probe.
	probeInterval = time.Second
	// orphanSweepInterval paces the cancel-all sweep that runs while no
	// positions are open.
	orphanSweepInterval = 30 * time.Second
	// detailLogInterval throttles the per-position monitor log lines.
	detailLogInterval = 20 * time.Second
	// The strategy cycle fires once per candle, between 5s and 60s after
	// the boundary so the venue has sealed the candle but the signal is
	// still fresh.
	cycleWindowMinSec = 5
	cycleWindowMaxSec = 60
	// panicBackoff is slept after a recovered tick panic.
	panicBackoff = 5 * time.Second
	// datasetCandles is the fetch depth for indicator warmup.
	datasetCandles = 200
	// bookDepth is the order book depth fetched for entry filters.
	bookDepth = 20
	// sizeDriftTolerance is the local-vs-venue size mismatch, in contracts,
	// beyond which the venue's number wins.
	sizeDriftTolerance = 0.001
)

// Engine owns the trading loop and every open position's lifecycle.
type Engine struct {
	cfg      *config.Config
	settings *config.Settings
	cli      exchange.Client
	store    *state.Store
	journal  journal.Journaler
	notify   notifier.Notifier
	clk      clock.Clock

	retry exchange.Retrier
	sizer *risk.Sizer
	tun   *tuner.Tuner
	gate  *health.Monitor
	tf    time.Duration

	lastProbe     time.Time
	lastMonitor   time.Time
	lastSweep     time.Time
	lastHeartbeat time.Time
	lastDetailLog time.Time
	lastCycle     int64 // epoch of the candle boundary last processed

	cycleData  map[string]*strategy.Dataset
	rejections map[string]int

	dailyStopNotified bool
}

// New wires an engine from its dependencies. The tuner is rehydrated from
// the last snapshot in the store so a restart keeps adapted settings.
func New(cfg *config.Config, settings *config.Settings, cli exchange.Client, store *state.Store, jnl journal.Journaler, ntf notifier.Notifier, clk clock.Clock) (*Engine, error) {
	tf, err := tfutils.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	sizer, err := risk.NewSizer(cfg, settings)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	tun := tuner.New(settings)
	if snap, ok := store.TunerSnapshot(); ok {
		tun.Restore(snap)
	}
	return &Engine{
		cfg:        cfg,
		settings:   settings,
		cli:        cli,
		store:      store,
		journal:    jnl,
		notify:     ntf,
		clk:        clk,
		retry:      exchange.Retrier{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryDelay},
		sizer:      sizer,
		tun:        tun,
		gate:       health.NewMonitor(cfg.LatencyPauseMs, cfg.LatencyResumeMs, cfg.LatencyResumeHits),
		tf:         tf,
		cycleData:  map[string]*strategy.Dataset{},
		rejections: map[string]int{},
	}, nil
}

// Run reconciles against the venue, enforces the account setup, and then
// ticks the scheduler until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return fmt.Errorf("engine startup: %w", err)
	}
	log.Printf("Engine | running: %d symbols, %s candles, tick every %s",
		len(e.cfg.Symbols), e.cfg.Timeframe, e.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Engine | stopping: %v", ctx.Err())
			if err := e.store.Save(); err != nil {
				log.Printf("Engine | final state save: %v", err)
			}
			return ctx.Err()
		default:
		}
		e.safeTick(ctx)
		e.clk.Sleep(e.cfg.TickInterval)
	}
}

// startup syncs local state with the venue and pins the margin setup.
// A reconcile failure is fatal only when the venue rejects our keys;
// anything else leaves local state untouched and the loop running.
func (e *Engine) startup(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		if exchange.IsAuthError(err) {
			return err
		}
		log.Printf("Engine | startup reconcile failed, keeping local state: %v", err)
	}
	e.enforceAccountSetup(ctx)
	return nil
}

// enforceAccountSetup pins one-way mode, isolated margin, and the
// configured leverage on every symbol. Rejections are logged and the
// symbol keeps its venue-side setting.
func (e *Engine) enforceAccountSetup(ctx context.Context) {
	if err := e.cli.SetOneWayMode(ctx); err != nil {
		log.Printf("Engine | one-way mode: %v", err)
	}
	log.Printf("Engine | enforcing %dx isolated on %d symbols", e.cfg.Leverage, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		if err := e.cli.SetIsolatedMargin(ctx, sym); err != nil {
			log.Printf("Engine | [%s] isolated margin: %v", sym, err)
		}
		if err := e.cli.SetLeverage(ctx, sym, e.cfg.Leverage); err != nil {
			log.Printf("Engine | [%s] leverage: %v", sym, err)
		}
	}
}

// safeTick runs one tick and survives panics. A panicking tick must not
// kill the process while positions are open on the venue.
func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Engine | CRITICAL: tick panic: %v\n%s", r, debug.Stack())
			_ = e.notify.SendWithRetry(fmt.Sprintf("🔥 Tick panic, backing off %s: %v", panicBackoff, r))
			e.clk.Sleep(panicBackoff)
		}
	}()
	e.tick(ctx)
}

// tick dispatches the due work for this scheduler pass. The monitor keeps
// running while entries are paused; only the strategy cycle's entry scan
// honors the pause gate.
func (e *Engine) tick(ctx context.Context) {
	now := e.clk.Now()

	if now.Sub(e.lastProbe) >= probeInterval {
		e.lastProbe = now
		e.probeHealth(ctx)
	}

	e.maybeResetDaily(now)

	if _, err := e.store.PruneTradeTimes(now); err != nil {
		log.Printf("Engine | pruning trade times: %v", err)
	}

	if now.Sub(e.lastMonitor) >= e.cfg.MonitorInterval {
		e.lastMonitor = now
		e.monitorPositions(ctx, now)
	}

	boundary := tfutils.FloorEpoch(now.Unix(), e.tf)
	offset := now.Unix() - boundary
	if boundary > e.lastCycle && offset >= cycleWindowMinSec && offset < cycleWindowMaxSec {
		e.lastCycle = boundary
		e.runCycle(ctx, now)
	}

	if now.Sub(e.lastHeartbeat) >= e.cfg.HeartbeatInterval {
		e.lastHeartbeat = now
		e.heartbeat(ctx, now)
	}
}

// probeHealth measures venue round-trip latency and flips the entry pause
// gate on sustained degradation.
func (e *Engine) probeHealth(ctx context.Context) {
	ms := health.Latency(ctx, e.cli)
	metrics.SetVenueLatency(ms)
	paused, changed := e.gate.Observe(ms)
	if !changed {
		return
	}
	metrics.SetPaused(paused)
	if paused {
		metrics.IncHealthPause()
		log.Printf("Engine | venue latency %.0fms, pausing entries", ms)
		_ = e.notify.SendWithRetry(fmt.Sprintf("⚠️ Venue latency %.0fms, entries paused", ms))
		return
	}
	log.Printf("Engine | venue latency recovered at %.0fms, entries resumed", ms)
	_ = e.notify.SendWithRetry(fmt.Sprintf("✅ Venue latency recovered at %.0fms, entries resumed", ms))
}

// maybeResetDaily zeroes the daily PnL counter when the UTC date rolls
// over. A fresh store just gets its window stamped.
func (e *Engine) maybeResetDaily(now time.Time) {
	last := e.store.LastReset()
	if last.IsZero() {
		if err := e.store.ResetDaily(now); err != nil {
			log.Printf("Engine | stamping daily window: %v", err)
		}
		return
	}
	if sameUTCDay(last, now) {
		return
	}
	prev := e.store.DailyPnL()
	if err := e.store.ResetDaily(now); err != nil {
		log.Printf("Engine | daily reset: %v", err)
		return
	}
	e.dailyStopNotified = false
	metrics.SetDailyPnL(0)
	log.Printf("Engine | UTC day rolled over, daily pnl reset (closed day %+.2f USD)", prev)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// heartbeat logs a liveness line and refreshes account-level gauges.
func (e *Engine) heartbeat(ctx context.Context, now time.Time) {
	wait := tfutils.UntilNextBoundary(now, e.tf)
	open := e.store.OpenCount()
	log.Printf("Engine | alive: %d open, daily %+.2f USD, next candle in %s",
		open, e.store.DailyPnL(), wait.Round(time.Second))

	bal, err := e.cli.FetchBalance(ctx)
	if err != nil {
		log.Printf("Engine | heartbeat balance fetch: %v", err)
		return
	}
	metrics.SetBalance(bal.Total)
	metrics.SetDailyPnL(e.store.DailyPnL())
	metrics.SetOpenPositions(open)
	metrics.SetTotalExposure(risk.TotalExposure(e.store.Positions()))

	equity := bal.Total
	if infos, err := e.cli.FetchPositions(ctx); err == nil {
		for _, info := range infos {
			equity += info.UnrealizedPnL
		}
	}
	metrics.SetEquity(equity)
}
