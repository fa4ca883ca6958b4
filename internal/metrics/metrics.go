// Package metrics exposes the engine's Prometheus instrumentation.
// Collectors are registered at init and served at /metrics.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	balanceUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_balance_usd",
		Help: "Futures wallet balance in USDT",
	})

	equityUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_equity_usd",
		Help: "Wallet balance plus unrealized PnL",
	})

	dailyPnLUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_daily_pnl_usd",
		Help: "Realized PnL since the daily reset",
	})

	openPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_open_positions",
		Help: "Positions currently open",
	})

	totalExposureUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_total_exposure_usd",
		Help: "Sum of open position notionals",
	})

	venueLatencyMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_venue_latency_ms",
		Help: "Round-trip latency of the venue clock probe",
	})

	paused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_paused",
		Help: "1 while entries are paused on degraded connectivity",
	})

	cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sniper_cycles_total",
		Help: "Strategy evaluation cycles run",
	})

	entriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_entries_total",
		Help: "Positions opened, by direction",
	}, []string{"direction"})

	exitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_exits_total",
		Help: "Positions closed, by exit reason",
	}, []string{"reason"})

	partialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_partial_closes_total",
		Help: "Partial profit-takes, by ladder level",
	}, []string{"level"})

	rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_entry_rejections_total",
		Help: "Entry candidates rejected, by gate",
	}, []string{"reason"})

	stopMovesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_stop_moves_total",
		Help: "Protective stop adjustments, by kind",
	}, []string{"kind"})

	reconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_reconciliations_total",
		Help: "State/venue reconciliation actions, by action",
	}, []string{"action"})

	switchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sniper_switches_total",
		Help: "Positions closed in favor of a stronger candidate",
	})

	healthPausesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sniper_health_pauses_total",
		Help: "Times entries were paused on degraded connectivity",
	})

	ordersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_orders_total",
		Help: "Orders submitted to the venue, by side and type",
	}, []string{"side", "type"})
)

func init() {
	prometheus.MustRegister(
		balanceUSD, equityUSD, dailyPnLUSD,
		openPositions, totalExposureUSD,
		venueLatencyMs, paused,
		cyclesTotal, entriesTotal, exitsTotal, partialsTotal,
		rejectionsTotal, stopMovesTotal, reconciliationsTotal,
		switchesTotal, healthPausesTotal, ordersTotal,
	)
}

func SetBalance(v float64)       { balanceUSD.Set(v) }
func SetEquity(v float64)        { equityUSD.Set(v) }
func SetDailyPnL(v float64)      { dailyPnLUSD.Set(v) }
func SetOpenPositions(n int)     { openPositions.Set(float64(n)) }
func SetTotalExposure(v float64) { totalExposureUSD.Set(v) }
func SetVenueLatency(ms float64) { venueLatencyMs.Set(ms) }

func SetPaused(v bool) {
	if v {
		paused.Set(1)
		return
	}
	paused.Set(0)
}

func IncCycle()                       { cyclesTotal.Inc() }
func IncEntry(direction string)       { entriesTotal.WithLabelValues(direction).Inc() }
func IncExit(reason string)           { exitsTotal.WithLabelValues(reason).Inc() }
func IncPartial(level string)         { partialsTotal.WithLabelValues(level).Inc() }
func IncRejection(reason string)      { rejectionsTotal.WithLabelValues(reason).Inc() }
func IncStopMove(kind string)         { stopMovesTotal.WithLabelValues(kind).Inc() }
func IncReconciliation(action string) { reconciliationsTotal.WithLabelValues(action).Inc() }
func IncSwitch()                      { switchesTotal.Inc() }
func IncHealthPause()                 { healthPausesTotal.Inc() }

func IncOrder(side, orderType string) { ordersTotal.WithLabelValues(side, orderType).Inc() }

// Serve starts the /metrics endpoint in the background and returns the
// server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("Metrics | listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics | server error: %v", err)
		}
	}()
	return srv
}
