package engine

import (
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/clock"
	"github.com/amirphl/sniper-trader/internal/config"
	"github.com/amirphl/sniper-trader/internal/db"
	"github.com/amirphl/sniper-trader/internal/exchange"
	"github.com/amirphl/sniper-trader/internal/indicator"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/state"
	"github.com/amirphl/sniper-trader/internal/strategy"
)

// testStart sits 10s past a 15m boundary so the cycle window is already
// open on the first tick.
var testStart = time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)

type spyNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (s *spyNotifier) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *spyNotifier) SendWithRetry(msg string) error { return s.Send(msg) }

func (s *spyNotifier) RetryWithNotification(action func() error, description string) error {
	return action()
}

func (s *spyNotifier) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	copy(out, s.msgs)
	return out
}

type testRig struct {
	eng   *Engine
	cfg   *config.Config
	mock  *exchange.Mock
	store *state.Store
	mem   *db.Memory
	spy   *spyNotifier
	clk   *clock.Fake
}

func newTestRig(t *testing.T, mutate func(cfg *config.Config)) *testRig {
	t.Helper()

	cfg := config.Defaults()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")
	if mutate != nil {
		mutate(&cfg)
	}
	settings := config.NewSettings(&cfg)

	store, err := state.Open(cfg.StateFile)
	require.NoError(t, err)

	clk := clock.NewFake(testStart)
	mock := exchange.NewMock()
	mock.SetNow(clk.Now)
	mock.SetBalance(market.Balance{Asset: "USDT", Available: 1000, Total: 1000})

	mem := db.NewMemory()
	spy := &spyNotifier{}

	eng, err := New(&cfg, settings, mock, store, mem, spy, clk)
	require.NoError(t, err)

	return &testRig{eng: eng, cfg: &cfg, mock: mock, store: store, mem: mem, spy: spy, clk: clk}
}

// openPosition installs a tracked position along with its venue twin so
// monitor and executor paths see a consistent picture.
func (r *testRig) openPosition(t *testing.T, sym string, dir position.Side, entry, size, stop, atr float64) *position.Position {
	t.Helper()
	pos := position.New(sym, dir, entry, size, stop, atr, r.cfg.Leverage, r.cfg.LadderNames(), r.clk.Now())
	require.NoError(t, r.store.SetPosition(sym, pos))
	r.mock.SeedPosition(market.PositionInfo{
		Symbol:     sym,
		Side:       string(dir),
		Size:       size,
		EntryPrice: entry,
		MarkPrice:  entry,
		Leverage:   r.cfg.Leverage,
	})
	return pos
}

// seedFlatCandles installs n identical candles. Flat data keeps every
// exit rule quiet, so cycle tests can hold a position across passes.
func (r *testRig) seedFlatCandles(sym string, n int, price float64) {
	base := testStart.Add(-time.Duration(n) * 15 * time.Minute)
	candles := make([]candle.Candle, n)
	for i := range candles {
		candles[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    100,
			Symbol:    sym,
			Timeframe: r.cfg.Timeframe,
		}
	}
	r.mock.SetCandles(sym, r.cfg.Timeframe, candles)
}

// seedOscillatingCandles installs candles whose closes alternate around
// price by swing. Every indicator column comes out defined and the true
// range is a constant 2.5*swing, so the resulting ATR is predictable.
func (r *testRig) seedOscillatingCandles(sym string, n int, price, swing float64) {
	base := testStart.Add(-time.Duration(n) * 15 * time.Minute)
	candles := make([]candle.Candle, n)
	for i := range candles {
		cl := price + swing
		if i%2 == 1 {
			cl = price - swing
		}
		candles[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price,
			High:      cl + swing/2,
			Low:       cl - swing/2,
			Close:     cl,
			Volume:    100,
			Symbol:    sym,
			Timeframe: r.cfg.Timeframe,
		}
	}
	r.mock.SetCandles(sym, r.cfg.Timeframe, candles)
}

func nan() float64 { return math.NaN() }

func constCol(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// flatDataset hand-builds an indicator set that is benign for the given
// direction: every exit rule stays quiet until a test perturbs the one
// dimension it is probing.
func flatDataset(n int, price float64, dir position.Side) *strategy.Dataset {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]candle.Candle, n)
	for i := range candles {
		candles[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			Volume:    100,
			Symbol:    "BTCUSDT",
			Timeframe: "15m",
		}
	}
	ds := &strategy.Dataset{
		Candles:  candles,
		RSI:      constCol(n, 55),
		ADX:      constCol(n, 20),
		ATR:      constCol(n, 1),
		VolSMA20: constCol(n, 100),
	}
	if dir == position.Long {
		ds.EMA9 = constCol(n, price-0.5)
		ds.EMA20 = constCol(n, price-1)
		ds.EMA21 = constCol(n, price-0.8)
		ds.EMA50 = constCol(n, price-2)
		ds.MACD = &indicator.MACDResult{
			Line:      constCol(n, 0.6),
			Signal:    constCol(n, 0.1),
			Histogram: constCol(n, 0.5),
		}
	} else {
		ds.EMA9 = constCol(n, price+0.5)
		ds.EMA20 = constCol(n, price+1)
		ds.EMA21 = constCol(n, price+0.8)
		ds.EMA50 = constCol(n, price+2)
		ds.MACD = &indicator.MACDResult{
			Line:      constCol(n, -0.6),
			Signal:    constCol(n, -0.1),
			Histogram: constCol(n, -0.5),
		}
	}
	return ds
}
