package tuner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/sniper-trader/internal/config"
)

func newTestTuner(risk, atrMin float64) *Tuner {
	settings := config.NewSettings(&config.Config{RiskPerTradePct: risk, ATRMinPct: atrMin})
	return New(settings)
}

func fillTrades(t *Tuner, pnls []float64) {
	now := time.Now()
	for _, p := range pnls {
		t.UpdateTrade(p, 0.01, now, "BTCUSDT", TradeSummary{})
	}
}

func TestNoTuningBelowWindow(t *testing.T) {
	tun := newTestTuner(0.01, 0.20)
	fillTrades(tun, make([]float64, 19)) // 19 flat trades
	assert.Equal(t, 0.01, tun.RiskPerTrade())
	assert.Equal(t, 0.20, tun.ATRMinPct())
}

func TestRiskScalesUpOnHighSharpe(t *testing.T) {
	tun := newTestTuner(0.01, 0.20)
	// Identical positive outcomes give zero std, so vary slightly while
	// keeping mean/std far above 2.
	pnls := make([]float64, windowSize)
	for i := range pnls {
		pnls[i] = 0.01
		if i%2 == 0 {
			pnls[i] = 0.012
		}
	}
	fillTrades(tun, pnls)
	assert.InDelta(t, 0.01*1.05, tun.RiskPerTrade(), 1e-9)
	// Win rate is 100%, so the ATR floor relaxes toward its minimum.
	assert.InDelta(t, 0.20*0.95, tun.ATRMinPct(), 1e-9)
}

func TestRiskScalesDownOnPoorSharpe(t *testing.T) {
	tun := newTestTuner(0.01, 0.20)
	pnls := make([]float64, windowSize)
	for i := range pnls {
		pnls[i] = -0.01
		if i%4 == 0 {
			pnls[i] = 0.002
		}
	}
	fillTrades(tun, pnls)
	assert.InDelta(t, 0.01*0.9, tun.RiskPerTrade(), 1e-9)
	// Win rate 25% tightens the ATR floor.
	assert.InDelta(t, 0.20*1.1, tun.ATRMinPct(), 1e-9)
}

func TestKnobsStayWithinBounds(t *testing.T) {
	tun := newTestTuner(0.0199, 0.49)
	pnls := make([]float64, windowSize)
	for i := range pnls {
		pnls[i] = 0.01
		if i%2 == 0 {
			pnls[i] = 0.012
		}
	}
	// Repeated winning windows must clamp risk at 2%.
	for i := 0; i < 10; i++ {
		fillTrades(tun, pnls)
	}
	assert.InDelta(t, 0.02, tun.RiskPerTrade(), 1e-9)
	assert.GreaterOrEqual(t, tun.ATRMinPct(), 0.1)

	losing := newTestTuner(0.0051, 0.20)
	bad := make([]float64, windowSize)
	for i := range bad {
		bad[i] = -0.01
	}
	for i := 0; i < 10; i++ {
		fillTrades(losing, bad)
	}
	assert.InDelta(t, 0.005, losing.RiskPerTrade(), 1e-9)
	assert.LessOrEqual(t, losing.ATRMinPct(), 0.5)
}

func TestHistoryCapped(t *testing.T) {
	tun := newTestTuner(0.01, 0.20)
	fillTrades(tun, make([]float64, historyCap+25))
	snap := tun.Snapshot()
	assert.Len(t, snap.History, historyCap)
}

func TestPartialLifecycle(t *testing.T) {
	tun := newTestTuner(0.01, 0.20)
	now := time.Now()

	tun.UpdatePartial("BTCUSDT", "P1", 1.5, now)
	tun.UpdatePartial("BTCUSDT", "P2", 2.0, now)
	tun.UpdatePartial("ETHUSDT", "P1", 0.8, now)

	snap := tun.Snapshot()
	require.Len(t, snap.ActivePartials["BTCUSDT"], 2)
	require.Len(t, snap.ActivePartials["ETHUSDT"], 1)
	assert.Equal(t, "P2", snap.ActivePartials["BTCUSDT"][1].Level)

	// Closing the trade clears its partial trail.
	tun.UpdateTrade(0.02, 0.01, now, "BTCUSDT", TradeSummary{LevelsHit: []string{"P1", "P2"}})
	snap = tun.Snapshot()
	assert.NotContains(t, snap.ActivePartials, "BTCUSDT")
	assert.Contains(t, snap.ActivePartials, "ETHUSDT")

	// Reconciliation cleanup for ghosts.
	tun.ClearPartials("ETHUSDT")
	snap = tun.Snapshot()
	assert.NotContains(t, snap.ActivePartials, "ETHUSDT")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tun := newTestTuner(0.01, 0.20)
	now := time.Now()
	tun.UpdatePartial("BTCUSDT", "P1", 1.0, now)
	fillTrades(tun, []float64{0.01, -0.02, 0.005})

	snap := tun.Snapshot()

	restored := newTestTuner(0.015, 0.30)
	restored.Restore(snap)
	got := restored.Snapshot()
	assert.Equal(t, snap.History, got.History)
	assert.Equal(t, snap.ActivePartials, got.ActivePartials)
	assert.Equal(t, snap.RiskPerTrade, got.RiskPerTrade)
	assert.Equal(t, snap.ATRMinPct, got.ATRMinPct)
}

func TestRestoreKeepsBaselinesOnEmptySnapshot(t *testing.T) {
	tun := newTestTuner(0.01, 0.20)
	tun.Restore(Snapshot{})
	assert.Equal(t, 0.01, tun.RiskPerTrade())
	assert.Equal(t, 0.20, tun.ATRMinPct())
}
