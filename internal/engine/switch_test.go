package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/sniper-trader/internal/position"
)

func TestPositionHealthScoring(t *testing.T) {
	now := testStart

	t.Run("fresh aligned winner", func(t *testing.T) {
		ds := flatDataset(120, 100, position.Long)
		pos := position.New("BTCUSDT", position.Long, 99, 1, 96, 1, 3, nil, now.Add(-10*time.Minute))
		pos.PnLHistory = []float64{0.001, 0.002}

		// 30 trajectory + 10 MACD + 8 RSI + 7 EMA + 20 fresh.
		assert.Equal(t, 75, positionHealth(pos, ds, 100, now))

		pos.SLMovedCount = 1
		assert.Equal(t, 90, positionHealth(pos, ds, 100, now))
		pos.SLMovedCount = 3
		assert.Equal(t, 100, positionHealth(pos, ds, 100, now))
	})

	t.Run("aged misaligned loser", func(t *testing.T) {
		ds := flatDataset(120, 100, position.Short)
		ds.RSI[ds.ClosedIndex()] = 75
		pos := position.New("BTCUSDT", position.Long, 101, 1, 98, 1, 3, nil, now.Add(-40*time.Minute))
		pos.PnLHistory = []float64{-0.002, -0.004}

		assert.Equal(t, 0, positionHealth(pos, ds, 100, now))
	})
}

func TestConsiderSwitchKeepGuards(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := rig.openPosition(t, "BTCUSDT", position.Long, 100, 10, 94, 2)
	rig.eng.cycleData["BTCUSDT"] = flatDataset(120, 100, position.Long)
	cand := longCandidate("ETHUSDT", 50, 1, 100)

	// Fresh position: held outright.
	rig.eng.considerSwitch(ctx, cand, rig.clk.Now())
	assert.NotNil(t, rig.store.Position("BTCUSDT"))
	assert.Nil(t, rig.store.Position("ETHUSDT"))
	assert.Empty(t, rig.mock.Submitted())

	// Aged but with banked stop moves: still held.
	pos.EntryTime = rig.clk.Now().Add(-40 * time.Minute)
	pos.SLMovedCount = 2
	require.NoError(t, rig.store.SetPosition("BTCUSDT", pos))

	rig.eng.considerSwitch(ctx, cand, rig.clk.Now())
	assert.NotNil(t, rig.store.Position("BTCUSDT"))
	assert.Empty(t, rig.mock.Submitted())
}

func TestConsiderSwitchSparesModerateHealth(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := rig.openPosition(t, "BTCUSDT", position.Long, 101, 10, 98, 1)
	pos.EntryTime = rig.clk.Now().Add(-40 * time.Minute)
	pos.PnLHistory = []float64{0.001, 0.002}
	require.NoError(t, rig.store.SetPosition("BTCUSDT", pos))

	// Rising PnL and partial alignment put health at 45: under the keep
	// line but over the victim cutoff.
	ds := flatDataset(120, 100, position.Long)
	ds.MACD.Line[ds.ClosedIndex()] = 0.05
	rig.eng.cycleData["BTCUSDT"] = ds

	rig.eng.considerSwitch(ctx, longCandidate("ETHUSDT", 50, 1, 100), rig.clk.Now())

	assert.NotNil(t, rig.store.Position("BTCUSDT"))
	assert.Nil(t, rig.store.Position("ETHUSDT"))
}

func weakVictimRig(t *testing.T) (*testRig, *position.Position) {
	t.Helper()
	rig := newTestRig(t, nil)

	pos := position.New("BTCUSDT", position.Long, 101, 10, 98, 1, 3, rig.cfg.LadderNames(), rig.clk.Now().Add(-40*time.Minute))
	pos.PnLHistory = []float64{-0.002, -0.004}
	require.NoError(t, rig.store.SetPosition("BTCUSDT", pos))

	ds := flatDataset(120, 100, position.Short)
	ds.RSI[ds.ClosedIndex()] = 75
	rig.eng.cycleData["BTCUSDT"] = ds
	return rig, pos
}

func TestConsiderSwitchNeedsDecisiveScore(t *testing.T) {
	rig, _ := weakVictimRig(t)
	ctx := context.Background()

	rig.eng.considerSwitch(ctx, longCandidate("ETHUSDT", 50, 1, 79), rig.clk.Now())

	assert.NotNil(t, rig.store.Position("BTCUSDT"))
	assert.Nil(t, rig.store.Position("ETHUSDT"))
	assert.Empty(t, rig.mock.Submitted())
}

func TestConsiderSwitchReplacesWeakPosition(t *testing.T) {
	rig, _ := weakVictimRig(t)
	ctx := context.Background()
	rig.mock.SetPrice("ETHUSDT", 50)

	rig.eng.considerSwitch(ctx, longCandidate("ETHUSDT", 50, 1, 85), rig.clk.Now())

	assert.Nil(t, rig.store.Position("BTCUSDT"))
	eth := rig.store.Position("ETHUSDT")
	require.NotNil(t, eth)
	assert.InDelta(t, 47.0, eth.StopPrice, 1e-9)

	closures, err := rig.mem.Closures(ctx, "BTCUSDT", time.Time{}, rig.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, reasonSwitch, closures[0].Reason)
	assert.InDelta(t, 100.0, closures[0].ExitPrice, 1e-9, "settles at the candle close used for scoring")
	net := (100.0-101.0)*10 - (101+100)*10*rig.cfg.CommissionRate
	assert.InDelta(t, net, closures[0].PnLUSD, 1e-9)
}

func TestConsiderSwitchAbortsWhenCloseFails(t *testing.T) {
	rig, _ := weakVictimRig(t)
	ctx := context.Background()

	rig.mock.FailWith("FetchPosition", errors.New("venue down"))
	rig.eng.considerSwitch(ctx, longCandidate("ETHUSDT", 50, 1, 85), rig.clk.Now())

	assert.NotNil(t, rig.store.Position("BTCUSDT"), "victim survives a failed close")
	assert.Nil(t, rig.store.Position("ETHUSDT"), "no doubled exposure after an aborted switch")
}
