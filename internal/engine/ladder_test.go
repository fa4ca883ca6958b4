package engine

import (
	"context"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/position"
)

func TestRunLadderBanksLevelsInOrder(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rate := rig.cfg.CommissionRate

	pos := rig.openPosition(t, "BTCUSDT", position.Long, 100, 10, 94, 2)

	// Below P1 nothing happens.
	rig.mock.SetPrice("BTCUSDT", 100.2)
	assert.False(t, rig.eng.runLadder(ctx, pos, 100.2, false))
	assert.Empty(t, rig.mock.Submitted())

	// P1 at +0.35%: one slice off, stop nudged past entry.
	rig.mock.SetPrice("BTCUSDT", 100.35)
	require.True(t, rig.eng.runLadder(ctx, pos, 100.35, false))

	net1 := 0.35*0.5 - (100+100.35)*0.5*rate
	assert.True(t, pos.Partials["P1"])
	assert.False(t, pos.Partials["P2"], "one level per pass")
	assert.InDelta(t, 9.5, pos.Size, 1e-9)
	assert.InDelta(t, net1, pos.AccumulatedPnL, 1e-9)
	assert.InDelta(t, net1, rig.store.DailyPnL(), 1e-9)
	assert.InDelta(t, 100.1, pos.StopPrice, 1e-9)
	assert.Equal(t, 1, pos.SLMovedCount)
	assert.Equal(t, 1, rig.store.TradeCount())

	// Same mark again: P2 needs +0.4%.
	assert.False(t, rig.eng.runLadder(ctx, pos, 100.35, false))

	// P2 at +0.45%: the stop anchors to P1's trigger.
	rig.mock.SetPrice("BTCUSDT", 100.45)
	require.True(t, rig.eng.runLadder(ctx, pos, 100.45, false))

	net2 := 0.45*0.475 - (100+100.45)*0.475*rate
	assert.True(t, pos.Partials["P2"])
	assert.InDelta(t, 9.025, pos.Size, 1e-9)
	assert.InDelta(t, net1+net2, pos.AccumulatedPnL, 1e-9)
	assert.InDelta(t, net1+net2, rig.store.DailyPnL(), 1e-9)
	assert.InDelta(t, 100.3, pos.StopPrice, 1e-9)
	assert.Equal(t, 2, pos.SLMovedCount)

	closures, err := rig.mem.Closures(ctx, "BTCUSDT", time.Time{}, rig.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closures, 2)
	assert.Equal(t, "Partial P1", closures[0].Reason)
	assert.Equal(t, "Partial P2", closures[1].Reason)
	assert.InDelta(t, net1, closures[0].PnLUSD, 1e-9)
	assert.InDelta(t, net2, closures[1].PnLUSD, 1e-9)

	// The position itself is still open.
	assert.NotNil(t, rig.store.Position("BTCUSDT"))
}

func TestRunLadderDynamicLevels(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := rig.openPosition(t, "BTCUSDT", position.Long, 100, 10, 94, 2)
	for _, name := range rig.cfg.LadderNames() {
		pos.Partials[name] = true
	}
	require.NoError(t, rig.store.SetPosition("BTCUSDT", pos))

	// D1 triggers at +1.1%: start pct plus one step.
	rig.mock.SetPrice("BTCUSDT", 101.15)
	require.True(t, rig.eng.runLadder(ctx, pos, 101.15, false))

	assert.Equal(t, 1, pos.DynamicLevel)
	assert.InDelta(t, 9.5, pos.Size, 1e-9)
	assert.InDelta(t, 101.0, pos.StopPrice, 1e-9, "stop anchors to the dynamic start pct")

	closures, err := rig.mem.Closures(ctx, "BTCUSDT", time.Time{}, rig.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, "Partial D1", closures[0].Reason)

	// D2 needs +1.2%; the same mark no longer pays.
	assert.False(t, rig.eng.runLadder(ctx, pos, 101.15, false))
	assert.Equal(t, 1, pos.DynamicLevel)
}

func TestRunLadderDustEscalatesToFullClose(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rate := rig.cfg.CommissionRate

	pos := rig.openPosition(t, "BTCUSDT", position.Long, 100, 0.04, 97, 1)
	rig.mock.SetPrice("BTCUSDT", 100.35)

	require.True(t, rig.eng.runLadder(ctx, pos, 100.35, false))

	assert.Nil(t, rig.store.Position("BTCUSDT"), "dust escalation closes the whole position")
	closures, err := rig.mem.Closures(ctx, "BTCUSDT", time.Time{}, rig.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, "Partial P1 (dust)", closures[0].Reason)
	assert.InDelta(t, 100.35, closures[0].ExitPrice, 1e-9)
	net := 0.35*0.04 - (100+100.35)*0.04*rate
	assert.InDelta(t, net, closures[0].PnLUSD, 1e-9)
	assert.True(t, rig.store.InCooldown("BTCUSDT", rig.clk.Now(), rig.cfg.SymbolCooldown))
}

func TestRunLadderFailedCloseResyncsSize(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := rig.openPosition(t, "BTCUSDT", position.Long, 100, 10, 94, 2)
	// The venue remembers a smaller position than we do.
	rig.mock.SeedPosition(market.PositionInfo{
		Symbol: "BTCUSDT", Side: "LONG", Size: 8, EntryPrice: 100, MarkPrice: 100.35, Leverage: 3,
	})
	rig.mock.FailWith("SubmitOrder", &common.APIError{Code: -4131, Message: "counterparty price outside limits"})

	require.True(t, rig.eng.runLadder(ctx, pos, 100.35, false))

	assert.InDelta(t, 8.0, pos.Size, 1e-9, "size adopted from the venue")
	assert.False(t, pos.Partials["P1"], "the level is not burned on a failed close")
	assert.Zero(t, pos.AccumulatedPnL)
	assert.NotNil(t, rig.store.Position("BTCUSDT"))
}

func TestRunLadderSettlesWhenVenueGone(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := position.New("BTCUSDT", position.Long, 100, 10, 94, 2, 3, rig.cfg.LadderNames(), rig.clk.Now())
	require.NoError(t, rig.store.SetPosition("BTCUSDT", pos))

	// The reduce-only slice bounces off a flat venue, and the resync finds
	// nothing there: the stop must have filled.
	require.True(t, rig.eng.runLadder(ctx, pos, 100.35, false))

	assert.Nil(t, rig.store.Position("BTCUSDT"))
	closures, err := rig.mem.Closures(ctx, "BTCUSDT", time.Time{}, rig.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, reasonStopFilled, closures[0].Reason)
	assert.InDelta(t, 94.0, closures[0].ExitPrice, 1e-9)
	net := -6.0*10 - (100+94)*10*rig.cfg.CommissionRate
	assert.InDelta(t, net, closures[0].PnLUSD, 1e-9)
	assert.InDelta(t, net, rig.store.DailyPnL(), 1e-9)
}
