package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/order"
	"github.com/amirphl/sniper-trader/internal/position"
)

func TestMonitorSettlesWhenVenueFlat(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := position.New("BTCUSDT", position.Long, 100, 1, 99, 1, 3, rig.cfg.LadderNames(), rig.clk.Now())
	require.NoError(t, rig.store.SetPosition("BTCUSDT", pos))

	rig.eng.monitorPositions(ctx, rig.clk.Now())

	assert.Nil(t, rig.store.Position("BTCUSDT"))
	closures, err := rig.mem.Closures(ctx, "BTCUSDT", time.Time{}, rig.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, reasonStopFilled, closures[0].Reason)
	assert.InDelta(t, 99.0, closures[0].ExitPrice, 1e-9, "settles at the stop price")
	net := -1.0 - (100+99)*1*rig.cfg.CommissionRate
	assert.InDelta(t, net, closures[0].PnLUSD, 1e-9)
	assert.InDelta(t, net, rig.store.DailyPnL(), 1e-9)
	assert.True(t, rig.store.InCooldown("BTCUSDT", rig.clk.Now(), rig.cfg.SymbolCooldown))
}

func TestMonitorAdoptsVenueSizeDrift(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := rig.openPosition(t, "BTCUSDT", position.Long, 100, 1, 97, 1)
	rig.mock.SeedPosition(market.PositionInfo{
		Symbol: "BTCUSDT", Side: "LONG", Size: 0.6, EntryPrice: 100, MarkPrice: 100, Leverage: 3,
	})

	rig.eng.monitorPositions(ctx, rig.clk.Now())

	assert.InDelta(t, 0.6, pos.Size, 1e-9)
	assert.NotNil(t, rig.store.Position("BTCUSDT"))
}

func TestMonitorBreakevenMove(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	long := rig.openPosition(t, "BTCUSDT", position.Long, 100, 1, 98.2, 1)
	short := rig.openPosition(t, "ETHUSDT", position.Short, 100, 1, 101.8, 1)
	rig.mock.SetPrice("BTCUSDT", 100.28)
	rig.mock.SetPrice("ETHUSDT", 99.72)

	rig.eng.monitorPositions(ctx, rig.clk.Now())

	// +0.28% at 3x leverage is +0.84% ROI, past the 0.8% trigger, while
	// the first ladder level at +0.3% has not paid yet.
	assert.InDelta(t, 100.2, long.StopPrice, 1e-9)
	assert.Equal(t, 1, long.SLMovedCount)
	assert.InDelta(t, 99.8, short.StopPrice, 1e-9)
	assert.Equal(t, 1, short.SLMovedCount)
	assert.False(t, long.Partials["P1"])

	// Once at breakeven the trigger never re-fires.
	rig.eng.monitorPositions(ctx, rig.clk.Now())
	assert.Equal(t, 1, long.SLMovedCount)
	assert.InDelta(t, 100.2, long.StopPrice, 1e-9)
}

func TestMonitorEarlyInvalidationCutsAtMarket(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	pos := rig.openPosition(t, "BTCUSDT", position.Short, 100, 1, 103.5, 2)
	rig.mock.SetPrice("BTCUSDT", 104)

	rig.eng.monitorPositions(ctx, rig.clk.Now())

	assert.Nil(t, rig.store.Position("BTCUSDT"))
	closures, err := rig.mem.Closures(ctx, "BTCUSDT", time.Time{}, rig.clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, reasonEarlyInvalid, closures[0].Reason)
	assert.InDelta(t, 104.0, closures[0].ExitPrice, 1e-9)
	net := -4.0 - (100+104)*1*rig.cfg.CommissionRate
	assert.InDelta(t, net, closures[0].PnLUSD, 1e-9)
	_ = pos
}

func TestMonitorSweepsOrphansWhenFlat(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	seedStop := func(sym string) {
		_, err := rig.mock.SubmitOrder(ctx, order.Request{
			Symbol: sym, Side: order.Sell, Type: order.StopMarket, StopPrice: 97, ClosePosition: true,
		})
		require.NoError(t, err)
	}
	seedStop("BTCUSDT")
	seedStop("ETHUSDT")

	rig.eng.monitorPositions(ctx, rig.clk.Now())
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, rig.mock.CanceledAll())

	// Inside the throttle window nothing more is swept.
	seedStop("SOLUSDT")
	rig.clk.Advance(10 * time.Second)
	rig.eng.monitorPositions(ctx, rig.clk.Now())
	assert.Len(t, rig.mock.CanceledAll(), 2)

	rig.clk.Advance(25 * time.Second)
	rig.eng.monitorPositions(ctx, rig.clk.Now())
	assert.Contains(t, rig.mock.CanceledAll(), "SOLUSDT")
}

func TestMonitorIgnoresUnmanagedVenuePositions(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.openPosition(t, "BTCUSDT", position.Long, 100, 1, 97, 1)
	// Someone's manual trade on another symbol.
	rig.mock.SeedPosition(market.PositionInfo{
		Symbol: "ETHUSDT", Side: "LONG", Size: 2, EntryPrice: 50, MarkPrice: 50, Leverage: 3,
	})

	rig.eng.monitorPositions(ctx, rig.clk.Now())

	assert.Empty(t, rig.mock.Submitted())
	assert.Nil(t, rig.store.Position("ETHUSDT"))
	assert.NotNil(t, rig.store.Position("BTCUSDT"))
}
