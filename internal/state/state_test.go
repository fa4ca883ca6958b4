package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/tuner"
)

func tempStatePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "bot_state.json")
}

func TestOpenMissingFileStartsFresh(t *testing.T) {
	s, err := Open(tempStatePath(t))
	require.NoError(t, err)
	assert.Equal(t, 0, s.OpenCount())
	assert.Equal(t, 0.0, s.DailyPnL())
	assert.Equal(t, 0, s.TradeCount())
}

func TestOpenCorruptFileStartsFresh(t *testing.T) {
	path := tempStatePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.OpenCount())
}

func TestPositionsSurviveReload(t *testing.T) {
	path := tempStatePath(t)
	s, err := Open(path)
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := position.New("BTCUSDT", position.Long, 50000, 0.01, 49500, 400, 3,
		[]string{"P1", "P2"}, now)
	pos.Partials["P1"] = true
	require.NoError(t, s.SetPosition("BTCUSDT", pos))

	reloaded, err := Open(path)
	require.NoError(t, err)
	got := reloaded.Position("BTCUSDT")
	require.NotNil(t, got)
	assert.Equal(t, position.Long, got.Direction)
	assert.Equal(t, 50000.0, got.EntryPrice)
	assert.Equal(t, 49500.0, got.StopPrice)
	assert.True(t, got.Partials["P1"])
	assert.False(t, got.Partials["P2"])
	assert.True(t, got.EntryTime.Equal(now))

	require.NoError(t, reloaded.ClearPosition("BTCUSDT"))
	assert.Nil(t, reloaded.Position("BTCUSDT"))

	again, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, again.OpenCount())
}

func TestClearMissingPositionIsNoop(t *testing.T) {
	s, err := Open(tempStatePath(t))
	require.NoError(t, err)
	require.NoError(t, s.ClearPosition("ETHUSDT"))
}

func TestSymbolsSorted(t *testing.T) {
	s, err := Open(tempStatePath(t))
	require.NoError(t, err)

	now := time.Now()
	for _, sym := range []string{"SOLUSDT", "BTCUSDT", "ETHUSDT"} {
		p := position.New(sym, position.Short, 100, 1, 101, 1, 3, nil, now)
		require.NoError(t, s.SetPosition(sym, p))
	}
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, s.Symbols())
	assert.Equal(t, 3, s.OpenCount())
}

func TestDailyPnLAccumulatesAndResets(t *testing.T) {
	path := tempStatePath(t)
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.AddDailyPnL(12.5))
	require.NoError(t, s.AddDailyPnL(-4.0))
	assert.InDelta(t, 8.5, s.DailyPnL(), 1e-9)

	reset := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.ResetDaily(reset))
	assert.Equal(t, 0.0, s.DailyPnL())
	assert.True(t, s.LastReset().Equal(reset))

	reloaded, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reloaded.LastReset().Equal(reset))
}

func TestPruneTradeTimes(t *testing.T) {
	s, err := Open(tempStatePath(t))
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddTradeTime(now.Add(-2*time.Hour)))
	require.NoError(t, s.AddTradeTime(now.Add(-61*time.Minute)))
	require.NoError(t, s.AddTradeTime(now.Add(-30*time.Minute)))
	require.NoError(t, s.AddTradeTime(now.Add(-1*time.Minute)))

	kept, err := s.PruneTradeTimes(now)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)
	assert.Equal(t, 2, s.TradeCount())

	// Second prune removes nothing.
	kept, err = s.PruneTradeTimes(now)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)
}

func TestCooldownExpires(t *testing.T) {
	s, err := Open(tempStatePath(t))
	require.NoError(t, err)

	closed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastTrade("BTCUSDT", closed))

	cooldown := 30 * time.Minute
	assert.True(t, s.InCooldown("BTCUSDT", closed, cooldown))
	assert.True(t, s.InCooldown("BTCUSDT", closed.Add(29*time.Minute), cooldown))
	assert.False(t, s.InCooldown("BTCUSDT", closed.Add(30*time.Minute), cooldown))
	assert.False(t, s.InCooldown("BTCUSDT", closed.Add(31*time.Minute), cooldown))
	assert.False(t, s.InCooldown("ETHUSDT", closed, cooldown))
}

func TestTunerSnapshotRoundTrip(t *testing.T) {
	path := tempStatePath(t)
	s, err := Open(path)
	require.NoError(t, err)

	_, ok := s.TunerSnapshot()
	assert.False(t, ok)

	snap := tuner.Snapshot{
		RiskPerTrade: 0.012,
		ATRMinPct:    0.25,
		History: []tuner.Outcome{
			{PnL: 0.01, Time: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
	}
	require.NoError(t, s.SetTuner(snap))

	reloaded, err := Open(path)
	require.NoError(t, err)
	got, ok := reloaded.TunerSnapshot()
	require.True(t, ok)
	assert.Equal(t, 0.012, got.RiskPerTrade)
	assert.Equal(t, 0.25, got.ATRMinPct)
	require.Len(t, got.History, 1)
	assert.Equal(t, 0.01, got.History[0].PnL)
}
