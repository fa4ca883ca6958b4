package db

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconf "github.com/amirphl/sniper-trader/internal/db/conf"
	"github.com/amirphl/sniper-trader/internal/journal"
)

func newTestStorage(t *testing.T) *Postgres {
	t.Helper()
	cfg, cleanup := dbconf.NewTestConfig(t)
	require.NotNil(t, cfg)
	t.Cleanup(cleanup)

	p, err := New(*cfg)
	require.NoError(t, err)
	return p
}

func TestPostgresTradeRoundTrip(t *testing.T) {
	p := newTestStorage(t)
	ctx := context.Background()

	openedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, p.LogOpen(journal.Entry{
		Time: openedAt, Symbol: "BTCUSDT", Direction: "LONG",
		EntryPrice: 50123.5, Size: 0.012,
		MarginUSD: 120.3, ExposureUSD: 601.48, Leverage: 5,
		Criteria: "Trend=pass; ADX=27.31",
	}))

	closedAt := openedAt.Add(95 * time.Minute)
	require.NoError(t, p.LogClose(journal.Closure{
		Time: closedAt, Symbol: "BTCUSDT", Direction: "LONG",
		ExitPrice: 50700.1, PnLUSD: 6.9192,
		MarginUSD: 120.3, Leverage: 5, ExposureUSD: 601.48,
		Duration: 95 * time.Minute, Reason: "trailing_stop",
	}))

	start := openedAt.Add(-time.Hour)
	end := closedAt.Add(time.Hour)

	entries, err := p.Entries(ctx, "BTCUSDT", start, end)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Time.Equal(openedAt))
	assert.Equal(t, 50123.5, entries[0].EntryPrice)
	assert.Equal(t, 0.012, entries[0].Size)
	assert.Equal(t, 5, entries[0].Leverage)
	assert.Equal(t, "Trend=pass; ADX=27.31", entries[0].Criteria)

	closures, err := p.Closures(ctx, "BTCUSDT", start, end)
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, 6.9192, closures[0].PnLUSD)
	assert.Equal(t, 95*time.Minute, closures[0].Duration)
	assert.Equal(t, "trailing_stop", closures[0].Reason)

	none, err := p.Entries(ctx, "ETHUSDT", start, end)
	require.NoError(t, err)
	assert.Empty(t, none, "symbol filter must apply")

	all, err := p.Entries(ctx, "", start, end)
	require.NoError(t, err)
	assert.Len(t, all, 1, "empty symbol matches all")
}

func TestPostgresEventFilters(t *testing.T) {
	p := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	events := []journal.Event{
		{Time: base, Type: "reconcile", Symbol: "BTCUSDT", Description: "adopted orphan"},
		{Time: base.Add(time.Minute), Type: "health", Description: "paused, latency 912ms"},
		{Time: base.Add(2 * time.Minute), Type: "reconcile", Symbol: "ETHUSDT", Description: "removed ghost"},
	}
	for _, ev := range events {
		require.NoError(t, p.LogEvent(ev))
	}

	recon, err := p.Events(ctx, "reconcile", base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, recon, 2)
	assert.Equal(t, "BTCUSDT", recon[0].Symbol)
	assert.Equal(t, "ETHUSDT", recon[1].Symbol)

	windowed, err := p.Events(ctx, "", base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, windowed, 2, "window bounds are inclusive")
}
