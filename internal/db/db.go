// Package db persists the trade journal to Postgres, with an in-memory
// implementation for tests.
package db

import (
	"context"
	"time"

	"github.com/amirphl/sniper-trader/internal/journal"
)

// Storage is a journal sink that can also be queried back.
type Storage interface {
	journal.Journaler

	// Entries returns opened trades in [start, end]. Empty symbol matches all.
	Entries(ctx context.Context, symbol string, start, end time.Time) ([]journal.Entry, error)
	// Closures returns settled trades in [start, end]. Empty symbol matches all.
	Closures(ctx context.Context, symbol string, start, end time.Time) ([]journal.Closure, error)
	// Events returns operational events in [start, end]. Empty type matches all.
	Events(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error)
}
