package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/amirphl/sniper-trader/internal/db/conf"
	"github.com/amirphl/sniper-trader/internal/journal"
)

// Journal writes run in the trading loop's shadow; cap them so a slow
// database can never stall a tick.
const writeTimeout = 5 * time.Second

type txKey struct{}

// WithTransaction adds a transaction to the context.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or nil if absent.
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Postgres is the production Storage.
type Postgres struct {
	db *sql.DB
}

// New wraps an existing connection, typically one built by conf for tests.
func New(c conf.Config) (*Postgres, error) {
	return &Postgres{db: c.DB}, nil
}

// Open connects and verifies the connection.
func Open(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) GetDB() *sql.DB { return p.db }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies a schema file statement by statement.
func (p *Postgres) Migrate(ctx context.Context, schemaSQL string) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

// executeWithTransaction uses the context's transaction when present,
// otherwise wraps fn in its own.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Postgres) LogOpen(e journal.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades_opened
				(opened_at, symbol, direction, entry_price, size, margin_usd, exposure_usd, leverage, criteria)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			e.Time.UTC(), e.Symbol, e.Direction,
			decimal.NewFromFloat(e.EntryPrice), decimal.NewFromFloat(e.Size),
			decimal.NewFromFloat(e.MarginUSD), decimal.NewFromFloat(e.ExposureUSD),
			e.Leverage, e.Criteria)
		if err != nil {
			return fmt.Errorf("insert opened trade %s: %w", e.Symbol, err)
		}
		return nil
	})
}

func (p *Postgres) LogClose(c journal.Closure) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades_closed
				(closed_at, symbol, direction, exit_price, pnl_usd, margin_usd, leverage, exposure_usd, duration_sec, reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			c.Time.UTC(), c.Symbol, c.Direction,
			decimal.NewFromFloat(c.ExitPrice), decimal.NewFromFloat(c.PnLUSD),
			decimal.NewFromFloat(c.MarginUSD), c.Leverage,
			decimal.NewFromFloat(c.ExposureUSD), int64(c.Duration.Seconds()), c.Reason)
		if err != nil {
			return fmt.Errorf("insert closed trade %s: %w", c.Symbol, err)
		}
		return nil
	})
}

func (p *Postgres) LogEvent(ev journal.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (occurred_at, type, symbol, description)
			VALUES ($1,$2,$3,$4)`,
			ev.Time.UTC(), ev.Type, ev.Symbol, ev.Description)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Type, err)
		}
		return nil
	})
}

func (p *Postgres) Entries(ctx context.Context, symbol string, start, end time.Time) ([]journal.Entry, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT opened_at, symbol, direction, entry_price, size, margin_usd, exposure_usd, leverage, criteria
		FROM trades_opened
		WHERE ($1 = '' OR symbol = $1) AND opened_at >= $2 AND opened_at <= $3
		ORDER BY opened_at ASC`,
		symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query opened trades: %w", err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var e journal.Entry
		var entryPrice, size, margin, exposure decimal.Decimal
		if err := rows.Scan(&e.Time, &e.Symbol, &e.Direction, &entryPrice, &size, &margin, &exposure, &e.Leverage, &e.Criteria); err != nil {
			return nil, fmt.Errorf("scan opened trade: %w", err)
		}
		e.EntryPrice = entryPrice.InexactFloat64()
		e.Size = size.InexactFloat64()
		e.MarginUSD = margin.InexactFloat64()
		e.ExposureUSD = exposure.InexactFloat64()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Closures(ctx context.Context, symbol string, start, end time.Time) ([]journal.Closure, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT closed_at, symbol, direction, exit_price, pnl_usd, margin_usd, leverage, exposure_usd, duration_sec, reason
		FROM trades_closed
		WHERE ($1 = '' OR symbol = $1) AND closed_at >= $2 AND closed_at <= $3
		ORDER BY closed_at ASC`,
		symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var out []journal.Closure
	for rows.Next() {
		var c journal.Closure
		var exitPrice, pnl, margin, exposure decimal.Decimal
		var durationSec int64
		if err := rows.Scan(&c.Time, &c.Symbol, &c.Direction, &exitPrice, &pnl, &margin, &c.Leverage, &exposure, &durationSec, &c.Reason); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		c.ExitPrice = exitPrice.InexactFloat64()
		c.PnLUSD = pnl.InexactFloat64()
		c.MarginUSD = margin.InexactFloat64()
		c.ExposureUSD = exposure.InexactFloat64()
		c.Duration = time.Duration(durationSec) * time.Second
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) Events(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT occurred_at, type, symbol, description
		FROM events
		WHERE ($1 = '' OR type = $1) AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at ASC`,
		eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var ev journal.Event
		if err := rows.Scan(&ev.Time, &ev.Type, &ev.Symbol, &ev.Description); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
