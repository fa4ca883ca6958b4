// Package exchange binds the engine to the venue. The Client interface is
// everything the engine needs from a USD-M futures exchange; Binance is
// the production implementation.
package exchange

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/order"
)

// Client is the venue surface used by the engine. All calls are
// synchronous; retries are layered on top with Retrier.
type Client interface {
	Name() string
	ServerTime(ctx context.Context) (time.Time, error)

	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error)
	FetchMarkPrice(ctx context.Context, symbol string) (float64, error)
	FetchFundingRate(ctx context.Context, symbol string) (market.FundingRate, error)
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)

	FetchBalance(ctx context.Context) (market.Balance, error)
	FetchPositions(ctx context.Context) ([]market.PositionInfo, error)
	// FetchPosition returns nil when the venue reports no open position.
	FetchPosition(ctx context.Context, symbol string) (*market.PositionInfo, error)

	SubmitOrder(ctx context.Context, req order.Request) (order.Result, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error
	// OpenOrders lists resting orders. An empty symbol returns orders
	// across all symbols.
	OpenOrders(ctx context.Context, symbol string) ([]order.Result, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetIsolatedMargin(ctx context.Context, symbol string) error
	SetOneWayMode(ctx context.Context) error

	SymbolFilters(ctx context.Context, symbol string) (market.SymbolFilters, error)
}

// Retrier reruns transient venue failures with exponential backoff.
// Errors classified non-retryable (order rejections, auth failures) are
// returned immediately so the caller can run its own recovery.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
func (r Retrier) Do(ctx context.Context, name string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < attempts-1 {
			delay := r.BaseDelay << attempt
			log.Printf("Retrier | %s attempt %d/%d failed: %v, retrying in %v", name, attempt+1, attempts, lastErr, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", name, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s: after %d attempts: %w", name, attempts, lastErr)
}
