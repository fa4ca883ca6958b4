// Package order defines the venue-agnostic order model passed between the
// engine and the exchange client.
package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side is the order direction on the book.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the crossing side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Type is the venue order type.
type Type string

const (
	Market           Type = "MARKET"
	StopMarket       Type = "STOP_MARKET"
	TakeProfitMarket Type = "TAKE_PROFIT_MARKET"
)

// Request represents a new order to be submitted. Quantity is in base
// units; StopPrice applies to the stop and take-profit types.
// ClosePosition orders close whatever is open and carry no quantity.
type Request struct {
	Symbol        string
	Side          Side
	Type          Type
	Quantity      float64
	StopPrice     float64
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string
}

// NewClientOrderID tags an order so fills can be traced back through the
// journal and the venue's order history.
func NewClientOrderID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:18])
}

// Result represents the venue's response to a submitted order.
type Result struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          Type
	Status        string
	ExecutedQty   float64
	AvgPrice      float64
	StopPrice     float64
	Time          time.Time
}

// Filled reports whether the venue executed any quantity.
func (r Result) Filled() bool {
	return r.ExecutedQty > 0
}

// FillPrice returns the average fill price when the venue reported one,
// else the fallback. Market closes settle against this so realized PnL
// reflects actual fills whenever possible.
func (r Result) FillPrice(fallback float64) float64 {
	if r.AvgPrice > 0 {
		return r.AvgPrice
	}
	return fallback
}

// StatusAlreadyClosed marks a close that found no position behind it: the
// venue rejected the reduce-only order and a position check confirmed
// nothing remains. Callers treat it as a completed close with no fill.
const StatusAlreadyClosed = "ALREADY_CLOSED"
