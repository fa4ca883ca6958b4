// Package candle
package candle

import (
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/sniper-trader/internal/tfutils"
)

type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
}

// IsClosed reports whether the candle's interval has fully elapsed at now.
func (c *Candle) IsClosed(now time.Time) bool {
	candleEnd := c.Timestamp.Add(tfutils.GetTimeframeDuration(c.Timeframe))
	return !now.Before(candleEnd)
}

// Range returns the high-low extent of the candle.
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	if c.Timeframe == "" {
		return errors.New("candle timeframe cannot be empty")
	}
	return nil
}

// Series is a chronologically ascending run of candles for one symbol and
// timeframe. The last element is usually the still-forming candle.
type Series []Candle

func (s Series) Opens() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Open
	}
	return out
}

func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].High
	}
	return out
}

func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Low
	}
	return out
}

func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Volume
	}
	return out
}

// DropForming returns the series without its final (still-forming) candle.
func (s Series) DropForming() Series {
	if len(s) == 0 {
		return s
	}
	return s[:len(s)-1]
}

// Last returns the trailing n candles (all of them when n exceeds the length).
func (s Series) Last(n int) Series {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Validate checks every candle and ascending timestamps.
func (s Series) Validate() error {
	for i := range s {
		if err := s[i].Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && !s[i].Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("candle %d: timestamps not ascending", i)
		}
	}
	return nil
}
