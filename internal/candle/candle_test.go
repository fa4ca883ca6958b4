package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandle() Candle {
	return Candle{
		Timestamp: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		Open:      100, High: 105, Low: 99, Close: 103,
		Volume:    1200,
		Symbol:    "BTCUSDT",
		Timeframe: "15m",
	}
}

func TestCandleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Candle)
		wantErr string
	}{
		{"valid", func(c *Candle) {}, ""},
		{"zero timestamp", func(c *Candle) { c.Timestamp = time.Time{} }, "timestamp is zero"},
		{"non-positive price", func(c *Candle) { c.Open = 0 }, "prices must be positive"},
		{"high below low", func(c *Candle) { c.High = 98 }, "high cannot be less than low"},
		{"open above high", func(c *Candle) { c.Open = 106 }, "open price must be between"},
		{"close below low", func(c *Candle) { c.Close = 98.5 }, "close price must be between"},
		{"negative volume", func(c *Candle) { c.Volume = -1 }, "volume cannot be negative"},
		{"empty symbol", func(c *Candle) { c.Symbol = "" }, "symbol cannot be empty"},
		{"empty timeframe", func(c *Candle) { c.Timeframe = "" }, "timeframe cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCandleIsClosed(t *testing.T) {
	c := validCandle() // opens 10:00, 15m
	assert.False(t, c.IsClosed(time.Date(2026, 1, 2, 10, 14, 59, 0, time.UTC)))
	assert.True(t, c.IsClosed(time.Date(2026, 1, 2, 10, 15, 0, 0, time.UTC)))
	assert.True(t, c.IsClosed(time.Date(2026, 1, 2, 11, 0, 0, 0, time.UTC)))
}

func TestSeriesHelpers(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	s := Series{}
	for i := 0; i < 4; i++ {
		c := validCandle()
		c.Timestamp = base.Add(time.Duration(i) * 15 * time.Minute)
		c.Close = 100 + float64(i)
		c.Volume = float64(1000 + i)
		s = append(s, c)
	}

	assert.Equal(t, []float64{100, 101, 102, 103}, s.Closes())
	assert.Equal(t, []float64{1000, 1001, 1002, 1003}, s.Volumes())

	closed := s.DropForming()
	require.Len(t, closed, 3)
	assert.Equal(t, 102.0, closed[len(closed)-1].Close)

	last2 := s.Last(2)
	require.Len(t, last2, 2)
	assert.Equal(t, 102.0, last2[0].Close)
	assert.Len(t, s.Last(10), 4)

	assert.NoError(t, s.Validate())

	dup := append(Series{}, s...)
	dup[2].Timestamp = dup[1].Timestamp
	assert.Error(t, dup.Validate())
}

func TestSeriesEmpty(t *testing.T) {
	var s Series
	assert.Empty(t, s.DropForming())
	assert.Empty(t, s.Closes())
	assert.NoError(t, s.Validate())
}
