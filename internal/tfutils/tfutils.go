package tfutils

import (
	"errors"
	"time"
)

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	switch timeframe {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, errors.New("unsupported timeframe")
	}
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// FloorEpoch returns the open time (epoch seconds) of the candle containing ts.
func FloorEpoch(ts int64, timeframe time.Duration) int64 {
	sec := int64(timeframe / time.Second)
	if sec <= 0 {
		return ts
	}
	return ts - ts%sec
}

// UntilNextBoundary returns the duration from t to the next candle open.
func UntilNextBoundary(t time.Time, timeframe time.Duration) time.Duration {
	sec := int64(timeframe / time.Second)
	if sec <= 0 {
		return 0
	}
	rem := sec - t.Unix()%sec
	return time.Duration(rem) * time.Second
}
