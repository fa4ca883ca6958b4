// Package health tracks venue connectivity. High round-trip latency
// pauses new entries until the link proves itself again; open positions
// stay managed throughout.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/amirphl/sniper-trader/internal/exchange"
)

// ProbeFailureMs is charged when the latency probe itself fails, so a
// dead link pauses entries the same way a slow one does.
const ProbeFailureMs = 9999

// Latency measures the venue clock round trip in milliseconds.
func Latency(ctx context.Context, cli exchange.Client) float64 {
	start := time.Now()
	if _, err := cli.ServerTime(ctx); err != nil {
		return ProbeFailureMs
	}
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// Monitor applies hysteresis to latency samples: one sample above the
// pause threshold pauses, and only a streak of samples below the resume
// threshold unpauses. The gap between thresholds stops flapping.
type Monitor struct {
	mu sync.Mutex

	pauseMs    float64
	resumeMs   float64
	resumeHits int

	paused     bool
	goodStreak int
	lastMs     float64
}

func NewMonitor(pauseMs, resumeMs float64, resumeHits int) *Monitor {
	if resumeHits <= 0 {
		resumeHits = 1
	}
	return &Monitor{
		pauseMs:    pauseMs,
		resumeMs:   resumeMs,
		resumeHits: resumeHits,
	}
}

// Observe feeds one sample. It returns the paused state after the sample
// and whether this sample flipped it.
func (m *Monitor) Observe(ms float64) (paused, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastMs = ms

	if !m.paused {
		if ms > m.pauseMs {
			m.paused = true
			m.goodStreak = 0
			return true, true
		}
		return false, false
	}

	if ms < m.resumeMs {
		m.goodStreak++
		if m.goodStreak >= m.resumeHits {
			m.paused = false
			m.goodStreak = 0
			return false, true
		}
	} else {
		m.goodStreak = 0
	}
	return true, false
}

func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// LastLatency returns the most recent sample in milliseconds.
func (m *Monitor) LastLatency() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMs
}
