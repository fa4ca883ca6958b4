// Package journal records the trade lifecycle to durable sinks. Entries
// are written on fill confirmation, closures on settlement; sink failures
// never block trading.
package journal

import "time"

// Entry is written when a position is opened.
type Entry struct {
	Time        time.Time `json:"time"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	Size        float64   `json:"size"`
	MarginUSD   float64   `json:"margin_usd"`
	ExposureUSD float64   `json:"exposure_usd"`
	Leverage    int       `json:"leverage"`
	Criteria    string    `json:"criteria"`
}

// Closure is written when a position is settled.
type Closure struct {
	Time        time.Time     `json:"time"`
	Symbol      string        `json:"symbol"`
	Direction   string        `json:"direction"`
	ExitPrice   float64       `json:"exit_price"`
	PnLUSD      float64       `json:"pnl_usd"`
	MarginUSD   float64       `json:"margin_usd"`
	Leverage    int           `json:"leverage"`
	ExposureUSD float64       `json:"exposure_usd"`
	Duration    time.Duration `json:"duration"`
	Reason      string        `json:"reason"`
}

// Event is an operational record: reconciliation actions, health pauses,
// stop replacements.
type Event struct {
	Time        time.Time `json:"time"`
	Type        string    `json:"type"`
	Symbol      string    `json:"symbol,omitempty"`
	Description string    `json:"description"`
}

// Journaler is implemented by each sink.
type Journaler interface {
	LogOpen(e Entry) error
	LogClose(c Closure) error
	LogEvent(ev Event) error
}

// Tee fans every record out to all sinks. A failing sink does not stop
// the others; the first error is returned.
type Tee struct {
	sinks []Journaler
}

func NewTee(sinks ...Journaler) *Tee {
	return &Tee{sinks: sinks}
}

func (t *Tee) LogOpen(e Entry) error {
	var first error
	for _, s := range t.sinks {
		if err := s.LogOpen(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *Tee) LogClose(c Closure) error {
	var first error
	for _, s := range t.sinks {
		if err := s.LogClose(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *Tee) LogEvent(ev Event) error {
	var first error
	for _, s := range t.sinks {
		if err := s.LogEvent(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
