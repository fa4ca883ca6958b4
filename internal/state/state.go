// Package state persists the bot's runtime state as a JSON file so a
// restart resumes exactly where the previous process stopped.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/sniper-trader/internal/position"
	"github.com/amirphl/sniper-trader/internal/tuner"
)

// BotState is everything worth surviving a restart: open position
// lifecycles, the daily PnL accumulator, the hourly trade-time window, and
// the tuner snapshot.
type BotState struct {
	Positions  map[string]*position.Position `json:"positions"`
	DailyPnL   float64                       `json:"daily_pnl"`
	LastReset  time.Time                     `json:"last_reset_time"`
	TradeTimes []time.Time                   `json:"trades_last_hour"`
	LastTrade  map[string]time.Time          `json:"last_trade_per_symbol,omitempty"`
	Tuner      *tuner.Snapshot               `json:"tuner,omitempty"`
}

func defaultState() *BotState {
	return &BotState{
		Positions:  make(map[string]*position.Position),
		TradeTimes: []time.Time{},
		LastTrade:  make(map[string]time.Time),
	}
}

// Store owns the state file. Every mutating accessor persists before it
// returns: a partial fill that was not written down did not happen.
type Store struct {
	path string

	mu    sync.Mutex
	state *BotState
}

// Open loads the state file at path. A missing file starts fresh; a
// corrupt file is logged and replaced with a fresh state rather than
// blocking startup, since reconciliation rebuilds positions from the venue
// anyway. Filesystem errors other than absence are returned.
func Open(path string) (*Store, error) {
	s := &Store{path: path, state: defaultState()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var loaded BotState
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("State | failed to parse %s, starting fresh: %v", path, err)
		return s, nil
	}
	if loaded.Positions == nil {
		loaded.Positions = make(map[string]*position.Position)
	}
	if loaded.LastTrade == nil {
		loaded.LastTrade = make(map[string]time.Time)
	}
	s.state = &loaded
	return s, nil
}

// save writes the state atomically via a temp file rename. Caller holds
// the lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Save persists the current state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return filepath.Clean(s.path)
}

// Position returns the tracked position for symbol, or nil.
func (s *Store) Position(symbol string) *position.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Positions[symbol]
}

// SetPosition stores a position and persists.
func (s *Store) SetPosition(symbol string, p *position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Positions[symbol] = p
	return s.save()
}

// ClearPosition removes a position and persists. Missing symbols are a
// no-op.
func (s *Store) ClearPosition(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Positions[symbol]; !ok {
		return nil
	}
	delete(s.state.Positions, symbol)
	return s.save()
}

// Positions returns the open positions keyed by symbol. The map is a
// shallow copy; the position pointers are shared, so mutations must be
// followed by SetPosition to persist.
func (s *Store) Positions() map[string]*position.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*position.Position, len(s.state.Positions))
	for sym, p := range s.state.Positions {
		out[sym] = p
	}
	return out
}

// Symbols returns the symbols with open positions in sorted order.
func (s *Store) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	syms := make([]string, 0, len(s.state.Positions))
	for sym := range s.state.Positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// OpenCount returns the number of open positions.
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Positions)
}

// DailyPnL returns the realized PnL accumulated since the last daily
// reset.
func (s *Store) DailyPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DailyPnL
}

// AddDailyPnL folds a realized amount into the daily accumulator.
func (s *Store) AddDailyPnL(amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DailyPnL += amount
	return s.save()
}

// ResetDaily zeroes the daily accumulator and stamps the reset time.
func (s *Store) ResetDaily(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DailyPnL = 0
	s.state.LastReset = now
	return s.save()
}

// LastReset returns the time of the most recent daily reset.
func (s *Store) LastReset() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastReset
}

// AddTradeTime records an entry for the hourly frequency gate.
func (s *Store) AddTradeTime(ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TradeTimes = append(s.state.TradeTimes, ts)
	return s.save()
}

// PruneTradeTimes drops entries older than one hour and reports how many
// remain. It persists only when something was removed.
func (s *Store) PruneTradeTimes(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-time.Hour)
	kept := s.state.TradeTimes[:0]
	for _, ts := range s.state.TradeTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	removed := len(s.state.TradeTimes) - len(kept)
	s.state.TradeTimes = kept
	if removed == 0 {
		return len(kept), nil
	}
	return len(kept), s.save()
}

// TradeCount returns the number of recorded trade times.
func (s *Store) TradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.TradeTimes)
}

// SetLastTrade stamps the most recent close time for a symbol, feeding the
// per-symbol cooldown gate.
func (s *Store) SetLastTrade(symbol string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastTrade[symbol] = ts
	return s.save()
}

// InCooldown reports whether symbol closed within the cooldown window
// ending at now.
func (s *Store) InCooldown(symbol string, now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.state.LastTrade[symbol]
	if !ok {
		return false
	}
	return now.Sub(last) < cooldown
}

// SetTuner persists a tuner snapshot alongside the trading state.
func (s *Store) SetTuner(snap tuner.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Tuner = &snap
	return s.save()
}

// TunerSnapshot returns the persisted tuner snapshot, if any.
func (s *Store) TunerSnapshot() (tuner.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Tuner == nil {
		return tuner.Snapshot{}, false
	}
	return *s.state.Tuner, true
}
