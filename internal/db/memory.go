package db

import (
	"context"
	"sync"
	"time"

	"github.com/amirphl/sniper-trader/internal/journal"
)

// Memory is an in-memory Storage used by tests and as a fallback sink
// when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	entries  []journal.Entry
	closures []journal.Closure
	events   []journal.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LogOpen(e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) LogClose(c journal.Closure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closures = append(m.closures, c)
	return nil
}

func (m *Memory) LogEvent(ev journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func (m *Memory) Entries(_ context.Context, symbol string, start, end time.Time) ([]journal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Entry
	for _, e := range m.entries {
		if symbol != "" && e.Symbol != symbol {
			continue
		}
		if inWindow(e.Time, start, end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Closures(_ context.Context, symbol string, start, end time.Time) ([]journal.Closure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Closure
	for _, c := range m.closures {
		if symbol != "" && c.Symbol != symbol {
			continue
		}
		if inWindow(c.Time, start, end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) Events(_ context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, ev := range m.events {
		if eventType != "" && ev.Type != eventType {
			continue
		}
		if inWindow(ev.Time, start, end) {
			out = append(out, ev)
		}
	}
	return out, nil
}
