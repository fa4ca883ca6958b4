// Package clock abstracts wall-clock access so the trading loop can be
// driven deterministically in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real delegates to the time package.
type Real struct{}

func (Real) Now() time.Time        { return time.Now() }
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a manually advanced clock for tests. Sleep advances the clock
// instead of blocking.
type Fake struct {
	Current time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{Current: start}
}

func (f *Fake) Now() time.Time { return f.Current }

func (f *Fake) Sleep(d time.Duration) {
	f.Current = f.Current.Add(d)
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}

// Set jumps the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.Current = t
}
