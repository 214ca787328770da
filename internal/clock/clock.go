package clock

import "time"

// Clock is the injectable time source used by every evaluation function so
// that billing sweeps are testable with synthetic "now" values.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }

// Mock is a settable clock for tests.
type Mock struct {
	now time.Time
}

// NewMock returns a mock clock frozen at t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

func (m *Mock) Now() time.Time { return m.now }

// Set moves the mock clock to t.
func (m *Mock) Set(t time.Time) { m.now = t }

// Advance moves the mock clock forward by d.
func (m *Mock) Advance(d time.Duration) { m.now = m.now.Add(d) }

// PeriodToken returns the year-month token for t, e.g. "2026-08". It gates
// trust activation to once per calendar month.
func PeriodToken(t time.Time) string {
	return t.Format("2006-01")
}
