package clock

import "time"

// Clock abstracts time.Now so period and expiry calculations are testable.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed always reports the same instant. Useful in tests.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// Manual is a settable clock for tests that advance time by hand.
type Manual struct {
	T time.Time
}

func (m *Manual) Now() time.Time { return m.T }

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) { m.T = m.T.Add(d) }
