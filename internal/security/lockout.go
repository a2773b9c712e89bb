package security

import (
	"sync"
	"time"
)

// AttemptLimiter tracks failed pairing attempts per account and locks an
// account out for a window once the threshold is crossed.
type AttemptLimiter struct {
	mu        sync.Mutex
	accounts  map[string]*attemptState
	threshold int
	lockout   time.Duration
}

type attemptState struct {
	failures    int
	lockedUntil time.Time
	lastFailure time.Time
}

// NewAttemptLimiter creates an attempt limiter.
// threshold: failed attempts allowed before lockout
// lockout: how long the account stays locked
func NewAttemptLimiter(threshold int, lockout time.Duration) *AttemptLimiter {
	al := &AttemptLimiter{
		accounts:  make(map[string]*attemptState),
		threshold: threshold,
		lockout:   lockout,
	}
	// Start cleanup goroutine
	go al.cleanup()
	return al
}

// Locked reports whether the account is currently locked out.
func (al *AttemptLimiter) Locked(accountID string, now time.Time) bool {
	al.mu.Lock()
	defer al.mu.Unlock()
	s, ok := al.accounts[accountID]
	if !ok {
		return false
	}
	return now.Before(s.lockedUntil)
}

// RecordFailure registers a failed attempt and returns true if the account
// is now locked.
func (al *AttemptLimiter) RecordFailure(accountID string, now time.Time) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	s, ok := al.accounts[accountID]
	if !ok {
		s = &attemptState{}
		al.accounts[accountID] = s
	}
	s.failures++
	s.lastFailure = now
	if s.failures >= al.threshold {
		s.lockedUntil = now.Add(al.lockout)
		s.failures = 0
		return true
	}
	return false
}

// Reset clears the failure count after a successful attempt.
func (al *AttemptLimiter) Reset(accountID string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.accounts, accountID)
}

// cleanup removes stale entries to prevent unbounded growth.
func (al *AttemptLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		al.mu.Lock()
		now := time.Now()
		for id, s := range al.accounts {
			if now.After(s.lockedUntil) && now.Sub(s.lastFailure) > 2*al.lockout {
				delete(al.accounts, id)
			}
		}
		al.mu.Unlock()
	}
}
