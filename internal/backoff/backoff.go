// Package backoff computes reconnect delays.
package backoff

import "time"

// Policy maps an attempt count to a capped exponential delay.
type Policy struct {
	Base        time.Duration // Delay for attempt 0
	Cap         time.Duration // Upper bound for any delay
	MaxAttempts int           // Attempts allowed before giving up
}

// DefaultPolicy returns 1s doubling to 30s, five attempts.
func DefaultPolicy() Policy {
	return Policy{
		Base:        time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(Base * 2^attempt, Cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		// Stop doubling once past the cap so large attempts cannot overflow.
		if d >= p.Cap {
			return p.Cap
		}
		d *= 2
	}

	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Exhausted reports whether no further attempt may be scheduled.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
