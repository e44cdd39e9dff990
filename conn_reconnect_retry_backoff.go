package realtime

import (
	"math"
	"time"
)

const (
	defaultReconnectBaseDelay   = 500 * time.Millisecond
	defaultReconnectMaxDelay    = 30 * time.Second
	defaultReconnectStableAfter = 10 * time.Second
)

type backoffCalculator func(attempts int) (time time.Duration)

// ReconnectPolicy enables automatic reconnection after a failed open or an unexpected disconnect.
// Without it the client stays Disconnected until Connect is called again.
type ReconnectPolicy struct {
	// MaxAttempts caps consecutive attempts; zero means retry forever.
	MaxAttempts int
	// BaseDelay and MaxDelay bound the exponential backoff between attempts.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// StableAfter is how long a connection must live for the attempt counter to reset.
	StableAfter time.Duration
	// Backoff overrides the delay calculation when set.
	Backoff backoffCalculator
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultReconnectBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultReconnectMaxDelay
	}
	if p.StableAfter <= 0 {
		p.StableAfter = defaultReconnectStableAfter
	}
	if p.Backoff == nil {
		p.Backoff = cappedExponentialBackoff(p.BaseDelay, p.MaxDelay)
	}
	return p
}

// next returns how long to wait before attempt number attempts (1-based), or false once the
// policy is exhausted.
func (p ReconnectPolicy) next(attempts int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempts > p.MaxAttempts {
		return 0, false
	}
	return p.Backoff(attempts), true
}

// cappedExponentialBackoff doubles base on every attempt and never exceeds limit.
func cappedExponentialBackoff(base, limit time.Duration) backoffCalculator {
	return func(attempts int) time.Duration {
		if attempts < 1 {
			attempts = 1
		}
		d := time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
		if d <= 0 || d > limit {
			return limit
		}
		return d
	}
}
