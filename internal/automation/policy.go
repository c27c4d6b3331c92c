package automation

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how often a failing automation is retried and how
// long to wait between attempts.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times, waiting 1s, 2s, 4s, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		BackoffFactor:   2,
		MaxInterval:     30 * time.Second,
	}
}

// merge fills the unset fields of p from base.
func (p RetryPolicy) merge(base RetryPolicy) RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = base.MaxRetries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = base.InitialInterval
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = base.BackoffFactor
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = base.MaxInterval
	}
	return p
}

// Delay returns the wait before the next attempt after failures failed
// attempts: InitialInterval * BackoffFactor^(failures-1), capped at
// MaxInterval.
func (p RetryPolicy) Delay(failures int) time.Duration {
	p = p.merge(DefaultRetryPolicy())
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffFactor,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < failures; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Exhausted reports whether retryCount failures use up the policy.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
