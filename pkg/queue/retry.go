package queue

import (
	"time"
)

// Retry policy defaults. The base doubles per completed attempt, so the
// first failure waits 2s, the second 4s, and so on, capped at MaxBackoff.
const (
	DefaultBackoffBase = time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

// RetryPolicy decides what happens to a job after a failed attempt. It is a
// pure function of the job's attempt counters; stores apply the decision
// inside the transaction that records the failure.
type RetryPolicy struct {
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the standard exponential policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BackoffBase: DefaultBackoffBase,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

func (p *RetryPolicy) normalize() {
	if p.BackoffBase <= 0 {
		p.BackoffBase = DefaultBackoffBase
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
}

// Decision is the next state for a failed job. ScheduledFor is set only when
// the job stays retryable.
type Decision struct {
	Status       Status
	ScheduledFor *time.Time
}

// Decide computes the next state after a failed attempt. attempts is the
// claim count including the attempt that just failed.
func (p RetryPolicy) Decide(attempts, maxAttempts int, now time.Time) Decision {
	if attempts >= maxAttempts {
		return Decision{Status: StatusDead}
	}
	next := now.Add(p.Backoff(attempts))
	return Decision{Status: StatusFailed, ScheduledFor: &next}
}

// Backoff returns the delay before a job that failed its Nth attempt becomes
// eligible again: BackoffBase * 2^attempts, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	p.normalize()
	if attempts <= 0 {
		return p.BackoffBase
	}

	backoff := p.BackoffBase
	for idx := 0; idx < attempts; idx++ {
		if backoff >= p.MaxBackoff/2 {
			return p.MaxBackoff
		}
		backoff *= 2
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}
