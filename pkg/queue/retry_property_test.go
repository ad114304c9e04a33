package queue

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_BackoffMonotonicAndBounded validates that the retry delay
// never decreases as attempts grow and never exceeds the configured cap.
func TestProperty_BackoffMonotonicAndBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	policy := RetryPolicy{
		BackoffBase: time.Second,
		MaxBackoff:  5 * time.Minute,
	}

	properties.Property("backoff is monotonic in attempts", prop.ForAll(
		func(attempts int) bool {
			return policy.Backoff(attempts) <= policy.Backoff(attempts+1)
		},
		gen.IntRange(0, 64),
	))

	properties.Property("backoff never exceeds the cap", prop.ForAll(
		func(attempts int) bool {
			delay := policy.Backoff(attempts)
			return delay > 0 && delay <= policy.MaxBackoff
		},
		gen.IntRange(0, 1024),
	))

	properties.TestingRun(t)
}

// TestProperty_DecideTerminality validates that a job is dead-lettered
// exactly when its attempts reach the cap, and otherwise stays retryable
// with a future eligibility time.
func TestProperty_DecideTerminality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	policy := DefaultRetryPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	properties.Property("dead exactly at the attempt cap", prop.ForAll(
		func(attempts, maxAttempts int) bool {
			decision := policy.Decide(attempts, maxAttempts, now)
			if attempts >= maxAttempts {
				return decision.Status == StatusDead && decision.ScheduledFor == nil
			}
			return decision.Status == StatusFailed &&
				decision.ScheduledFor != nil &&
				decision.ScheduledFor.After(now)
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
