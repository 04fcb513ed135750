// Package retry provides the bounded retry loop used wherever the
// pipeline waits on external infrastructure: worker provisioning,
// artifact uploads, and status polling.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop by attempt count and total elapsed time.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxAttempts     uint64
}

// DefaultPolicy suits transient network failures: short first wait,
// capped exponential growth, bounded total budget.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
		MaxAttempts:     5,
	}
}

// Do runs op with exponential backoff until it succeeds, the policy is
// exhausted, or ctx is cancelled. The last error is returned.
func Do(ctx context.Context, p Policy, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsedTime

	var b backoff.BackOff = backoff.WithContext(eb, ctx)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}

	return backoff.Retry(op, b)
}

// Permanent marks err so Do stops retrying immediately. Logic errors
// (bad input, missing paths) should not burn the retry budget.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
