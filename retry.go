package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// retryLinear runs op up to attempts times with linear backoff, stopping early
// when ctx is done or op returns a backoff.Permanent error.
func retryLinear(ctx context.Context, attempts int, step time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithMaxRetries(&linearBackOff{step: step}, uint64(attempts-1))
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}
