// Package retry runs fallible operations with bounded, capped exponential
// backoff.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds the retries of one operation. The zero value runs the
// operation exactly once.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool

	// OnRetry is called before each retry with the retry number (from 1) and
	// the error that caused it.
	OnRetry func(retry int, err error)
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	b = goretry.WithJitterPercent(10, b)

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return goretry.WithMaxRetries(uint64(retries), b)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx ends. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	var last error

	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 && p.OnRetry != nil {
			p.OnRetry(attempt-1, last)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		return goretry.RetryableError(err)
	})
}
