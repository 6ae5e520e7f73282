package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds WithRetry. The zero value is replaced by DefaultRetryPolicy.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy retries a failed write five times over roughly ten seconds.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxRetries:      5,
}

// WithRetry runs op until it succeeds, returns a permanent error, or the
// policy is exhausted. Conflicts and ErrNotFound are permanent: retrying
// cannot change the outcome.
func WithRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, policy.MaxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsConflict(err) || errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
