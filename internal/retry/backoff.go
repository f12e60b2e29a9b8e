package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts     = 4
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Policy bounds an exponential backoff by attempt count. Zero values fall back
// to the package defaults.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	return p
}

type Operation func(ctx context.Context) error

// Do runs fn until it succeeds, returns an error Classify considers terminal,
// exhausts the policy, or ctx is done. onRetry, when set, observes every
// retried error and the delay before the next attempt. The last error is
// returned unwrapped.
func Do(ctx context.Context, p Policy, fn Operation, onRetry func(error, time.Duration)) error {
	p = p.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0

	var policy backoff.BackOff = backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
	policy = backoff.WithContext(policy, ctx)

	return backoff.RetryNotify(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		if onRetry != nil {
			onRetry(err, next)
		}
	})
}
