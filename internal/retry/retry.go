package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotReady is returned by Poll when the condition never held.
var ErrNotReady = errors.New("condition not met")

// Policy bounds a retry loop. Attempts counts the first call.
type Policy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Constant retries every interval, attempts times in total.
func Constant(attempts int, interval time.Duration) Policy {
	return Policy{Attempts: attempts, Initial: interval, Max: interval, Multiplier: 1}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// policy runs out. The last error is returned. A nil retryable retries all errors.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(attempt int) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		err := fn(attempt)
		attempt++
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}

// Poll re-evaluates check until it reports true. Errors from check are
// treated like a false result and the last one is returned on exhaustion.
func Poll(ctx context.Context, p Policy, check func() (bool, error)) error {
	return Do(ctx, p, nil, func(int) error {
		ok, err := check()
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotReady
		}
		return nil
	})
}
