package replicate

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/revsync/internal/ir"
)

// newBackOff returns the exponential policy shared by operation retries and
// the Failed → Idle delay of Run.
func (r *Replicator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialBackoff
	b.MaxInterval = r.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retry runs fn until it succeeds, fails with a non-retryable error, or has
// been attempted maxAttempts times. Waits honor ctx.
func retry[T any](ctx context.Context, r *Replicator, s *session, op string, fn func() (T, error)) (T, error) {
	var (
		result  T
		attempt int
	)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		attempt++
		v, err := fn()
		if err != nil {
			if !ir.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, policy, func(err error, delay time.Duration) {
		s.logger.Warn("transient failure, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
