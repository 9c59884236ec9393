// Package retry is the one retryable-operation primitive every fetcher goes
// through: a fixed number of attempts, a fixed delay between them and a
// predicate that decides which errors are worth another attempt.
package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// ErrEmpty is returned by an operation that succeeded but produced nothing,
// it is retryable unless the policy says otherwise.
var ErrEmpty = errors.New("empty result")

type Policy struct {
	// Attempts is the total number of attempts, values below 1 are treated as 1.
	Attempts uint
	// Backoff is the fixed delay between attempts, there is no jitter.
	Backoff time.Duration
	// RetryIf decides whether an error is retryable, nil retries everything
	// that was not marked Unrecoverable.
	RetryIf func(err error) bool
	// OnRetry is called after attempt n (1-indexed) failed and before the delay.
	OnRetry func(n uint, err error)
}

// Unrecoverable marks an error as terminal, Do returns it without retrying.
func Unrecoverable(err error) error {
	return retrygo.Unrecoverable(err)
}

// IsRecoverable is false for errors wrapped by Unrecoverable.
func IsRecoverable(err error) bool {
	return retrygo.IsRecoverable(err)
}

// Do runs op until it succeeds, the policy's attempts run out, an
// unrecoverable or non-retryable error is returned, or ctx is done. The
// attempt passed to op starts at 1. On failure the last error is returned.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context, attempt uint) (T, error)) (T, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var attempt uint
	return retrygo.DoWithData(
		func() (T, error) {
			attempt++
			return op(ctx, attempt)
		},
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.Delay(policy.Backoff),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			if !retrygo.IsRecoverable(err) {
				return false
			}
			if policy.RetryIf == nil {
				return true
			}
			return policy.RetryIf(err)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			// retry-go also reports the final failed attempt, which is not a retry
			if policy.OnRetry != nil && n+1 < attempts {
				policy.OnRetry(n+1, err)
			}
		}),
	)
}
