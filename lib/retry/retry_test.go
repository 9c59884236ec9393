package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDoRecovers(t *testing.T) {
	var retried []uint
	policy := Policy{
		Attempts: 3,
		Backoff:  time.Millisecond,
		OnRetry: func(n uint, err error) {
			retried = append(retried, n)
		},
	}

	result, err := Do(context.Background(), policy, func(ctx context.Context, attempt uint) (string, error) {
		if attempt < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, []uint{1, 2}, retried)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 4}, func(ctx context.Context, attempt uint) ([]int, error) {
		calls++
		return nil, ErrEmpty
	})
	require.ErrorIs(t, err, ErrEmpty)
	require.Equal(t, 4, calls)
}

func TestDoUnrecoverable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 5}, func(ctx context.Context, attempt uint) (int, error) {
		calls++
		return 0, Unrecoverable(errFlaky)
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 1, calls)
}

func TestDoRetryIf(t *testing.T) {
	calls := 0
	policy := Policy{
		Attempts: 5,
		RetryIf: func(err error) bool {
			return !errors.Is(err, errFlaky)
		},
	}
	_, err := Do(context.Background(), policy, func(ctx context.Context, attempt uint) (int, error) {
		calls++
		return 0, errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 1, calls)
}

func TestDoZeroAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(ctx context.Context, attempt uint) (int, error) {
		calls++
		return 0, errFlaky
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{Attempts: 10, Backoff: time.Hour}, func(ctx context.Context, attempt uint) (int, error) {
		calls++
		cancel()
		return 0, errFlaky
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoOnRetrySkipsFinalAttempt(t *testing.T) {
	var retried []uint
	policy := Policy{
		Attempts: 3,
		OnRetry: func(n uint, err error) {
			retried = append(retried, n)
		},
	}
	_, err := Do(context.Background(), policy, func(ctx context.Context, attempt uint) (int, error) {
		return 0, errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, []uint{1, 2}, retried)
}
