package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("connection reset")
	errPermanent = errors.New("authentication rejected")
)

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

// testPolicy keeps the production backoff shape but scales the delays
// down so the suite stays fast.
func testPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var delays []time.Duration
	ex := &Executor{
		OnRetry: func(_ string, _ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}

	got, err := Do(context.Background(), ex, "fetch", testPolicy(), isTransient, func() (string, error) {
		calls++
		if calls <= 2 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)

	// max_attempts-1 retries with delays base, base*2.
	require.Len(t, delays, 2)
	assert.Equal(t, time.Millisecond, delays[0])
	assert.Equal(t, 2*time.Millisecond, delays[1])
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0

	_, err := Do(context.Background(), nil, "fetch", testPolicy(), isTransient, func() (int, error) {
		calls++
		return 0, errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentFailureIsNotRetried(t *testing.T) {
	calls := 0

	_, err := Do(context.Background(), nil, "login", testPolicy(), isTransient, func() (int, error) {
		calls++
		return 0, errPermanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls, "permanent errors must propagate immediately")
}

func TestDo_FirstAttemptSuccess(t *testing.T) {
	retries := 0
	ex := &Executor{
		OnRetry: func(string, int, time.Duration, error) { retries++ },
	}

	got, err := Do(context.Background(), ex, "fetch", testPolicy(), isTransient, func() (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Zero(t, retries)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Do(ctx, nil, "fetch", Policy{MaxAttempts: 10, BaseDelay: time.Hour, Multiplier: 2}, isTransient, func() (int, error) {
		calls++
		cancel()
		return 0, errTransient
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation must stop further attempts")
}
