// Package retry wraps network-facing operations in a bounded-attempt
// exponential backoff. Callers supply a per-operation classifier that
// decides which errors are transient; everything else propagates
// immediately and unchanged.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hnguyen/mailbox/internal/logging"
)

// Policy configures an execution. It is a value, not mutable state;
// the executor itself holds nothing between calls.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy is 3 attempts with delays of 1s and 2s between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

// Classifier reports whether an error is transient and worth retrying.
// Transient errors differ per protocol, so each call site brings its own.
type Classifier func(error) bool

// Executor logs retry events and notifies an optional hook per retry.
// The zero value is usable; Logger falls back to slog.Default().
type Executor struct {
	Logger *slog.Logger

	// OnRetry is invoked once per scheduled retry, before the sleep.
	// Used to feed instrumentation counters.
	OnRetry func(operation string, attempt int, delay time.Duration, cause error)
}

func (e *Executor) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Do runs op under the policy. Transient failures (per classify) are
// retried with delays of BaseDelay * Multiplier^(attempt-1); permanent
// failures and context cancellation return at once. After exhausting
// MaxAttempts the operation's final error is returned.
func Do[T any](ctx context.Context, e *Executor, operation string, policy Policy, classify Classifier, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.Multiplier = policy.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = policy.BaseDelay * time.Duration(1<<uint(policy.MaxAttempts))

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && !classify(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, delay time.Duration) {
		e.logger().Warn("retrying after transient failure",
			logging.Operation(operation),
			logging.Attempt(attempt),
			logging.Delay(delay),
			logging.Err(err),
		)
		if e != nil && e.OnRetry != nil {
			e.OnRetry(operation, attempt, delay, err)
		}
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(notify),
	)
}
