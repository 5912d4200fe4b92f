package ogm

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries. The task decides what is
// retryable by wrapping its error with retry.RetryableError; ShouldRetry is the usual test.
// If retries are exhausted, gaveUpTask is invoked (when not nil) and the final error is returned.
//
// Dialect operations never retry on their own. Retry is meant for the layer above, e.g. to
// re-run a whole read-mutate-persist unit of work after a backend failure.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(100 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// RetryableOnFailure runs fn and marks its error retryable when ShouldRetry says so.
// It adapts a plain func to the shape Retry expects.
func RetryableOnFailure(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := fn(ctx)
		if ShouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	}
}

// ShouldRetry reports whether the error is retryable: backend I/O failures are, contract
// violations, conflicts and context cancellations are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e Error
	if errors.As(err, &e) {
		return e.Code == BackendFailure
	}
	return true
}
