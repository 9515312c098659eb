package ledger

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds caller-side retries of retryable ledger failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry is called before each sleep. Optional.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry runs fn until it succeeds, returns a non-retryable error, exhausts the
// policy, or ctx ends. Re-running a mutation is safe because a committed first
// attempt turns the retry into ErrDuplicateRequest.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(policy.MaxAttempts, 1)

	var (
		result T
		err    error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == attempts-1 {
			return result, err
		}

		delay := backoffDelay(policy.BaseDelay, attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, err
		}
	}
	return result, err
}

// maxBackoff caps a single retry wait.
const maxBackoff = 30 * time.Second

// backoffDelay is exponential backoff with full jitter: a random duration in
// [0, min(base*2^attempt, maxBackoff)).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	attempt = min(max(attempt, 0), 16)
	ceiling := maxBackoff
	if base <= maxBackoff>>attempt {
		ceiling = base << attempt
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}
