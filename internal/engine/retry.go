package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Backoff strategies for RetryPolicy.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy bounds retries of transient invocation failures.
// MaxAttempts counts the first call; 0 or 1 disables retries.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Backoff     string
}

// DefaultRetryPolicy retries up to two more times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, Backoff: BackoffExponential}
}

// IsRetryableError classifies whether an invocation error should be retried.
// Retryable: deadline exceeded, network errors, and AgentGraphErrors marked
// retryable or rate limited. Everything else is final, including cancellation.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var agErr *schema.AgentGraphError
	if errors.As(err, &agErr) {
		if agErr.IsRetryable() {
			return true
		}
		if agErr.Cause == nil {
			return false
		}
		return IsRetryableError(agErr.Cause) && agErr.Code == schema.ErrCodeAgentInvocation
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// ComputeBackoff calculates the delay before retry number attempt (0-based),
// capped at MaxDelay when set.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		delay = policy.Delay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if policy.MaxDelay > 0 && delay >= policy.MaxDelay {
				break
			}
		}
	case BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withRetry calls fn until it succeeds, fails with a non-retryable error, or
// the policy's attempts are exhausted. The last error is returned.
func withRetry[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(policy.MaxAttempts, 1)

	var (
		out T
		err error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		out, err = fn(ctx)
		if err == nil || !IsRetryableError(err) || attempt == attempts-1 {
			return out, err
		}
		delay := ComputeBackoff(policy, attempt)
		logger.WarnContext(ctx, "retrying agent invocation",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return out, err
		}
	}
	return out, err
}
