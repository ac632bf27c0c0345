// Package retry provides a reusable retry policy with exponential backoff,
// applied uniformly at network-call boundaries instead of per call site.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	apperrors "github.com/finrelay/finrelay/internal/shared/errors"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 2
	DefaultBackoffMax  = 32 * time.Second
)

// RetryableFunc reports whether an error should trigger another attempt.
// A nil predicate retries every error.
type RetryableFunc func(error) bool

// Policy describes how an operation is retried. Policies are immutable and
// safe for concurrent use.
type Policy struct {
	MaxAttempts int
	BackoffBase int
	BackoffMax  time.Duration
	Retryable   RetryableFunc

	logger logger.Interface
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a retry policy with the given bounds. Zero values fall
// back to the package defaults.
func NewPolicy(maxAttempts, backoffBase int, backoffMax time.Duration, retryable RetryableFunc, log logger.Interface) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	if backoffMax <= 0 {
		backoffMax = DefaultBackoffMax
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		BackoffMax:  backoffMax,
		Retryable:   retryable,
		logger:      log,
		sleep:       sleepCtx,
	}
}

// Backoff returns the delay before the given zero-indexed attempt is retried.
func (p *Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(float64(p.BackoffBase), float64(attempt))) * time.Second
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Do runs op until it succeeds, a non-retryable error occurs, the attempt
// budget is exhausted, or the context is cancelled. The last error is
// returned on failure.
func (p *Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 && p.logger != nil {
				p.logger.Infow("operation succeeded after retries",
					"operation", name,
					"retries", attempt,
				)
			}
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		backoff := p.Backoff(attempt)
		// Rate limit denials carry the seconds until the tier frees up;
		// sleeping any less just burns attempts against a closed window.
		if rlErr := apperrors.GetRateLimitError(err); rlErr != nil {
			if retryAfter := time.Duration(rlErr.RetryAfter) * time.Second; retryAfter > backoff {
				backoff = retryAfter
			}
		}
		if p.logger != nil {
			p.logger.Warnw("operation failed, retrying",
				"operation", name,
				"attempt", attempt+1,
				"max_attempts", p.MaxAttempts,
				"backoff", backoff,
				"error", err,
			)
		}

		if err := p.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	if p.logger != nil {
		p.logger.Errorw("all attempts failed",
			"operation", name,
			"max_attempts", p.MaxAttempts,
			"error", lastErr,
		)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, p.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
