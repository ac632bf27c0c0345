package ratelimit

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/finrelay/finrelay/internal/shared/errors"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

// CheckResult reports whether a call is currently within every tier.
type CheckResult struct {
	Allowed      bool
	ExceededTier string
	Usage        map[string]int
	Limits       map[string]int
	RetryAfter   int // seconds, set when not allowed
}

// Acquisition is returned by Acquire when permission is granted.
type Acquisition struct {
	Timestamp time.Time
	Usage     map[string]int
	Limits    map[string]int
}

// SlidingWindowLimiter grants or denies API calls against a set of tiers
// backed by a shared CallStore.
type SlidingWindowLimiter struct {
	store      CallStore
	resourceID string
	tiers      []Tier
	logger     logger.Interface
	now        func() time.Time
}

// NewSlidingWindowLimiter creates a limiter for the given resource. An empty
// tier slice falls back to the Salesforce defaults.
func NewSlidingWindowLimiter(store CallStore, resourceID string, tiers []Tier, log logger.Interface) *SlidingWindowLimiter {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	return &SlidingWindowLimiter{
		store:      store,
		resourceID: resourceID,
		tiers:      tiers,
		logger:     log,
		now:        time.Now,
	}
}

// Check evaluates every tier in declaration order and stops at the first
// exceeded one. Counting failures are treated as zero usage (fail open): a
// false rejection blocks legitimate traffic while the upstream API remains
// the final backstop.
func (l *SlidingWindowLimiter) Check(ctx context.Context) *CheckResult {
	now := l.now()
	usage := make(map[string]int, len(l.tiers))
	limits := make(map[string]int, len(l.tiers))

	for _, tier := range l.tiers {
		count := l.countInWindow(ctx, tier, now)
		usage[tier.Name] = count
		limits[tier.Name] = tier.Limit

		if count >= tier.Limit {
			retryAfter := l.retryAfter(ctx, tier, now)

			l.logger.Warnw("rate limit exceeded",
				"tier", tier.Name,
				"current", count,
				"limit", tier.Limit,
				"retry_after", retryAfter,
			)

			return &CheckResult{
				Allowed:      false,
				ExceededTier: tier.Name,
				Usage:        usage,
				Limits:       limits,
				RetryAfter:   retryAfter,
			}
		}
	}

	return &CheckResult{
		Allowed: true,
		Usage:   usage,
		Limits:  limits,
	}
}

// RecordCall writes one call record into every tier, sharing a single
// millisecond timestamp, and returns the refreshed per-tier usage. All tiers
// are written regardless of which was near its limit: a call consumes quota
// uniformly.
func (l *SlidingWindowLimiter) RecordCall(ctx context.Context) (map[string]int, error) {
	now := l.now()
	usage := make(map[string]int, len(l.tiers))

	for _, tier := range l.tiers {
		// TTL of 2x the window tolerates clock skew between writers.
		if err := l.store.Record(ctx, l.resourceID, tier.Name, now, 2*tier.Window); err != nil {
			return nil, fmt.Errorf("failed to record call in tier %s: %w", tier.Name, err)
		}
		usage[tier.Name] = l.countInWindow(ctx, tier, now)
	}

	return usage, nil
}

// Acquire checks all tiers and, if allowed, records the call. On denial a
// *errors.RateLimitError is returned and no quota is consumed. This is the
// method callers should use for every CRM network call.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context) (*Acquisition, error) {
	check := l.Check(ctx)
	if !check.Allowed {
		return nil, apperrors.NewRateLimitError(check.ExceededTier, check.Usage, check.Limits, check.RetryAfter)
	}

	usage, err := l.RecordCall(ctx)
	if err != nil {
		return nil, err
	}

	return &Acquisition{
		Timestamp: l.now(),
		Usage:     usage,
		Limits:    check.Limits,
	}, nil
}

// Usage returns the current per-tier call counts.
func (l *SlidingWindowLimiter) Usage(ctx context.Context) map[string]int {
	now := l.now()
	usage := make(map[string]int, len(l.tiers))
	for _, tier := range l.tiers {
		usage[tier.Name] = l.countInWindow(ctx, tier, now)
	}
	return usage
}

// Limits returns the configured per-tier limits.
func (l *SlidingWindowLimiter) Limits() map[string]int {
	limits := make(map[string]int, len(l.tiers))
	for _, tier := range l.tiers {
		limits[tier.Name] = tier.Limit
	}
	return limits
}

func (l *SlidingWindowLimiter) countInWindow(ctx context.Context, tier Tier, now time.Time) int {
	count, err := l.store.CountSince(ctx, l.resourceID, tier.Name, now.Add(-tier.Window))
	if err != nil {
		l.logger.Warnw("failed to count calls, failing open",
			"tier", tier.Name,
			"error", err,
		)
		return 0
	}
	return count
}

// retryAfter computes how long to wait until the oldest call in the window
// ages out, plus a one second buffer. Falls back to the full window when the
// window is unexpectedly empty or the store query fails.
func (l *SlidingWindowLimiter) retryAfter(ctx context.Context, tier Tier, now time.Time) int {
	oldest, found, err := l.store.OldestSince(ctx, l.resourceID, tier.Name, now.Add(-tier.Window))
	if err != nil {
		l.logger.Warnw("failed to query oldest call record",
			"tier", tier.Name,
			"error", err,
		)
		return int(tier.Window / time.Second)
	}
	if !found {
		return int(tier.Window / time.Second)
	}

	expiresAtMs := oldest.UnixMilli() + tier.Window.Milliseconds()
	retryAfterMs := expiresAtMs - now.UnixMilli()

	retryAfter := int(retryAfterMs/1000) + 1
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter
}
