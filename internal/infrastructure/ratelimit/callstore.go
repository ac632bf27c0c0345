package ratelimit

import (
	"context"
	"time"
)

// CallStore persists one record per API call attempt, partitioned by
// resource and tier. Records are garbage-collected after twice the tier
// window so the sliding window never undercounts from premature deletion.
type CallStore interface {
	// CountSince returns the number of call records with timestamp >= since.
	CountSince(ctx context.Context, resourceID, tier string, since time.Time) (int, error)

	// OldestSince returns the oldest call record with timestamp >= since.
	// The second return is false when no record exists in the range.
	OldestSince(ctx context.Context, resourceID, tier string, since time.Time) (time.Time, bool, error)

	// Record persists a call record with the given timestamp. The record
	// expires after ttl.
	Record(ctx context.Context, resourceID, tier string, at time.Time, ttl time.Duration) error
}
