// Package accumulator persists partially-filled batches of events keyed by
// type and decides when a batch is ready for bulk submission: when it holds
// enough records or has been open long enough.
package accumulator

import (
	"context"
	"encoding/json"
	"time"
)

// BatchType is a logical category of accumulatable events sharing one
// window, e.g. customer profile updates.
type BatchType string

const (
	BatchTypeCustomerUpdate BatchType = "customer_update"
)

// KnownBatchTypes lists every batch type the relay accumulates. The
// processor scans all of them on each invocation to drain overdue windows,
// so this set must stay small.
func KnownBatchTypes() []BatchType {
	return []BatchType{BatchTypeCustomerUpdate}
}

// Window is one open accumulation window. WindowID is the window start in
// unix milliseconds and never changes once the window exists.
type Window struct {
	BatchType   BatchType
	WindowID    int64
	Events      []json.RawMessage
	WindowStart time.Time
	RecordCount int
}

// AppendResult reports the window state right after an append.
type AppendResult struct {
	WindowID    int64
	WindowStart time.Time
	RecordCount int
}

// WindowStore persists accumulation windows, one active window per batch
// type. Append must be atomic: concurrent invocations appending to the same
// batch type must never lose events, and window creation must be
// create-if-absent rather than read-then-write.
type WindowStore interface {
	// Append adds an event to the open window for batchType, creating the
	// window with windowStart = at if none exists. The window expires after
	// ttl as a safety net against orphans.
	Append(ctx context.Context, batchType BatchType, event json.RawMessage, at time.Time, ttl time.Duration) (AppendResult, error)

	// Get returns the open window for batchType, or nil when none exists.
	Get(ctx context.Context, batchType BatchType) (*Window, error)

	// Delete removes the window for batchType. The next Append implicitly
	// starts a fresh window.
	Delete(ctx context.Context, batchType BatchType) error
}
