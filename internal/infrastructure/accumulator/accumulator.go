package accumulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finrelay/finrelay/internal/shared/config"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

const (
	DefaultSizeThreshold = 200
	DefaultTimeThreshold = 30 * time.Second
	DefaultWindowTTL     = 24 * time.Hour
)

// AddResult reports the window state after adding one event, including
// whether the window crossed a readiness threshold with this add.
type AddResult struct {
	BatchType   BatchType
	WindowID    int64
	RecordCount int
	WindowAge   time.Duration
	BatchReady  bool
}

// Stats is a snapshot of one open window, for readiness scans and health
// reporting.
type Stats struct {
	BatchType   BatchType
	WindowID    int64
	RecordCount int
	WindowAge   time.Duration
	Ready       bool
}

// Accumulator collects events into per-type windows and marks a window
// ready once it holds sizeThreshold records or has been open for
// timeThreshold. Submitting a batch deletes its window; the next add starts
// a fresh one.
type Accumulator struct {
	store         WindowStore
	sizeThreshold int
	timeThreshold time.Duration
	windowTTL     time.Duration
	logger        logger.Interface
	now           func() time.Time
}

func NewAccumulator(store WindowStore, cfg *config.BatchConfig, log logger.Interface) *Accumulator {
	a := &Accumulator{
		store:         store,
		sizeThreshold: DefaultSizeThreshold,
		timeThreshold: DefaultTimeThreshold,
		windowTTL:     DefaultWindowTTL,
		logger:        log,
		now:           time.Now,
	}
	if cfg != nil {
		if cfg.SizeThreshold > 0 {
			a.sizeThreshold = cfg.SizeThreshold
		}
		if cfg.TimeThreshold > 0 {
			a.timeThreshold = cfg.TimeThresholdDuration()
		}
		if cfg.WindowTTLHours > 0 {
			a.windowTTL = time.Duration(cfg.WindowTTLHours) * time.Hour
		}
	}
	return a
}

// AddEvent appends one event to the open window for batchType, creating the
// window if needed, and reports whether the window is now ready.
func (a *Accumulator) AddEvent(ctx context.Context, batchType BatchType, event json.RawMessage) (*AddResult, error) {
	now := a.now()

	res, err := a.store.Append(ctx, batchType, event, now, a.windowTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to add event to batch %s: %w", batchType, err)
	}

	age := now.Sub(res.WindowStart)
	ready := res.RecordCount >= a.sizeThreshold || age >= a.timeThreshold

	if ready {
		a.logger.Infow("batch ready",
			"batch_type", batchType,
			"window_id", res.WindowID,
			"record_count", res.RecordCount,
			"window_age", age.String(),
		)
	}

	return &AddResult{
		BatchType:   batchType,
		WindowID:    res.WindowID,
		RecordCount: res.RecordCount,
		WindowAge:   age,
		BatchReady:  ready,
	}, nil
}

// GetBatch returns the open window for batchType if it is ready for
// submission, or nil when there is no window or it is not ready yet. A
// not-ready window is not an error.
func (a *Accumulator) GetBatch(ctx context.Context, batchType BatchType) (*Window, error) {
	w, err := a.store.Get(ctx, batchType)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", batchType, err)
	}
	if w == nil {
		return nil, nil
	}
	if !a.isReady(w) {
		return nil, nil
	}
	return w, nil
}

// SubmitBatch marks a window as handed off by deleting it. The caller is
// responsible for having captured the window contents first.
func (a *Accumulator) SubmitBatch(ctx context.Context, batchType BatchType) error {
	if err := a.store.Delete(ctx, batchType); err != nil {
		return fmt.Errorf("failed to submit batch %s: %w", batchType, err)
	}
	a.logger.Infow("batch submitted", "batch_type", batchType)
	return nil
}

// Stats returns a snapshot of the open window for batchType, or nil when no
// window exists.
func (a *Accumulator) Stats(ctx context.Context, batchType BatchType) (*Stats, error) {
	w, err := a.store.Get(ctx, batchType)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch stats for %s: %w", batchType, err)
	}
	if w == nil {
		return nil, nil
	}
	return &Stats{
		BatchType:   batchType,
		WindowID:    w.WindowID,
		RecordCount: w.RecordCount,
		WindowAge:   a.now().Sub(w.WindowStart),
		Ready:       a.isReady(w),
	}, nil
}

// AllStats snapshots every known batch type that currently has an open
// window.
func (a *Accumulator) AllStats(ctx context.Context) ([]Stats, error) {
	var out []Stats
	for _, bt := range KnownBatchTypes() {
		s, err := a.Stats(ctx, bt)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (a *Accumulator) isReady(w *Window) bool {
	if w.RecordCount >= a.sizeThreshold {
		return true
	}
	return a.now().Sub(w.WindowStart) >= a.timeThreshold
}
