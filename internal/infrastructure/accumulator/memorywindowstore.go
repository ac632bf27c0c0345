package accumulator

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryWindowStore is an in-memory WindowStore for tests and local
// development.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[BatchType]*memoryWindow
}

type memoryWindow struct {
	windowStart time.Time
	events      []json.RawMessage
	expiry      time.Time
}

var _ WindowStore = (*MemoryWindowStore)(nil)

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		windows: make(map[BatchType]*memoryWindow),
	}
}

func (s *MemoryWindowStore) Append(ctx context.Context, batchType BatchType, event json.RawMessage, at time.Time, ttl time.Duration) (AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[batchType]
	if ok && !w.expiry.After(at) {
		ok = false
	}
	if !ok {
		w = &memoryWindow{windowStart: at}
		s.windows[batchType] = w
	}

	w.events = append(w.events, append(json.RawMessage(nil), event...))
	w.expiry = at.Add(ttl)

	return AppendResult{
		WindowID:    w.windowStart.UnixMilli(),
		WindowStart: w.windowStart,
		RecordCount: len(w.events),
	}, nil
}

func (s *MemoryWindowStore) Get(ctx context.Context, batchType BatchType) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[batchType]
	if !ok {
		return nil, nil
	}

	events := make([]json.RawMessage, len(w.events))
	copy(events, w.events)

	return &Window{
		BatchType:   batchType,
		WindowID:    w.windowStart.UnixMilli(),
		Events:      events,
		WindowStart: w.windowStart,
		RecordCount: len(events),
	}, nil
}

func (s *MemoryWindowStore) Delete(ctx context.Context, batchType BatchType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.windows, batchType)
	return nil
}
