package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCallStore is an in-process CallStore used in tests and single-node
// development setups.
type MemoryCallStore struct {
	mu      sync.Mutex
	records map[string][]memoryCallRecord
}

type memoryCallRecord struct {
	at     time.Time
	expiry time.Time
}

// NewMemoryCallStore creates an empty in-memory call store.
func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{records: make(map[string][]memoryCallRecord)}
}

var _ CallStore = (*MemoryCallStore)(nil)

func (s *MemoryCallStore) key(resourceID, tier string) string {
	return resourceID + ":" + tier
}

func (s *MemoryCallStore) CountSince(ctx context.Context, resourceID, tier string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.records[s.key(resourceID, tier)] {
		if !r.at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryCallStore) OldestSince(ctx context.Context, resourceID, tier string, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest time.Time
	found := false
	for _, r := range s.records[s.key(resourceID, tier)] {
		if r.at.Before(since) {
			continue
		}
		if !found || r.at.Before(oldest) {
			oldest = r.at
			found = true
		}
	}
	return oldest, found, nil
}

func (s *MemoryCallStore) Record(ctx context.Context, resourceID, tier string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(resourceID, tier)
	records := s.records[key]

	// Drop expired records relative to the new call's clock.
	kept := records[:0]
	for _, r := range records {
		if r.expiry.After(at) {
			kept = append(kept, r)
		}
	}
	kept = append(kept, memoryCallRecord{at: at, expiry: at.Add(ttl)})
	sort.Slice(kept, func(i, j int) bool { return kept[i].at.Before(kept[j].at) })
	s.records[key] = kept

	return nil
}
