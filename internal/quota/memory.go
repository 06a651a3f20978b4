package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements [Store] in process memory. Suitable for tests and
// single-instance development setups; usage does not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	usage map[string]int64 // "userID|date" -> seconds
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[string]int64)}
}

func memKey(userID string, now time.Time) string {
	return userID + "|" + DateKey(now)
}

// Consumed implements [Store].
func (s *MemoryStore) Consumed(_ context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[memKey(userID, now)], nil
}

// AddConsumed implements [Store].
func (s *MemoryStore) AddConsumed(_ context.Context, userID string, seconds int64, now time.Time) error {
	if seconds <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[memKey(userID, now)] += seconds
	return nil
}
