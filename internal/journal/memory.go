package journal

import (
	"context"
	"sync"
)

// MemoryStore is an in-process EventStore.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryStore(events ...Event) *MemoryStore {
	return &MemoryStore{events: append([]Event(nil), events...)}
}

func (s *MemoryStore) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), nil
}

// Len reports how many events were appended.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var _ EventStore = (*MemoryStore)(nil)
