package availability

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu    sync.Mutex
	slots map[string]map[string]struct{} // provider:date -> set of time labels
}

// NewMemoryStore has the same semantics as the Redis store with a process-wide
// mutex standing in for Redis command atomicity. Used by tests and the
// booking simulator.
func NewMemoryStore() Store {
	return &memoryStore{slots: make(map[string]map[string]struct{})}
}

func (s *memoryStore) IsReserved(_ context.Context, providerID uuid.UUID, date, timeLabel string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day, ok := s.slots[slotKey(providerID, date)]
	if !ok {
		return false, nil
	}
	_, taken := day[timeLabel]
	return taken, nil
}

func (s *memoryStore) Reserve(_ context.Context, providerID uuid.UUID, date, timeLabel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey(providerID, date)
	day, ok := s.slots[key]
	if !ok {
		day = make(map[string]struct{})
		s.slots[key] = day
	}
	if _, taken := day[timeLabel]; taken {
		return ErrAlreadyReserved
	}
	day[timeLabel] = struct{}{}
	return nil
}

func (s *memoryStore) Release(_ context.Context, providerID uuid.UUID, date, timeLabel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if day, ok := s.slots[slotKey(providerID, date)]; ok {
		delete(day, timeLabel)
	}
	return nil
}

func (s *memoryStore) ReservedTimes(_ context.Context, providerID uuid.UUID, date string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := s.slots[slotKey(providerID, date)]
	times := make([]string, 0, len(day))
	for t := range day {
		times = append(times, t)
	}
	sort.Strings(times)
	return times, nil
}
