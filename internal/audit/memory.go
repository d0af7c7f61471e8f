package audit

import (
	"context"
	"sync"
)

type memoryInvocationStore struct {
	mu   sync.RWMutex
	recs []InvocationLog
}

// NewMemoryInvocationStore constructs an in-memory invocation store for tests.
func NewMemoryInvocationStore() InvocationStore {
	return &memoryInvocationStore{}
}

func (s *memoryInvocationStore) Append(_ context.Context, rec InvocationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memoryInvocationStore) List(_ context.Context, filter InvocationFilter) ([]InvocationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InvocationLog
	for i := len(s.recs) - 1; i >= 0; i-- {
		rec := s.recs[i]
		if filter.Contract != "" && rec.Contract != filter.Contract {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && rec.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
