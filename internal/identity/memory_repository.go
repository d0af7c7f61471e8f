package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]Owner
	byEmail map[string]string
}

// NewMemoryRepository constructs an in-memory owner repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:    make(map[string]Owner),
		byEmail: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, owner Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[owner.Email]; exists {
		return errors.New("email already registered")
	}
	r.byID[owner.ID] = owner
	r.byEmail[owner.Email] = owner.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.byID[id]
	if !ok {
		return Owner{}, ErrNotFound
	}
	return owner, nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return Owner{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	owner.TokenVersion = version
	r.byID[id] = owner
	return nil
}

func (r *memoryRepository) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	owner.LastLogin = at
	r.byID[id] = owner
	return nil
}
