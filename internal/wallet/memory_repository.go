package wallet

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	transactions map[string][]Transaction

	failApply error
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		wallets:      make(map[string]Wallet),
		transactions: make(map[string][]Transaction),
	}
}

// FailNextApply makes the next Apply/ApplyTransfer on a memory repository
// fail, simulating a local commit failure after ledger settlement.
func FailNextApply(r Repository, err error) {
	if mem, ok := r.(*memoryRepository); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failApply = err
	}
}

func (r *memoryRepository) Create(_ context.Context, w Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.wallets[w.OwnerID]; exists {
		return ErrWalletExists
	}
	r.wallets[w.OwnerID] = w
	return nil
}

func (r *memoryRepository) GetByOwner(_ context.Context, ownerID string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (r *memoryRepository) Apply(_ context.Context, s Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeApplyFailure(); err != nil {
		return err
	}
	return r.applyLocked(s)
}

func (r *memoryRepository) ApplyTransfer(_ context.Context, out, in Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeApplyFailure(); err != nil {
		return err
	}
	if _, ok := r.wallets[out.OwnerID]; !ok {
		return ErrWalletNotFound
	}
	if _, ok := r.wallets[in.OwnerID]; !ok {
		return ErrWalletNotFound
	}
	if err := r.applyLocked(out); err != nil {
		return err
	}
	return r.applyLocked(in)
}

func (r *memoryRepository) applyLocked(s Settlement) error {
	w, ok := r.wallets[s.OwnerID]
	if !ok {
		return ErrWalletNotFound
	}
	deposited, withdrawn, spent, received := s.Tx.CounterDeltas()
	w.Balance = s.Balance
	w.DailyWithdrawn = s.DailyWithdrawn
	w.LimitResetDate = s.LimitResetDate
	w.LastSyncedAt = s.SyncedAt
	w.TotalDeposited += deposited
	w.TotalWithdrawn += withdrawn
	w.TotalSpent += spent
	w.TotalReceived += received
	r.wallets[s.OwnerID] = w
	r.transactions[s.OwnerID] = append(r.transactions[s.OwnerID], s.Tx)
	return nil
}

func (r *memoryRepository) SetBalance(_ context.Context, ownerID string, balance int64, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[ownerID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Balance = balance
	w.LastSyncedAt = syncedAt
	r.wallets[ownerID] = w
	return nil
}

func (r *memoryRepository) SetFrozen(_ context.Context, ownerID string, frozen bool, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[ownerID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Frozen = frozen
	w.FrozenReason = reason
	w.FrozenAt = at
	r.wallets[ownerID] = w
	return nil
}

func (r *memoryRepository) ListTransactions(_ context.Context, ownerID string, filter TransactionFilter) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.transactions[ownerID]

	var matched []Transaction
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && t.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && t.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, t)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (r *memoryRepository) takeApplyFailure() error {
	if r.failApply != nil {
		err := r.failApply
		r.failApply = nil
		return err
	}
	return nil
}
