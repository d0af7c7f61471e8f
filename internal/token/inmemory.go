package token

import (
	"context"
	"sync"
	"time"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	refs     map[string]struct{}
	history  map[string][]Entry

	failMu   sync.Mutex
	failures map[string]error
}

// NewInMemory creates a concurrency-safe in-memory token ledger useful for
// unit tests. It mirrors the contract's semantics: idempotent account
// creation, reference-id dedupe and atomic transfers.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		accounts: make(map[string]*Account),
		refs:     make(map[string]struct{}),
		history:  make(map[string][]Entry),
		failures: make(map[string]error),
	}
}

func (l *inMemoryLedger) CreateAccount(_ context.Context, ownerID, address string, initialBalance int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure("CreateAccount"); err != nil {
		return err
	}
	if _, exists := l.accounts[ownerID]; exists {
		return nil
	}
	l.accounts[ownerID] = &Account{
		OwnerID:   ownerID,
		Address:   address,
		Balance:   initialBalance,
		CreatedAt: time.Now().UnixMilli(),
	}
	return nil
}

func (l *inMemoryLedger) BalanceOf(_ context.Context, ownerID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.takeFailure("BalanceOf"); err != nil {
		return 0, err
	}
	account, exists := l.accounts[ownerID]
	if !exists {
		return 0, ErrAccountNotFound
	}
	return account.Balance, nil
}

func (l *inMemoryLedger) GetAccount(_ context.Context, ownerID string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	account, exists := l.accounts[ownerID]
	if !exists {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

func (l *inMemoryLedger) Mint(_ context.Context, ownerID string, amount int64, reason, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure("Mint"); err != nil {
		return err
	}
	if l.seenRef(ref) {
		return nil
	}
	account, exists := l.accounts[ownerID]
	if !exists {
		return ErrAccountNotFound
	}
	account.Balance += amount
	l.record(ownerID, Entry{Ref: ref, Kind: "mint", Amount: amount, Description: reason, Timestamp: time.Now().UTC()})
	return nil
}

func (l *inMemoryLedger) Burn(_ context.Context, ownerID string, amount int64, reason, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure("Burn"); err != nil {
		return err
	}
	if l.seenRef(ref) {
		return nil
	}
	account, exists := l.accounts[ownerID]
	if !exists {
		return ErrAccountNotFound
	}
	if account.Balance < amount {
		return ErrInsufficientFunds
	}
	account.Balance -= amount
	l.record(ownerID, Entry{Ref: ref, Kind: "burn", Amount: -amount, Description: reason, Timestamp: time.Now().UTC()})
	return nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, fromID, toID string, amount int64, description, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure("Transfer"); err != nil {
		return err
	}
	if l.seenRef(ref) {
		return nil
	}
	from, exists := l.accounts[fromID]
	if !exists {
		return ErrAccountNotFound
	}
	to, exists := l.accounts[toID]
	if !exists {
		return ErrAccountNotFound
	}
	if from.Balance < amount {
		return ErrInsufficientFunds
	}
	from.Balance -= amount
	to.Balance += amount
	now := time.Now().UTC()
	l.record(fromID, Entry{Ref: ref, Kind: "transfer_out", Amount: -amount, Counterparty: toID, Description: description, Timestamp: now})
	l.record(toID, Entry{Ref: ref, Kind: "transfer_in", Amount: amount, Counterparty: fromID, Description: description, Timestamp: now})
	return nil
}

func (l *inMemoryLedger) History(_ context.Context, ownerID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.history[ownerID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// seenRef marks the reference as applied; a repeated ref means the earlier
// submit settled and the call is a no-op.
func (l *inMemoryLedger) seenRef(ref string) bool {
	if ref == "" {
		return false
	}
	if _, seen := l.refs[ref]; seen {
		return true
	}
	l.refs[ref] = struct{}{}
	return false
}

func (l *inMemoryLedger) record(ownerID string, entry Entry) {
	l.history[ownerID] = append(l.history[ownerID], entry)
}

// takeFailure pops a scripted failure for the operation, if any.
func (l *inMemoryLedger) takeFailure(op string) error {
	l.failMu.Lock()
	defer l.failMu.Unlock()
	if err, ok := l.failures[op]; ok {
		delete(l.failures, op)
		return err
	}
	return nil
}
