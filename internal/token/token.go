package token

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the ledger balance cannot cover a
	// requested burn or transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound indicates the owner has no account on the ledger.
	ErrAccountNotFound = errors.New("ledger account not found")

	// ErrDuplicateRef indicates the reference id was already applied; the
	// operation should be treated as settled, not as a failure.
	ErrDuplicateRef = errors.New("duplicate reference")
)

// Account is the ledger-side record for an owner.
type Account struct {
	OwnerID   string `json:"owner_id"`
	Address   string `json:"address"`
	Balance   int64  `json:"balance"`
	CreatedAt int64  `json:"created_at"`
}

// Entry is one row of the ledger's immutable per-account history. Used only
// for reconciliation, never as a primary read path.
type Entry struct {
	Ref          string    `json:"ref"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount"`
	Counterparty string    `json:"counterparty"`
	Description  string    `json:"description"`
	Timestamp    time.Time `json:"timestamp"`
}

// Ledger exposes the token contract's operations. Amounts are in minor
// units and must be positive. Mint, Burn and Transfer take a caller-supplied
// reference id the ledger deduplicates on, making retries safe.
type Ledger interface {
	// CreateAccount is idempotent: an account that already exists is success.
	CreateAccount(ctx context.Context, ownerID, address string, initialBalance int64) error
	BalanceOf(ctx context.Context, ownerID string) (int64, error)
	GetAccount(ctx context.Context, ownerID string) (Account, error)
	Mint(ctx context.Context, ownerID string, amount int64, reason, ref string) error
	Burn(ctx context.Context, ownerID string, amount int64, reason, ref string) error
	// Transfer moves value between two owners atomically; on failure the
	// ledger guarantees neither side changed.
	Transfer(ctx context.Context, fromID, toID string, amount int64, description, ref string) error
	History(ctx context.Context, ownerID string) ([]Entry, error)
}
