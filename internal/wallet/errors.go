package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any I/O.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSelfTransfer rejects transfers where sender and receiver match.
	ErrSelfTransfer = errors.New("cannot transfer to the same wallet")

	// ErrWalletNotFound indicates no wallet record exists for the owner.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists is returned by repositories on a duplicate insert; the
	// losing writer of a provisioning race refetches the winner's record.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrOwnerNotFound indicates the owner id is unknown to the directory.
	ErrOwnerNotFound = errors.New("owner not found")
)

// Authorization failure reasons.
const (
	ReasonFrozen            = "wallet is frozen"
	ReasonInactive          = "wallet is inactive"
	ReasonLimitExceeded     = "daily withdrawal limit exceeded"
	ReasonInsufficientFunds = "insufficient funds"
)

// AuthorizationError rejects an operation on policy grounds before the
// debit reaches the ledger.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "not authorized: " + e.Reason
}

// Unauthorized builds an AuthorizationError for the given reason.
func Unauthorized(reason string) error {
	return &AuthorizationError{Reason: reason}
}

// IsAuthorization reports whether err is an authorization failure, optionally
// matching a specific reason.
func IsAuthorization(err error, reason string) bool {
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		return false
	}
	return reason == "" || authErr.Reason == reason
}

// PersistenceError marks a local commit failure after the ledger already
// settled. The ledger remains the lone truth until the next sync; the commit
// must never be blindly retried because the ledger effect is already applied.
type PersistenceError struct {
	Op        string
	OwnerID   string
	LedgerRef string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: local commit failed after ledger settlement (owner=%s ref=%s, reconciliation needed): %v",
		e.Op, e.OwnerID, e.LedgerRef, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
