package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrLedgerUnavailable occurs when the ledger session cannot be established.
	// Payment-critical callers treat this as fatal, never as a degraded mode.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrUnknownContract indicates a contract name outside the resolved set.
	// This is a programming error and is never retried.
	ErrUnknownContract = errors.New("unknown contract")
)

// InvocationError wraps a failure returned by the ledger network for a
// specific call. It is always audit-logged before being returned.
type InvocationError struct {
	Contract string
	Function string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s.%s: %v", e.Contract, e.Function, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
