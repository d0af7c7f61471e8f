package wallet

import "time"

// TransactionType enumerates the settled operation kinds recorded in the
// local history.
type TransactionType string

const (
	TxDeposit     TransactionType = "deposit"
	TxWithdrawal  TransactionType = "withdrawal"
	TxTransferIn  TransactionType = "transfer_in"
	TxTransferOut TransactionType = "transfer_out"
	TxPayment     TransactionType = "payment"
	TxSale        TransactionType = "sale"
	TxRefund      TransactionType = "refund"
	TxReservation TransactionType = "reservation"
	TxRelease     TransactionType = "release"
)

// Sign returns the balance direction of the transaction type: +1 for
// credits, -1 for debits.
func (t TransactionType) Sign() int64 {
	switch t {
	case TxDeposit, TxTransferIn, TxRefund, TxSale, TxRelease:
		return 1
	case TxWithdrawal, TxTransferOut, TxPayment, TxReservation:
		return -1
	default:
		return 0
	}
}

// Transaction statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Wallet is the local mutable projection of an owner's ledger balance plus
// the policy state the ledger knows nothing about.
type Wallet struct {
	OwnerID string
	Address string
	Balance int64 // minor units, mirrors the ledger

	Currency string
	Active   bool

	Frozen       bool
	FrozenReason string
	FrozenAt     time.Time

	DailyWithdrawalLimit int64
	DailyWithdrawn       int64
	LimitResetDate       time.Time // calendar date, UTC midnight

	TotalDeposited int64
	TotalWithdrawn int64
	TotalSpent     int64
	TotalReceived  int64

	LastSyncedAt time.Time
	CreatedAt    time.Time
}

// Transaction is one immutable row of the wallet's local history. Rows are
// appended exactly once per settled operation and never edited.
type Transaction struct {
	ID             string
	OwnerID        string
	Type           TransactionType
	Amount         int64
	BalanceBefore  int64
	BalanceAfter   int64
	RelatedOrderID string
	RelatedUserID  string
	Description    string
	Status         string
	LedgerRef      string
	CreatedAt      time.Time
}

// CounterDeltas reports how the transaction moves the wallet's aggregate
// counters.
func (t Transaction) CounterDeltas() (deposited, withdrawn, spent, received int64) {
	switch t.Type {
	case TxDeposit:
		deposited = t.Amount
	case TxWithdrawal:
		withdrawn = t.Amount
	case TxTransferOut, TxPayment:
		spent = t.Amount
	case TxTransferIn, TxSale, TxRefund:
		received = t.Amount
	}
	return
}

// Balance is a point-in-time balance answer. Degraded marks the one case
// where a stale cached value is served because the ledger read failed.
type Balance struct {
	OwnerID  string
	Amount   int64
	Currency string
	Degraded bool
	SyncedAt time.Time
}

// DateOnly truncates a time to its UTC calendar date. Daily limits reset on
// calendar-date change, not elapsed time.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
