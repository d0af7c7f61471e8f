package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tokenmart/tokenmart/internal/audit"
	"github.com/tokenmart/tokenmart/internal/identity"
	"github.com/tokenmart/tokenmart/internal/notification"
	"github.com/tokenmart/tokenmart/internal/token"
)

// Policy carries the wallet defaults applied at provisioning time.
type Policy struct {
	Currency             string
	DailyWithdrawalLimit int64
}

// Service is the wallet settlement service: the sole writer of the wallet
// cache. Every operation is "ledger call, then local atomic commit" — local
// state never changes before the ledger confirms a debit or credit.
type Service struct {
	repo     Repository
	ledger   token.Ledger
	owners   identity.Directory
	notifier notification.Notifier
	security audit.SecurityStore
	logger   *slog.Logger
	policy   Policy

	locks *ownerLocks
}

// NewService builds the settlement service.
func NewService(repo Repository, ledger token.Ledger, owners identity.Directory,
	notifier notification.Notifier, security audit.SecurityStore,
	logger *slog.Logger, policy Policy) *Service {
	if policy.Currency == "" {
		policy.Currency = "TOK"
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		owners:   owners,
		notifier: notifier,
		security: security,
		logger:   logger,
		policy:   policy,
		locks:    newOwnerLocks(),
	}
}

// GetOrCreateWallet provisions a wallet lazily on first use. The loser of a
// concurrent provisioning race fetches and returns the winner's record.
func (s *Service) GetOrCreateWallet(ctx context.Context, ownerID string) (Wallet, error) {
	w, err := s.repo.GetByOwner(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, err
	}

	owner, err := s.owners.Lookup(ctx, ownerID)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, ownerID)
	}

	// "Already exists" from the ledger is success: another writer or an
	// earlier attempt won the race on the ledger side.
	if err := s.ledger.CreateAccount(ctx, ownerID, owner.LedgerAddress, 0); err != nil {
		return Wallet{}, err
	}

	now := time.Now().UTC()
	w = Wallet{
		OwnerID:              ownerID,
		Address:              owner.LedgerAddress,
		Balance:              0,
		Currency:             s.policy.Currency,
		Active:               true,
		DailyWithdrawalLimit: s.policy.DailyWithdrawalLimit,
		LimitResetDate:       DateOnly(now),
		CreatedAt:            now,
	}

	if err := s.repo.Create(ctx, w); err != nil {
		if errors.Is(err, ErrWalletExists) {
			return s.repo.GetByOwner(ctx, ownerID)
		}
		return Wallet{}, err
	}
	return w, nil
}

// GetBalance reads the ledger balance and refreshes the cache. On a ledger
// read failure it serves the last cached value flagged as degraded — the
// only path where a stale cache is tolerated.
func (s *Service) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	// The cache refresh below writes the wallet row, so it serializes with
	// settlements the same way they serialize with each other.
	unlock := s.locks.lock(ownerID)
	defer unlock()

	w, err := s.GetOrCreateWallet(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}

	amount, err := s.ledger.BalanceOf(ctx, ownerID)
	if err != nil {
		s.logger.Warn("ledger read failed, serving cached balance",
			"owner_id", ownerID, "error", err)
		return Balance{
			OwnerID:  ownerID,
			Amount:   w.Balance,
			Currency: w.Currency,
			Degraded: true,
			SyncedAt: w.LastSyncedAt,
		}, nil
	}

	now := time.Now().UTC()
	if amount != w.Balance {
		if err := s.repo.SetBalance(ctx, ownerID, amount, now); err != nil {
			s.logger.Warn("balance cache refresh failed", "owner_id", ownerID, "error", err)
		}
	}
	return Balance{OwnerID: ownerID, Amount: amount, Currency: w.Currency, SyncedAt: now}, nil
}

// CanAfford reports whether the owner's balance covers the amount.
func (s *Service) CanAfford(ctx context.Context, ownerID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	balance, err := s.GetBalance(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return balance.Amount >= amount, nil
}

// AddFundsInput captures a deposit request.
type AddFundsInput struct {
	OwnerID  string
	Amount   int64
	Method   string
	Metadata map[string]string
}

// AddFunds mints the deposited amount on the ledger, then commits the
// credit locally. A ledger failure aborts with no local mutation.
func (s *Service) AddFunds(ctx context.Context, input AddFundsInput) (Transaction, error) {
	if input.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	unlock := s.locks.lock(input.OwnerID)
	defer unlock()

	w, err := s.GetOrCreateWallet(ctx, input.OwnerID)
	if err != nil {
		return Transaction{}, err
	}
	if !w.Active {
		return Transaction{}, Unauthorized(ReasonInactive)
	}
	if w.Frozen {
		return Transaction{}, Unauthorized(ReasonFrozen)
	}

	ref := uuid.NewString()
	if err := s.ledger.Mint(ctx, input.OwnerID, input.Amount, "deposit:"+input.Method, ref); err != nil {
		return Transaction{}, err
	}

	now := time.Now().UTC()
	tx := Transaction{
		ID:            uuid.NewString(),
		OwnerID:       input.OwnerID,
		Type:          TxDeposit,
		Amount:        input.Amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  w.Balance + input.Amount,
		Description:   "deposit via " + input.Method,
		Status:        StatusCompleted,
		LedgerRef:     ref,
		CreatedAt:     now,
	}
	if err := s.commit(ctx, "add funds", w, tx, w.DailyWithdrawn, w.LimitResetDate); err != nil {
		return Transaction{}, err
	}

	s.notify(ctx, notification.Message{
		OwnerID:  input.OwnerID,
		Category: notification.CategoryDeposit,
		Body:     fmt.Sprintf("Your wallet was credited with %d %s", input.Amount, w.Currency),
		Context:  map[string]string{"amount": strconv.FormatInt(input.Amount, 10), "method": input.Method},
	})
	return tx, nil
}

// WithdrawInput captures a withdrawal request to an external rail.
type WithdrawInput struct {
	OwnerID        string
	Amount         int64
	Method         string
	AccountDetails string
}

// WithdrawFunds burns the amount on the ledger after the daily-limit and
// balance checks pass. When the local pre-check fails, no ledger debit is
// made; the ledger is queried only to classify the error accurately.
func (s *Service) WithdrawFunds(ctx context.Context, input WithdrawInput) (Transaction, error) {
	if input.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	unlock := s.locks.lock(input.OwnerID)
	defer unlock()

	w, err := s.GetOrCreateWallet(ctx, input.OwnerID)
	if err != nil {
		return Transaction{}, err
	}

	// Calendar-date reset, not elapsed time.
	today := DateOnly(time.Now())
	dailyWithdrawn := w.DailyWithdrawn
	resetDate := w.LimitResetDate
	if resetDate.Before(today) {
		dailyWithdrawn = 0
		resetDate = today
	}

	if w.Frozen {
		return Transaction{}, Unauthorized(ReasonFrozen)
	}
	if !w.Active {
		return Transaction{}, Unauthorized(ReasonInactive)
	}
	if dailyWithdrawn+input.Amount > w.DailyWithdrawalLimit {
		return Transaction{}, Unauthorized(ReasonLimitExceeded)
	}

	ledgerBalance, err := s.ledger.BalanceOf(ctx, input.OwnerID)
	if err != nil {
		return Transaction{}, err
	}
	if ledgerBalance < input.Amount {
		return Transaction{}, Unauthorized(ReasonInsufficientFunds)
	}

	ref := uuid.NewString()
	if err := s.ledger.Burn(ctx, input.OwnerID, input.Amount, "withdrawal:"+input.Method, ref); err != nil {
		if errors.Is(err, token.ErrInsufficientFunds) {
			return Transaction{}, Unauthorized(ReasonInsufficientFunds)
		}
		return Transaction{}, err
	}

	now := time.Now().UTC()
	tx := Transaction{
		ID:            uuid.NewString(),
		OwnerID:       input.OwnerID,
		Type:          TxWithdrawal,
		Amount:        input.Amount,
		BalanceBefore: ledgerBalance,
		BalanceAfter:  ledgerBalance - input.Amount,
		Description:   "withdrawal via " + input.Method,
		Status:        StatusCompleted,
		LedgerRef:     ref,
		CreatedAt:     now,
	}
	if err := s.commit(ctx, "withdraw funds", w, tx, dailyWithdrawn+input.Amount, resetDate); err != nil {
		return Transaction{}, err
	}

	s.notify(ctx, notification.Message{
		OwnerID:  input.OwnerID,
		Category: notification.CategoryWithdrawal,
		Body:     fmt.Sprintf("Withdrawal of %d %s submitted", input.Amount, w.Currency),
		Context:  map[string]string{"amount": strconv.FormatInt(input.Amount, 10), "method": input.Method},
	})
	return tx, nil
}

// TransferInput captures a peer transfer request.
type TransferInput struct {
	FromOwnerID string
	ToOwnerID   string
	Amount      int64
	Description string
}

// TransferResult returns both legs of a settled transfer.
type TransferResult struct {
	Out Transaction
	In  Transaction
}

// TransferCredits moves value between two owners. The ledger transfer is the
// unit of atomicity; on success two cross-referencing transactions are
// committed locally in one unit.
func (s *Service) TransferCredits(ctx context.Context, input TransferInput) (TransferResult, error) {
	return s.settleTransfer(ctx, transferParams{
		fromOwnerID: input.FromOwnerID,
		toOwnerID:   input.ToOwnerID,
		amount:      input.Amount,
		description: input.Description,
		outType:     TxTransferOut,
		inType:      TxTransferIn,
		category:    notification.CategoryTransfer,
	})
}

// PaymentInput captures an order settlement between payer and payee.
type PaymentInput struct {
	PayerID     string
	PayeeID     string
	OrderID     string
	Amount      int64
	Description string
}

// ProcessPaymentWithCredit settles an order with a ledger transfer, tagging
// the records payment (payer) and sale (payee) so reporting can separate
// commerce settlement from peer transfers.
func (s *Service) ProcessPaymentWithCredit(ctx context.Context, input PaymentInput) (TransferResult, error) {
	return s.settleTransfer(ctx, transferParams{
		fromOwnerID: input.PayerID,
		toOwnerID:   input.PayeeID,
		amount:      input.Amount,
		description: input.Description,
		orderID:     input.OrderID,
		outType:     TxPayment,
		inType:      TxSale,
		category:    notification.CategorySale,
	})
}

// ProcessPayment validates and records the payer's debit locally without
// performing the ledger transfer itself. It exists for callers that split
// "authorize" from "settle" inside a larger enclosing transaction; such
// callers must not also invoke ProcessPaymentWithCredit for the same order.
func (s *Service) ProcessPayment(ctx context.Context, input PaymentInput) (Transaction, error) {
	if input.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	unlock := s.locks.lock(input.PayerID)
	defer unlock()

	w, err := s.GetOrCreateWallet(ctx, input.PayerID)
	if err != nil {
		return Transaction{}, err
	}
	if w.Frozen {
		return Transaction{}, Unauthorized(ReasonFrozen)
	}
	if !w.Active {
		return Transaction{}, Unauthorized(ReasonInactive)
	}

	ledgerBalance, err := s.ledger.BalanceOf(ctx, input.PayerID)
	if err != nil {
		return Transaction{}, err
	}
	if ledgerBalance < input.Amount {
		return Transaction{}, Unauthorized(ReasonInsufficientFunds)
	}

	now := time.Now().UTC()
	tx := Transaction{
		ID:             uuid.NewString(),
		OwnerID:        input.PayerID,
		Type:           TxPayment,
		Amount:         input.Amount,
		BalanceBefore:  ledgerBalance,
		BalanceAfter:   ledgerBalance - input.Amount,
		RelatedOrderID: input.OrderID,
		Description:    input.Description,
		Status:         StatusPending,
		CreatedAt:      now,
	}
	if err := s.commit(ctx, "process payment", w, tx, w.DailyWithdrawn, w.LimitResetDate); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// RefundInput captures a refund issued against an order.
type RefundInput struct {
	RecipientID string
	OrderID     string
	Amount      int64
	Description string
}

// ProcessRefund mints new value to the recipient, tagged refund. It does not
// claw back funds from the original payee. Refunds are allowed even when the
// recipient wallet is frozen: freezing blocks debits, not value already owed.
func (s *Service) ProcessRefund(ctx context.Context, input RefundInput) (Transaction, error) {
	if input.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	unlock := s.locks.lock(input.RecipientID)
	defer unlock()

	w, err := s.GetOrCreateWallet(ctx, input.RecipientID)
	if err != nil {
		return Transaction{}, err
	}
	if !w.Active {
		return Transaction{}, Unauthorized(ReasonInactive)
	}

	ref := uuid.NewString()
	if err := s.ledger.Mint(ctx, input.RecipientID, input.Amount, "refund:"+input.OrderID, ref); err != nil {
		return Transaction{}, err
	}

	now := time.Now().UTC()
	tx := Transaction{
		ID:             uuid.NewString(),
		OwnerID:        input.RecipientID,
		Type:           TxRefund,
		Amount:         input.Amount,
		BalanceBefore:  w.Balance,
		BalanceAfter:   w.Balance + input.Amount,
		RelatedOrderID: input.OrderID,
		Description:    input.Description,
		Status:         StatusCompleted,
		LedgerRef:      ref,
		CreatedAt:      now,
	}
	if err := s.commit(ctx, "process refund", w, tx, w.DailyWithdrawn, w.LimitResetDate); err != nil {
		return Transaction{}, err
	}

	s.notify(ctx, notification.Message{
		OwnerID:  input.RecipientID,
		Category: notification.CategoryRefund,
		Body:     fmt.Sprintf("Refund of %d %s issued for order %s", input.Amount, w.Currency, input.OrderID),
		Context:  map[string]string{"order_id": input.OrderID},
	})
	return tx, nil
}

// FreezeWallet flips the freeze flag locally; no ledger call is involved.
// Every debit path checks the flag before touching the ledger.
func (s *Service) FreezeWallet(ctx context.Context, ownerID, reason, actorID string) error {
	return s.setFrozen(ctx, ownerID, true, reason, actorID)
}

// UnfreezeWallet clears the freeze flag.
func (s *Service) UnfreezeWallet(ctx context.Context, ownerID, reason, actorID string) error {
	return s.setFrozen(ctx, ownerID, false, reason, actorID)
}

func (s *Service) setFrozen(ctx context.Context, ownerID string, frozen bool, reason, actorID string) error {
	unlock := s.locks.lock(ownerID)
	defer unlock()

	if _, err := s.repo.GetByOwner(ctx, ownerID); err != nil {
		return err
	}

	now := time.Now().UTC()
	frozenAt := now
	if !frozen {
		frozenAt = time.Time{}
		reason = ""
	}
	if err := s.repo.SetFrozen(ctx, ownerID, frozen, reason, frozenAt); err != nil {
		return err
	}

	action := audit.ActionWalletFrozen
	if !frozen {
		action = audit.ActionWalletUnfrozen
	}
	if s.security != nil {
		event := audit.SecurityEvent{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Action:    action,
			Reason:    reason,
			ActorID:   actorID,
			CreatedAt: now,
		}
		if err := s.security.Append(ctx, event); err != nil {
			s.logger.Warn("security event write failed", "owner_id", ownerID, "action", action, "error", err)
		}
	}
	s.logger.Info("wallet freeze state changed", "owner_id", ownerID, "frozen", frozen, "actor_id", actorID)
	return nil
}

// GetTransactionHistory lists the owner's local transaction history.
func (s *Service) GetTransactionHistory(ctx context.Context, ownerID string, filter TransactionFilter) ([]Transaction, error) {
	if _, err := s.repo.GetByOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, ownerID, filter)
}

// GetLedgerHistory reads the ledger-side immutable history for an owner. A
// reconciliation aid, never the primary read path.
func (s *Service) GetLedgerHistory(ctx context.Context, ownerID string) ([]token.Entry, error) {
	if _, err := s.repo.GetByOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, ownerID)
}

// SyncWalletBalance forces a ledger read and overwrites the cache: the
// explicit reconciliation primitive.
func (s *Service) SyncWalletBalance(ctx context.Context, ownerID string) (Balance, error) {
	unlock := s.locks.lock(ownerID)
	defer unlock()

	w, err := s.GetOrCreateWallet(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}

	amount, err := s.ledger.BalanceOf(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}

	now := time.Now().UTC()
	if err := s.repo.SetBalance(ctx, ownerID, amount, now); err != nil {
		return Balance{}, err
	}
	return Balance{OwnerID: ownerID, Amount: amount, Currency: w.Currency, SyncedAt: now}, nil
}

type transferParams struct {
	fromOwnerID string
	toOwnerID   string
	amount      int64
	description string
	orderID     string
	outType     TransactionType
	inType      TransactionType
	category    string
}

// settleTransfer is the single settlement routine behind TransferCredits and
// ProcessPaymentWithCredit.
func (s *Service) settleTransfer(ctx context.Context, p transferParams) (TransferResult, error) {
	if p.amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if p.fromOwnerID == p.toOwnerID {
		return TransferResult{}, ErrSelfTransfer
	}

	unlock := s.locks.lockPair(p.fromOwnerID, p.toOwnerID)
	defer unlock()

	fromWallet, err := s.GetOrCreateWallet(ctx, p.fromOwnerID)
	if err != nil {
		return TransferResult{}, err
	}
	toWallet, err := s.GetOrCreateWallet(ctx, p.toOwnerID)
	if err != nil {
		return TransferResult{}, err
	}

	if fromWallet.Frozen {
		return TransferResult{}, Unauthorized(ReasonFrozen)
	}
	if !fromWallet.Active {
		return TransferResult{}, Unauthorized(ReasonInactive)
	}
	if toWallet.Frozen {
		return TransferResult{}, Unauthorized(ReasonFrozen)
	}
	if !toWallet.Active {
		return TransferResult{}, Unauthorized(ReasonInactive)
	}

	// Authorize against the ledger, not the cache, to avoid stale reads.
	senderBalance, err := s.ledger.BalanceOf(ctx, p.fromOwnerID)
	if err != nil {
		return TransferResult{}, err
	}
	if senderBalance < p.amount {
		return TransferResult{}, Unauthorized(ReasonInsufficientFunds)
	}

	ref := uuid.NewString()
	if err := s.ledger.Transfer(ctx, p.fromOwnerID, p.toOwnerID, p.amount, p.description, ref); err != nil {
		if errors.Is(err, token.ErrInsufficientFunds) {
			return TransferResult{}, Unauthorized(ReasonInsufficientFunds)
		}
		return TransferResult{}, err
	}

	now := time.Now().UTC()
	outTx := Transaction{
		ID:             uuid.NewString(),
		OwnerID:        p.fromOwnerID,
		Type:           p.outType,
		Amount:         p.amount,
		BalanceBefore:  senderBalance,
		BalanceAfter:   senderBalance - p.amount,
		RelatedOrderID: p.orderID,
		RelatedUserID:  p.toOwnerID,
		Description:    p.description,
		Status:         StatusCompleted,
		LedgerRef:      ref,
		CreatedAt:      now,
	}
	inTx := Transaction{
		ID:             uuid.NewString(),
		OwnerID:        p.toOwnerID,
		Type:           p.inType,
		Amount:         p.amount,
		BalanceBefore:  toWallet.Balance,
		BalanceAfter:   toWallet.Balance + p.amount,
		RelatedOrderID: p.orderID,
		RelatedUserID:  p.fromOwnerID,
		Description:    p.description,
		Status:         StatusCompleted,
		LedgerRef:      ref,
		CreatedAt:      now,
	}

	outSettlement := Settlement{
		OwnerID:        p.fromOwnerID,
		Balance:        outTx.BalanceAfter,
		DailyWithdrawn: fromWallet.DailyWithdrawn,
		LimitResetDate: fromWallet.LimitResetDate,
		SyncedAt:       now,
		Tx:             outTx,
	}
	inSettlement := Settlement{
		OwnerID:        p.toOwnerID,
		Balance:        inTx.BalanceAfter,
		DailyWithdrawn: toWallet.DailyWithdrawn,
		LimitResetDate: toWallet.LimitResetDate,
		SyncedAt:       now,
		Tx:             inTx,
	}
	if err := s.repo.ApplyTransfer(ctx, outSettlement, inSettlement); err != nil {
		// The ledger already moved the value; it remains the lone truth
		// until the next sync. Never blindly retried.
		perr := &PersistenceError{Op: "settle transfer", OwnerID: p.fromOwnerID, LedgerRef: ref, Err: err}
		s.logger.Error("reconciliation needed", "owner_id", p.fromOwnerID, "ledger_ref", ref, "error", err)
		return TransferResult{}, perr
	}

	s.notify(ctx, notification.Message{
		OwnerID:  p.toOwnerID,
		Category: p.category,
		Body:     fmt.Sprintf("You received %d %s", p.amount, toWallet.Currency),
		Context:  map[string]string{"from": p.fromOwnerID, "order_id": p.orderID},
	})
	return TransferResult{Out: outTx, In: inTx}, nil
}

// commit applies a single-wallet settlement, wrapping a local failure after
// ledger settlement as a reconciliation-needed condition.
func (s *Service) commit(ctx context.Context, op string, w Wallet, tx Transaction, dailyWithdrawn int64, resetDate time.Time) error {
	settlement := Settlement{
		OwnerID:        w.OwnerID,
		Balance:        tx.BalanceAfter,
		DailyWithdrawn: dailyWithdrawn,
		LimitResetDate: resetDate,
		SyncedAt:       tx.CreatedAt,
		Tx:             tx,
	}
	if err := s.repo.Apply(ctx, settlement); err != nil {
		perr := &PersistenceError{Op: op, OwnerID: w.OwnerID, LedgerRef: tx.LedgerRef, Err: err}
		s.logger.Error("reconciliation needed", "owner_id", w.OwnerID, "ledger_ref", tx.LedgerRef, "error", err)
		return perr
	}
	return nil
}

// notify delivers best-effort; failures are warned, never propagated.
func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", "owner_id", msg.OwnerID, "category", msg.Category, "error", err)
	}
}
