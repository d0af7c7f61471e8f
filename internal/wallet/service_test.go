package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tokenmart/tokenmart/internal/audit"
	"github.com/tokenmart/tokenmart/internal/identity"
	"github.com/tokenmart/tokenmart/internal/logging"
	"github.com/tokenmart/tokenmart/internal/token"
)

type serviceFixture struct {
	service  *Service
	repo     Repository
	ledger   token.Ledger
	security audit.SecurityStore
}

func newFixture(t *testing.T, ownerIDs ...string) *serviceFixture {
	t.Helper()

	owners := identity.NewMemoryRepository()
	for _, id := range ownerIDs {
		err := owners.Create(context.Background(), identity.Owner{
			ID:            id,
			Name:          id,
			Email:         id + "@example.com",
			Role:          identity.RoleBuyer,
			LedgerAddress: "0x" + id,
		})
		if err != nil {
			t.Fatalf("seed owner %s: %v", id, err)
		}
	}

	repo := NewMemoryRepository()
	ledger := token.NewInMemory()
	security := audit.NewMemorySecurityStore()
	service := NewService(repo, ledger, identity.NewService(owners), nil, security,
		logging.Discard(), Policy{Currency: "TOK", DailyWithdrawalLimit: 1000})

	return &serviceFixture{service: service, repo: repo, ledger: ledger, security: security}
}

func TestAddFundsCreditsLedgerThenCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	tx, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 100, Method: "card"})
	if err != nil {
		t.Fatalf("AddFunds: %v", err)
	}
	if tx.Type != TxDeposit || tx.BalanceBefore != 0 || tx.BalanceAfter != 100 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	balance, err := f.service.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.Amount != 100 || balance.Degraded {
		t.Fatalf("unexpected balance: %+v", balance)
	}

	w, err := f.repo.GetByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}
	if w.Balance != 100 || w.TotalDeposited != 100 {
		t.Fatalf("cache not settled: %+v", w)
	}
}

func TestWithdrawFundsDebitsAndTracksDailyTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 100, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}

	tx, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 30, Method: "bank"})
	if err != nil {
		t.Fatalf("WithdrawFunds: %v", err)
	}
	if tx.Type != TxWithdrawal || tx.BalanceBefore != 100 || tx.BalanceAfter != 70 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	w, _ := f.repo.GetByOwner(ctx, "alice")
	if w.Balance != 70 || w.DailyWithdrawn != 30 || w.TotalWithdrawn != 30 {
		t.Fatalf("cache not settled: %+v", w)
	}
}

func TestTransferCreditsRecordsBothLegs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 100, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}

	result, err := f.service.TransferCredits(ctx, TransferInput{
		FromOwnerID: "alice", ToOwnerID: "bob", Amount: 50, Description: "split dinner",
	})
	if err != nil {
		t.Fatalf("TransferCredits: %v", err)
	}
	if result.Out.Type != TxTransferOut || result.Out.RelatedUserID != "bob" {
		t.Fatalf("unexpected out leg: %+v", result.Out)
	}
	if result.In.Type != TxTransferIn || result.In.RelatedUserID != "alice" {
		t.Fatalf("unexpected in leg: %+v", result.In)
	}
	if result.Out.LedgerRef == "" || result.Out.LedgerRef != result.In.LedgerRef {
		t.Fatalf("legs must share the ledger ref: out=%q in=%q", result.Out.LedgerRef, result.In.LedgerRef)
	}

	sender, _ := f.repo.GetByOwner(ctx, "alice")
	receiver, _ := f.repo.GetByOwner(ctx, "bob")
	if sender.Balance != 50 || receiver.Balance != 50 {
		t.Fatalf("balances not settled: sender=%d receiver=%d", sender.Balance, receiver.Balance)
	}
}

func TestTransferToSelfRejected(t *testing.T) {
	f := newFixture(t, "alice")
	_, err := f.service.TransferCredits(context.Background(), TransferInput{
		FromOwnerID: "alice", ToOwnerID: "alice", Amount: 10,
	})
	if !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
}

func TestWithdrawInsufficientFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 100, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}

	_, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 999, Method: "bank"})
	if !IsAuthorization(err, ReasonInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	history, err := f.service.GetTransactionHistory(ctx, "alice", TransactionFilter{})
	if err != nil {
		t.Fatalf("GetTransactionHistory: %v", err)
	}
	if len(history) != 1 || history[0].Type != TxDeposit {
		t.Fatalf("rejected withdrawal must not append history: %+v", history)
	}
	if amount, _ := f.ledger.BalanceOf(ctx, "alice"); amount != 100 {
		t.Fatalf("ledger balance moved on rejected withdrawal: %d", amount)
	}
}

func TestWithdrawLimitCheckedBeforeLedgerDebit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.GetOrCreateWallet(ctx, "alice"); err != nil {
		t.Fatalf("GetOrCreateWallet: %v", err)
	}
	token.SeedBalance(f.ledger, "alice", 5000)
	if err := f.repo.SetBalance(ctx, "alice", 5000, time.Now()); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}

	// A scripted Burn failure would surface if the limit check let the
	// call through.
	token.FailNext(f.ledger, "Burn", errors.New("burn must not be reached"))

	_, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 1500, Method: "bank"})
	if !IsAuthorization(err, ReasonLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
}

func TestDailyLimitResetsOnCalendarDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 5000, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}
	if _, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 900, Method: "bank"}); err != nil {
		t.Fatalf("first withdrawal: %v", err)
	}

	// Same calendar date: the next withdrawal would exceed the cap.
	_, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 200, Method: "bank"})
	if !IsAuthorization(err, ReasonLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}

	// Age the reset date one day back to simulate a date rollover.
	w, _ := f.repo.GetByOwner(ctx, "alice")
	aged := w
	aged.LimitResetDate = w.LimitResetDate.AddDate(0, 0, -1)
	seedWallet(t, f.repo, aged)

	tx, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 200, Method: "bank"})
	if err != nil {
		t.Fatalf("withdrawal after rollover: %v", err)
	}
	if tx.Amount != 200 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	w, _ = f.repo.GetByOwner(ctx, "alice")
	if w.DailyWithdrawn != 200 {
		t.Fatalf("daily total must restart after rollover, got %d", w.DailyWithdrawn)
	}
}

func TestConcurrentWithdrawalsRespectDailyLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.GetOrCreateWallet(ctx, "alice"); err != nil {
		t.Fatalf("GetOrCreateWallet: %v", err)
	}
	token.SeedBalance(f.ledger, "alice", 5000)
	if err := f.repo.SetBalance(ctx, "alice", 5000, time.Now()); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 600, Method: "bank"})
		}(i)
	}
	wg.Wait()

	var succeeded, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsAuthorization(err, ReasonLimitExceeded):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || limited != 1 {
		t.Fatalf("expected exactly one success against the 1000 cap, got success=%d limited=%d", succeeded, limited)
	}

	w, _ := f.repo.GetByOwner(ctx, "alice")
	if w.DailyWithdrawn != 600 {
		t.Fatalf("daily total must reflect the single settled debit, got %d", w.DailyWithdrawn)
	}
}

func TestFrozenWalletBlocksDebitsAndDeposits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 500, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}
	if err := f.service.FreezeWallet(ctx, "alice", "chargeback review", "admin-1"); err != nil {
		t.Fatalf("FreezeWallet: %v", err)
	}

	if _, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 10, Method: "bank"}); !IsAuthorization(err, ReasonFrozen) {
		t.Fatalf("withdraw: expected frozen rejection, got %v", err)
	}
	if _, err := f.service.TransferCredits(ctx, TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 10}); !IsAuthorization(err, ReasonFrozen) {
		t.Fatalf("transfer: expected frozen rejection, got %v", err)
	}
	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 10, Method: "card"}); !IsAuthorization(err, ReasonFrozen) {
		t.Fatalf("deposit: expected frozen rejection, got %v", err)
	}
	if _, err := f.service.ProcessPaymentWithCredit(ctx, PaymentInput{PayerID: "alice", PayeeID: "bob", OrderID: "ord-1", Amount: 10}); !IsAuthorization(err, ReasonFrozen) {
		t.Fatalf("payment: expected frozen rejection, got %v", err)
	}

	events, err := f.security.ListByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(events) != 1 || events[0].Action != audit.ActionWalletFrozen || events[0].ActorID != "admin-1" {
		t.Fatalf("expected one frozen event, got %+v", events)
	}
}

func TestRefundAllowedWhenFrozen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 100, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}
	if err := f.service.FreezeWallet(ctx, "alice", "dispute", "admin-1"); err != nil {
		t.Fatalf("FreezeWallet: %v", err)
	}

	tx, err := f.service.ProcessRefund(ctx, RefundInput{RecipientID: "alice", OrderID: "ord-7", Amount: 40, Description: "order cancelled"})
	if err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if tx.Type != TxRefund || tx.RelatedOrderID != "ord-7" || tx.BalanceAfter != 140 {
		t.Fatalf("unexpected refund transaction: %+v", tx)
	}
}

func TestUnfreezeRestoresDebits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 100, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}
	if err := f.service.FreezeWallet(ctx, "alice", "review", "admin-1"); err != nil {
		t.Fatalf("FreezeWallet: %v", err)
	}
	if err := f.service.UnfreezeWallet(ctx, "alice", "review cleared", "admin-1"); err != nil {
		t.Fatalf("UnfreezeWallet: %v", err)
	}

	if _, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 10, Method: "bank"}); err != nil {
		t.Fatalf("withdrawal after unfreeze: %v", err)
	}

	events, _ := f.security.ListByOwner(ctx, "alice")
	if len(events) != 2 || events[0].Action != audit.ActionWalletUnfrozen {
		t.Fatalf("expected unfrozen event first, got %+v", events)
	}
}

func TestPaymentWithCreditTagsOrderLegs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "buyer", "vendor")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "buyer", Amount: 300, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}

	result, err := f.service.ProcessPaymentWithCredit(ctx, PaymentInput{
		PayerID: "buyer", PayeeID: "vendor", OrderID: "ord-42", Amount: 120, Description: "order ord-42",
	})
	if err != nil {
		t.Fatalf("ProcessPaymentWithCredit: %v", err)
	}
	if result.Out.Type != TxPayment || result.Out.RelatedOrderID != "ord-42" {
		t.Fatalf("unexpected payer leg: %+v", result.Out)
	}
	if result.In.Type != TxSale || result.In.RelatedOrderID != "ord-42" {
		t.Fatalf("unexpected payee leg: %+v", result.In)
	}

	vendor, _ := f.repo.GetByOwner(ctx, "vendor")
	if vendor.Balance != 120 || vendor.TotalReceived != 120 {
		t.Fatalf("payee not settled: %+v", vendor)
	}
}

func TestProcessPaymentRecordsPendingLocalLeg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "buyer")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "buyer", Amount: 300, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}

	tx, err := f.service.ProcessPayment(ctx, PaymentInput{PayerID: "buyer", OrderID: "ord-9", Amount: 100})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if tx.Status != StatusPending || tx.LedgerRef != "" {
		t.Fatalf("authorize-only leg must be pending with no ledger ref: %+v", tx)
	}
	// The ledger was not touched.
	if amount, _ := f.ledger.BalanceOf(ctx, "buyer"); amount != 300 {
		t.Fatalf("ledger balance moved: %d", amount)
	}
}

func TestGetBalanceDegradesWhenLedgerDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 250, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}

	token.FailNext(f.ledger, "BalanceOf", errors.New("peer unreachable"))
	balance, err := f.service.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance must serve cache on ledger failure: %v", err)
	}
	if !balance.Degraded || balance.Amount != 250 {
		t.Fatalf("expected degraded cached balance, got %+v", balance)
	}
}

func TestGetBalanceRefreshSerializedWithSettlements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.GetOrCreateWallet(ctx, "alice"); err != nil {
		t.Fatalf("GetOrCreateWallet: %v", err)
	}

	// Interleave deposits with balance reads. The read path refreshes the
	// cache from the ledger, so without per-owner serialization a stale
	// refresh can overwrite a newer settled balance.
	const deposits = 20
	var wg sync.WaitGroup
	for i := 0; i < deposits; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 10, Method: "card"}); err != nil {
				t.Errorf("AddFunds: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := f.service.GetBalance(ctx, "alice"); err != nil {
				t.Errorf("GetBalance: %v", err)
			}
		}()
	}
	wg.Wait()

	ledgerBalance, err := f.ledger.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if ledgerBalance != deposits*10 {
		t.Fatalf("expected ledger balance %d, got %d", deposits*10, ledgerBalance)
	}
	w, err := f.repo.GetByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}
	if w.Balance != ledgerBalance {
		t.Fatalf("cache drifted from ledger: cache=%d ledger=%d", w.Balance, ledgerBalance)
	}
}

func TestSyncWalletBalancePropagatesLedgerFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 250, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}

	token.FailNext(f.ledger, "BalanceOf", errors.New("peer unreachable"))
	if _, err := f.service.SyncWalletBalance(ctx, "alice"); err == nil {
		t.Fatal("sync must not tolerate a ledger read failure")
	}

	// Drift repair: cache diverges, sync overwrites it from the ledger.
	if err := f.repo.SetBalance(ctx, "alice", 999, time.Now()); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	balance, err := f.service.SyncWalletBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("SyncWalletBalance: %v", err)
	}
	if balance.Amount != 250 {
		t.Fatalf("sync must restore the ledger value, got %d", balance.Amount)
	}
}

func TestLocalCommitFailureIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.GetOrCreateWallet(ctx, "alice"); err != nil {
		t.Fatalf("GetOrCreateWallet: %v", err)
	}

	FailNextApply(f.repo, errors.New("connection reset"))
	_, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 100, Method: "card"})

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.LedgerRef == "" {
		t.Fatal("persistence error must carry the ledger ref for reconciliation")
	}
	// The ledger credit stands even though the cache missed it.
	if amount, _ := f.ledger.BalanceOf(ctx, "alice"); amount != 100 {
		t.Fatalf("ledger must keep the settled credit, got %d", amount)
	}
}

func TestGetOrCreateWalletRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	var wg sync.WaitGroup
	wallets := make([]Wallet, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wallets[i], errs[i] = f.service.GetOrCreateWallet(ctx, "alice")
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("racer %d: %v", i, errs[i])
		}
		if wallets[i].OwnerID != "alice" || !wallets[i].Active {
			t.Fatalf("racer %d got %+v", i, wallets[i])
		}
	}
}

func TestUnknownOwnerCannotProvision(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetOrCreateWallet(context.Background(), "ghost")
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestInvalidAmountRejectedBeforeAnyIO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "ghost", Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "ghost", Amount: -5}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := f.service.TransferCredits(ctx, TransferInput{FromOwnerID: "a", ToOwnerID: "b", Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.service.CanAfford(ctx, "ghost", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("canAfford: %v", err)
	}
}

func TestHistoryFiltersByType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	if _, err := f.service.AddFunds(ctx, AddFundsInput{OwnerID: "alice", Amount: 500, Method: "card"}); err != nil {
		t.Fatalf("AddFunds: %v", err)
	}
	if _, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 100, Method: "bank"}); err != nil {
		t.Fatalf("WithdrawFunds: %v", err)
	}
	if _, err := f.service.WithdrawFunds(ctx, WithdrawInput{OwnerID: "alice", Amount: 50, Method: "bank"}); err != nil {
		t.Fatalf("WithdrawFunds: %v", err)
	}

	history, err := f.service.GetTransactionHistory(ctx, "alice", TransactionFilter{Type: TxWithdrawal})
	if err != nil {
		t.Fatalf("GetTransactionHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 withdrawals, got %d", len(history))
	}
	// Newest first.
	if history[0].Amount != 50 || history[1].Amount != 100 {
		t.Fatalf("unexpected ordering: %+v", history)
	}
}

// seedWallet force-writes a wallet record in the memory repository.
func seedWallet(t *testing.T, repo Repository, w Wallet) {
	t.Helper()
	mem, ok := repo.(*memoryRepository)
	if !ok {
		t.Fatal("seedWallet requires the memory repository")
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.wallets[w.OwnerID] = w
}
