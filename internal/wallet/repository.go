package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// TransactionFilter narrows history queries.
type TransactionFilter struct {
	Type   TransactionType
	Status string
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}

// Settlement is the local atomic commit of one settled ledger operation:
// the wallet row update plus the appended transaction, in one unit.
// The new field values are computed by the settlement service under the
// per-owner lock and written verbatim.
type Settlement struct {
	OwnerID        string
	Balance        int64
	DailyWithdrawn int64
	LimitResetDate time.Time
	SyncedAt       time.Time
	Tx             Transaction
}

// Repository persists the wallet projection and its transaction history.
// Only the settlement service writes through it.
type Repository interface {
	Create(ctx context.Context, w Wallet) error
	GetByOwner(ctx context.Context, ownerID string) (Wallet, error)
	Apply(ctx context.Context, s Settlement) error
	// ApplyTransfer commits both legs of a transfer in one local transaction.
	ApplyTransfer(ctx context.Context, out, in Settlement) error
	SetBalance(ctx context.Context, ownerID string, balance int64, syncedAt time.Time) error
	SetFrozen(ctx context.Context, ownerID string, frozen bool, reason string, at time.Time) error
	ListTransactions(ctx context.Context, ownerID string, filter TransactionFilter) ([]Transaction, error)
}

// PostgresRepository stores wallets and transactions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record. A duplicate owner id maps to
// ErrWalletExists so the provisioning race loser can refetch.
func (r *PostgresRepository) Create(ctx context.Context, w Wallet) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallets
        (owner_id, address, balance, currency, active, frozen, frozen_reason, frozen_at,
         daily_withdrawal_limit, daily_withdrawn, limit_reset_date,
         total_deposited, total_withdrawn, total_spent, total_received,
         last_synced_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		w.OwnerID, w.Address, w.Balance, w.Currency, w.Active, w.Frozen,
		w.FrozenReason, nullableTime(w.FrozenAt), w.DailyWithdrawalLimit,
		w.DailyWithdrawn, w.LimitResetDate.UTC(), w.TotalDeposited,
		w.TotalWithdrawn, w.TotalSpent, w.TotalReceived,
		nullableTime(w.LastSyncedAt), w.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return ErrWalletExists
	}
	return err
}

// GetByOwner fetches the wallet projection for an owner.
func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT owner_id, address, balance, currency, active, frozen,
        frozen_reason, frozen_at, daily_withdrawal_limit, daily_withdrawn, limit_reset_date,
        total_deposited, total_withdrawn, total_spent, total_received, last_synced_at, created_at
        FROM wallets WHERE owner_id = $1`, ownerID)
	return scanWallet(row)
}

// Apply commits one settlement: wallet row update plus appended transaction.
func (r *PostgresRepository) Apply(ctx context.Context, s Settlement) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := applySettlement(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyTransfer commits both legs of a transfer atomically at the local
// store. The ledger already moved the value; this records the projection.
func (r *PostgresRepository) ApplyTransfer(ctx context.Context, out, in Settlement) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := applySettlement(ctx, tx, out); err != nil {
		return err
	}
	if err := applySettlement(ctx, tx, in); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func applySettlement(ctx context.Context, tx pgx.Tx, s Settlement) error {
	deposited, withdrawn, spent, received := s.Tx.CounterDeltas()
	tag, err := tx.Exec(ctx, `UPDATE wallets SET balance = $2, daily_withdrawn = $3,
        limit_reset_date = $4, last_synced_at = $5,
        total_deposited = total_deposited + $6, total_withdrawn = total_withdrawn + $7,
        total_spent = total_spent + $8, total_received = total_received + $9
        WHERE owner_id = $1`,
		s.OwnerID, s.Balance, s.DailyWithdrawn, s.LimitResetDate.UTC(),
		s.SyncedAt.UTC(), deposited, withdrawn, spent, received)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}

	txID, err := uuid.Parse(s.Tx.ID)
	if err != nil {
		txID = uuid.New()
	}
	_, err = tx.Exec(ctx, `INSERT INTO wallet_transactions
        (id, owner_id, type, amount, balance_before, balance_after,
         related_order_id, related_user_id, description, status, ledger_ref, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txID, s.Tx.OwnerID, string(s.Tx.Type), s.Tx.Amount, s.Tx.BalanceBefore,
		s.Tx.BalanceAfter, s.Tx.RelatedOrderID, s.Tx.RelatedUserID,
		s.Tx.Description, s.Tx.Status, s.Tx.LedgerRef, s.Tx.CreatedAt.UTC())
	return err
}

// SetBalance overwrites the cached balance after a ledger read. Cache
// follows ledger, one direction only.
func (r *PostgresRepository) SetBalance(ctx context.Context, ownerID string, balance int64, syncedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE wallets SET balance = $2, last_synced_at = $3
        WHERE owner_id = $1`, ownerID, balance, syncedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// SetFrozen flips the freeze flag. Local-only: no ledger call is involved.
func (r *PostgresRepository) SetFrozen(ctx context.Context, ownerID string, frozen bool, reason string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE wallets SET frozen = $2, frozen_reason = $3, frozen_at = $4
        WHERE owner_id = $1`, ownerID, frozen, reason, nullableTime(at))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// ListTransactions returns the owner's history matching the filter, newest
// first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, ownerID string, filter TransactionFilter) ([]Transaction, error) {
	clauses := []string{"owner_id = $1"}
	args := []any{ownerID}
	add := func(cond string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	query := `SELECT id, owner_id, type, amount, balance_before, balance_after,
        related_order_id, related_user_id, description, status, ledger_ref, created_at
        FROM wallet_transactions WHERE ` + strings.Join(clauses, " AND ")
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, (page-1)*limit)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var id uuid.UUID
		var txType string
		var createdAt time.Time
		if err := rows.Scan(&id, &t.OwnerID, &txType, &t.Amount, &t.BalanceBefore,
			&t.BalanceAfter, &t.RelatedOrderID, &t.RelatedUserID, &t.Description,
			&t.Status, &t.LedgerRef, &createdAt); err != nil {
			return nil, err
		}
		t.ID = id.String()
		t.Type = TransactionType(txType)
		t.CreatedAt = createdAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var frozenAt, syncedAt *time.Time
	var resetDate, createdAt time.Time
	err := row.Scan(&w.OwnerID, &w.Address, &w.Balance, &w.Currency, &w.Active,
		&w.Frozen, &w.FrozenReason, &frozenAt, &w.DailyWithdrawalLimit,
		&w.DailyWithdrawn, &resetDate, &w.TotalDeposited, &w.TotalWithdrawn,
		&w.TotalSpent, &w.TotalReceived, &syncedAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	if frozenAt != nil {
		w.FrozenAt = frozenAt.UTC()
	}
	if syncedAt != nil {
		w.LastSyncedAt = syncedAt.UTC()
	}
	w.LimitResetDate = resetDate.UTC()
	w.CreatedAt = createdAt.UTC()
	return w, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
