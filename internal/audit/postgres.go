package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPageSize = 50

// PostgresInvocationStore appends invocation records to PostgreSQL.
type PostgresInvocationStore struct {
	db *pgxpool.Pool
}

// NewPostgresInvocationStore builds a Postgres-backed invocation store.
func NewPostgresInvocationStore(db *pgxpool.Pool) *PostgresInvocationStore {
	return &PostgresInvocationStore{db: db}
}

// Append inserts an invocation record. Rows are never updated afterwards.
func (s *PostgresInvocationStore) Append(ctx context.Context, rec InvocationLog) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		id = uuid.New()
	}
	_, err = s.db.Exec(ctx, `INSERT INTO ledger_invocations
        (id, contract, function, classification, status, request_payload, response_payload, execution_ms, block_ref, error_message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, rec.Contract, rec.Function, rec.Classification, rec.Status,
		rec.RequestPayload, rec.ResponsePayload, rec.ExecutionMs, rec.BlockRef,
		rec.ErrorMessage, rec.CreatedAt.UTC())
	return err
}

// List returns invocation records matching the filter, newest first.
func (s *PostgresInvocationStore) List(ctx context.Context, filter InvocationFilter) ([]InvocationLog, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(cond, len(args)))
	}
	if filter.Contract != "" {
		add("contract = $%d", filter.Contract)
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

	query := `SELECT id, contract, function, classification, status, request_payload,
        response_payload, execution_ms, block_ref, error_message, created_at
        FROM ledger_invocations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, (page-1)*limit)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvocationLog
	for rows.Next() {
		var rec InvocationLog
		var id uuid.UUID
		var createdAt time.Time
		if err := rows.Scan(&id, &rec.Contract, &rec.Function, &rec.Classification,
			&rec.Status, &rec.RequestPayload, &rec.ResponsePayload, &rec.ExecutionMs,
			&rec.BlockRef, &rec.ErrorMessage, &createdAt); err != nil {
			return nil, err
		}
		rec.ID = id.String()
		rec.CreatedAt = createdAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
