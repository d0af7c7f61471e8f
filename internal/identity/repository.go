package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no owner matches the query.
var ErrNotFound = errors.New("owner not found")

// Repository persists owners.
type Repository interface {
	Create(ctx context.Context, owner Owner) error
	FindByID(ctx context.Context, id string) (Owner, error)
	FindByEmail(ctx context.Context, email string) (Owner, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed owner repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new owner.
func (r *PostgresRepository) Create(ctx context.Context, owner Owner) error {
	ownerID, err := uuid.Parse(owner.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO owners
        (id, name, email, role, ledger_address, password_hash, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ownerID, owner.Name, owner.Email, owner.Role, owner.LedgerAddress,
		owner.PasswordHash, owner.TokenVersion, owner.CreatedAt.UTC())
	return err
}

// FindByID fetches an owner by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Owner, error) {
	ownerID, err := uuid.Parse(id)
	if err != nil {
		return Owner{}, ErrNotFound
	}
	return r.scanOne(r.db.QueryRow(ctx, selectOwner+` WHERE id = $1`, ownerID))
}

// FindByEmail fetches an owner by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Owner, error) {
	return r.scanOne(r.db.QueryRow(ctx, selectOwner+` WHERE email = $1`, email))
}

// UpdateTokenVersion bumps the owner's token version, invalidating older JWTs.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	ownerID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	_, err = r.db.Exec(ctx, `UPDATE owners SET token_version = $2 WHERE id = $1`, ownerID, version)
	return err
}

// TouchLastLogin records a successful authentication.
func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	ownerID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	_, err = r.db.Exec(ctx, `UPDATE owners SET last_login = $2 WHERE id = $1`, ownerID, at.UTC())
	return err
}

const selectOwner = `SELECT id, name, email, role, ledger_address, password_hash,
    token_version, created_at, last_login FROM owners`

func (r *PostgresRepository) scanOne(row pgx.Row) (Owner, error) {
	var owner Owner
	var id uuid.UUID
	var createdAt time.Time
	var lastLogin *time.Time
	err := row.Scan(&id, &owner.Name, &owner.Email, &owner.Role, &owner.LedgerAddress,
		&owner.PasswordHash, &owner.TokenVersion, &createdAt, &lastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Owner{}, ErrNotFound
		}
		return Owner{}, err
	}
	owner.ID = id.String()
	owner.CreatedAt = createdAt.UTC()
	if lastLogin != nil {
		owner.LastLogin = lastLogin.UTC()
	}
	return owner, nil
}
