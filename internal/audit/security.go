package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Security event actions recorded by wallet policy transitions.
const (
	ActionWalletFrozen   = "wallet_frozen"
	ActionWalletUnfrozen = "wallet_unfrozen"
)

// SecurityEvent records an administrative policy action against a wallet.
type SecurityEvent struct {
	ID        string
	OwnerID   string
	Action    string
	Reason    string
	ActorID   string
	CreatedAt time.Time
}

// SecurityStore persists the security-event trail, separate from the
// ledger invocation log.
type SecurityStore interface {
	Append(ctx context.Context, event SecurityEvent) error
	ListByOwner(ctx context.Context, ownerID string) ([]SecurityEvent, error)
}

// PostgresSecurityStore stores security events in PostgreSQL.
type PostgresSecurityStore struct {
	db *pgxpool.Pool
}

// NewPostgresSecurityStore builds a Postgres-backed security event store.
func NewPostgresSecurityStore(db *pgxpool.Pool) *PostgresSecurityStore {
	return &PostgresSecurityStore{db: db}
}

// Append inserts a security event record.
func (s *PostgresSecurityStore) Append(ctx context.Context, event SecurityEvent) error {
	id, err := uuid.Parse(event.ID)
	if err != nil {
		id = uuid.New()
	}
	_, err = s.db.Exec(ctx, `INSERT INTO security_events (id, owner_id, action, reason, actor_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		id, event.OwnerID, event.Action, event.Reason, event.ActorID, event.CreatedAt.UTC())
	return err
}

// ListByOwner returns the security events recorded for an owner, newest first.
func (s *PostgresSecurityStore) ListByOwner(ctx context.Context, ownerID string) ([]SecurityEvent, error) {
	rows, err := s.db.Query(ctx, `SELECT id, owner_id, action, reason, actor_id, created_at
        FROM security_events WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SecurityEvent
	for rows.Next() {
		var event SecurityEvent
		var id uuid.UUID
		var createdAt time.Time
		if err := rows.Scan(&id, &event.OwnerID, &event.Action, &event.Reason, &event.ActorID, &createdAt); err != nil {
			return nil, err
		}
		event.ID = id.String()
		event.CreatedAt = createdAt.UTC()
		out = append(out, event)
	}
	return out, rows.Err()
}

type memorySecurityStore struct {
	mu     sync.RWMutex
	events []SecurityEvent
}

// NewMemorySecurityStore constructs an in-memory security store for tests.
func NewMemorySecurityStore() SecurityStore {
	return &memorySecurityStore{}
}

func (s *memorySecurityStore) Append(_ context.Context, event SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySecurityStore) ListByOwner(_ context.Context, ownerID string) ([]SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SecurityEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].OwnerID == ownerID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}
