package identity

import (
	"context"
	"time"
)

// Owner roles.
const (
	RoleBuyer  = "buyer"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

// Owner represents a registered marketplace participant.
type Owner struct {
	ID            string
	Name          string
	Email         string
	Role          string
	LedgerAddress string
	PasswordHash  []byte
	TokenVersion  int
	CreatedAt     time.Time
	LastLogin     time.Time
}

// Credentials is the registration/login request structure.
type Credentials struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Directory is the lookup surface other subsystems consume: owner id to
// profile. The settlement service uses it when provisioning wallets.
type Directory interface {
	Lookup(ctx context.Context, ownerID string) (Owner, error)
}
