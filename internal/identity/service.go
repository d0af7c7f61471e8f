package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service manages owner lifecycle and implements Directory.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a new owner with a hashed password and a fresh ledger
// signing address.
func (s *Service) Register(ctx context.Context, creds Credentials) (Owner, error) {
	if len(creds.Password) < 8 {
		return Owner{}, errors.New("password must be at least 8 characters")
	}
	if !strings.Contains(creds.Email, "@") {
		return Owner{}, errors.New("invalid email")
	}

	role := creds.Role
	switch role {
	case RoleBuyer, RoleVendor:
	case "":
		role = RoleBuyer
	default:
		return Owner{}, errors.New("invalid role")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return Owner{}, err
	}

	owner := Owner{
		ID:            uuid.New().String(),
		Name:          creds.Name,
		Email:         strings.ToLower(creds.Email),
		Role:          role,
		LedgerAddress: newLedgerAddress(),
		PasswordHash:  hash,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, owner); err != nil {
		return Owner{}, err
	}

	return owner, nil
}

// Authenticate verifies credentials and stamps the login time.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Owner, error) {
	owner, err := s.repo.FindByEmail(ctx, strings.ToLower(creds.Email))
	if err != nil {
		return Owner{}, errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword(owner.PasswordHash, []byte(creds.Password)); err != nil {
		return Owner{}, errors.New("invalid credentials")
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLastLogin(ctx, owner.ID, now); err != nil {
		return Owner{}, err
	}
	owner.LastLogin = now

	return owner, nil
}

// Lookup resolves an owner id to its profile.
func (s *Service) Lookup(ctx context.Context, ownerID string) (Owner, error) {
	return s.repo.FindByID(ctx, ownerID)
}

// newLedgerAddress derives the external signing address registered with the
// ledger for a new owner.
func newLedgerAddress() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
