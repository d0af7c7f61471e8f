package auth

import (
	"context"
	"errors"
	"time"

	"github.com/tokenmart/tokenmart/internal/config"
	"github.com/tokenmart/tokenmart/internal/identity"
)

// Service issues and rotates token pairs for owners.
type Service struct {
	cfg    config.Config
	owners identity.Repository
}

func NewService(cfg config.Config, owners identity.Repository) *Service {
	return &Service{cfg: cfg, owners: owners}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues an access/refresh token pair for an authenticated owner.
func (s *Service) Login(owner identity.Owner) (TokenPair, error) {
	access, accessExp, err := s.sign(owner, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.sign(owner, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessExp).Seconds()),
	}, nil
}

func (s *Service) sign(owner identity.Owner, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := map[string]any{
		"sub":  owner.ID,
		"role": owner.Role,
		"ver":  owner.TokenVersion,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	signed, err := SignHS256(claims, []byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Refresh verifies the refresh token and returns a new access token if the
// owner's token version still matches.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := ParseAndVerifyHS256(refreshToken, []byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", 0, errors.New("invalid refresh token")
	}
	if exp, ok := claims["exp"].(float64); ok && time.Now().Unix() >= int64(exp) {
		return "", 0, errors.New("refresh token expired")
	}
	sub, _ := claims["sub"].(string)
	verFloat, _ := claims["ver"].(float64)
	ver := int(verFloat)

	owner, err := s.owners.FindByID(ctx, sub)
	if err != nil {
		return "", 0, errors.New("owner not found")
	}
	if owner.TokenVersion != ver {
		return "", 0, errors.New("token version invalidated")
	}

	accessClaims := map[string]any{
		"sub":  sub,
		"role": owner.Role,
		"ver":  ver,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(s.cfg.AccessTokenTTL).Unix(),
	}
	signed, err := SignHS256(accessClaims, []byte(s.cfg.JWTSecret))
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout bumps the token version so previously issued tokens stop verifying.
func (s *Service) Logout(ctx context.Context, ownerID string) error {
	owner, err := s.owners.FindByID(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.owners.UpdateTokenVersion(ctx, owner.ID, owner.TokenVersion+1)
}
