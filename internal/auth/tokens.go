package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTTL is the lifetime of an access token.
	DefaultAccessTTL = 5 * time.Minute
	// DefaultRefreshTTL is the lifetime of a refresh token.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the JWT payload for both token kinds.
type Claims struct {
	Name   string `json:"name"`
	UID    string `json:"uid"`
	Rights string `json:"rights"`
	jwt.RegisteredClaims
}

// Service issues, verifies and rotates HS256 access and refresh tokens.
// Access tokens are stateless; the latest refresh token per user is kept in a
// RefreshStore and any earlier one is treated as superseded.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	refresh       RefreshStore
	now           func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTLs overrides the access and refresh lifetimes. Non-positive values keep the defaults.
func WithTTLs(access, refresh time.Duration) Option {
	return func(s *Service) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// NewService returns a Service signing access and refresh tokens with separate secrets.
func NewService(accessSecret, refreshSecret string, refresh RefreshStore, opts ...Option) *Service {
	s := &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		refresh:       refresh,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs a short-lived access token for id. It has no side effects.
func (s *Service) IssueAccess(id Identity) (string, error) {
	return s.sign(id, s.accessSecret, s.accessTTL)
}

// IssueOrRotateRefresh signs a refresh token for id and stores it as the only
// active refresh token for id.UID, replacing any previous one.
func (s *Service) IssueOrRotateRefresh(ctx context.Context, id Identity) (string, error) {
	token, err := s.sign(id, s.refreshSecret, s.refreshTTL)
	if err != nil {
		return "", err
	}
	if err := s.refresh.Upsert(ctx, id.UID, HashRefreshToken(token)); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// VerifyAccess validates an access token and returns its identity.
func (s *Service) VerifyAccess(token string) (Identity, error) {
	return s.parse(token, s.accessSecret)
}

// VerifyRefresh validates a refresh token and checks it is still the stored
// one for its user. A superseded token yields ErrInvalid.
func (s *Service) VerifyRefresh(ctx context.Context, token string) (Identity, error) {
	id, err := s.parse(token, s.refreshSecret)
	if err != nil {
		return Identity{}, err
	}
	stored, err := s.refresh.Lookup(ctx, id.UID)
	if errors.Is(err, ErrNoRefreshToken) {
		return Identity{}, fmt.Errorf("%w: refresh token revoked", ErrInvalid)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !RefreshTokenHashEqual(token, stored) {
		return Identity{}, fmt.Errorf("%w: refresh token superseded", ErrInvalid)
	}
	return id, nil
}

// RefreshAccess exchanges a valid refresh token for a new access token.
func (s *Service) RefreshAccess(ctx context.Context, refreshToken string) (Identity, string, error) {
	id, err := s.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return Identity{}, "", err
	}
	access, err := s.IssueAccess(id)
	if err != nil {
		return Identity{}, "", err
	}
	return id, access, nil
}

// RevokeRefresh deletes the stored refresh token when token is the active one.
func (s *Service) RevokeRefresh(ctx context.Context, token string) error {
	id, err := s.VerifyRefresh(ctx, token)
	if err != nil {
		return err
	}
	return s.refresh.Delete(ctx, id.UID)
}

func (s *Service) sign(id Identity, secret []byte, ttl time.Duration) (string, error) {
	if id.UID == "" || id.Name == "" {
		return "", errors.New("auth: identity requires name and uid")
	}
	now := s.now()
	claims := Claims{
		Name:   id.Name,
		UID:    id.UID,
		Rights: id.Rights,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Service) parse(token string, secret []byte) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrMissing
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrExpired
	case err != nil:
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.UID == "" || claims.Name == "" {
		return Identity{}, fmt.Errorf("%w: missing identity claims", ErrInvalid)
	}
	return Identity{Name: claims.Name, UID: claims.UID, Rights: claims.Rights}, nil
}
