// Package users stores hub accounts and checks their credentials.
package users

import (
	"context"
	"errors"
	"strings"

	"github.com/Tyrowin/presencehub/internal/auth"
)

// DefaultRights is assigned to every newly created account.
const DefaultRights = "user"

var (
	ErrNotFound           = errors.New("user not found")
	ErrNameTaken          = errors.New("user name already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmptyCredentials   = errors.New("name and password must not be empty")
	ErrWrongPassword      = errors.New("wrong old password")
	ErrEmptyPatch         = errors.New("patch must set a new name or a new password")
)

// Patch describes an account update. OldPassword must match the stored one.
type Patch struct {
	NewName     string
	NewPassword string
	OldPassword string
}

// Store is the account storage consumed by the HTTP account handlers.
type Store interface {
	// VerifyCredentials returns the identity for name when password matches, else ErrInvalidCredentials.
	VerifyCredentials(ctx context.Context, name, password string) (auth.Identity, error)
	CreateUser(ctx context.Context, name, password string) (auth.Identity, error)
	UpdateUser(ctx context.Context, uid string, patch Patch) error
}

func normalizeCredentials(name, password string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return "", ErrEmptyCredentials
	}
	return name, nil
}

func validatePatch(p Patch) (Patch, error) {
	p.NewName = strings.TrimSpace(p.NewName)
	if p.NewName == "" && p.NewPassword == "" {
		return p, ErrEmptyPatch
	}
	return p, nil
}
