// Package auth issues and verifies the access and refresh tokens that gate
// the hub, and persists the single active refresh token per user.
package auth

// Identity is the set of claims carried by every token and, once verified,
// by every session for its whole lifetime.
type Identity struct {
	Name   string `json:"name"`
	UID    string `json:"uid"`
	Rights string `json:"rights"`
}
