package auth

import "errors"

var (
	// ErrMissing is returned when no token was presented.
	ErrMissing = errors.New("token missing")
	// ErrInvalid is returned for malformed or badly signed tokens and for
	// refresh tokens superseded by a newer issuance.
	ErrInvalid = errors.New("token invalid")
	// ErrExpired is returned when the signature is valid but the token expired.
	ErrExpired = errors.New("token expired")
	// ErrNoRefreshToken is returned by a RefreshStore when no token is stored for the user.
	ErrNoRefreshToken = errors.New("no refresh token stored")
)

// IsAuthError reports whether err belongs to the Missing/Invalid/Expired taxonomy.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissing) || errors.Is(err, ErrInvalid) || errors.Is(err, ErrExpired)
}
