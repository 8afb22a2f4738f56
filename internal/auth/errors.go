package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when the reviewer ID or access
	// key does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a session token fails validation.
	ErrInvalidToken = errors.New("invalid token")
)
