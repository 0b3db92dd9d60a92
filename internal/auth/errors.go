package auth

import "errors"

var (
	// ErrAuthDisabled is returned when no signing secret is configured.
	ErrAuthDisabled = errors.New("auth: disabled")

	// ErrMissingCredentials is returned when no bearer token was supplied.
	ErrMissingCredentials = errors.New("auth: missing credentials")

	// ErrInvalidToken is returned for malformed, forged, or expired tokens.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrForbidden is returned for a valid identity lacking the required
	// role or group.
	ErrForbidden = errors.New("auth: forbidden")
)
