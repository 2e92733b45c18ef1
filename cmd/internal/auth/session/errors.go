package session

import (
	"errors"
)

var (
	// ErrTokenExpired is returned when an access token is past its expiry (plus clock skew).
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenMalformed is returned when an access token cannot be parsed structurally.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenSignatureInvalid is returned on signature, algorithm, issuer or audience mismatch.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")

	// ErrSessionNotFound is returned when a refresh token does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the matched session is expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrReplayDetected is returned when a refresh token that was already rotated is presented again.
	ErrReplayDetected = errors.New("refresh token replay detected")

	// ErrTokenMismatch is returned when the access token owner or the device fingerprint
	// does not match the session being refreshed.
	ErrTokenMismatch = errors.New("token mismatch")

	// ErrInvalidCredentials is returned on unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailNotConfirmed is returned when the account exists but its email is unconfirmed.
	ErrEmailNotConfirmed = errors.New("email not confirmed")

	// ErrDuplicateToken is returned when a refresh token hash collides with an existing session.
	ErrDuplicateToken = errors.New("duplicate refresh token")

	// ErrInvalidInput is returned when a store call is missing required fields.
	ErrInvalidInput = errors.New("invalid session input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// IsTokenError reports whether err is an access-token failure.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenSignatureInvalid)
}

// IsSessionError reports whether err is a session lookup or rotation failure.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrReplayDetected) ||
		errors.Is(err, ErrTokenMismatch)
}

// IsAuthenticationError reports whether err is a login failure.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrEmailNotConfirmed)
}
