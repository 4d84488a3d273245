// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates a missing or malformed required field.
	ErrValidation = errors.New("validation")

	// ErrInvalidChallenge covers unknown identity, wrong code and expired code alike.
	ErrInvalidChallenge = errors.New("invalid or expired otp")

	// ErrInvalidToken indicates a bad signature or malformed token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpired indicates a well-formed credential past its expiry.
	ErrExpired = errors.New("expired")

	// ErrReplaySuspected indicates a verified refresh token with no live store record.
	ErrReplaySuspected = errors.New("refresh token replay suspected")

	// ErrDelivery indicates the email collaborator rejected a send.
	ErrDelivery = errors.New("delivery failed")

	// ErrStore indicates the persistence layer failed.
	ErrStore = errors.New("store unavailable")

	// ErrConfiguration indicates missing or invalid startup configuration.
	ErrConfiguration = errors.New("configuration")
)
