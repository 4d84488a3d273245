// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// TokenKind selects the signing secret and lifetime of a bearer token.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // refresh token expiry
}

// ClientInfo is request provenance captured when a refresh record is written.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// OTPChallenge is an open login attempt. Present only between request and verification.
type OTPChallenge struct {
	Code      string
	ExpiresAt time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c *OTPChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Identity represents a user keyed by email.
type Identity struct {
	ID                 uuid.UUID  // PK
	Email              string     // unique
	Name               string     // empty until onboarding is completed
	DateOfBirth        *time.Time // optional
	OTP                *OTPChallenge
	MainResumeID       uuid.NullUUID
	GeneratedResumeIDs []uuid.UUID
	CreatedAt          time.Time
}

// IsNew reports whether the identity has not completed onboarding yet.
func (i *Identity) IsNew() bool { return i.Name == "" }

// RefreshRecord is one outstanding, unused refresh credential. Only the digest of the
// raw token is stored.
type RefreshRecord struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	IP         string
	UserAgent  string
}

// Expired reports whether the record is past its expiry at now.
func (r *RefreshRecord) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// ProfileUpdate carries the onboarding fields an identity may change.
type ProfileUpdate struct {
	Name        string
	DateOfBirth *time.Time
}
