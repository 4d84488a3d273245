// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/resume-auth/internal/model"
)

// IdentityRepository provides access to identities and their open OTP challenge.
type IdentityRepository interface {
	// GetByEmail loads an identity by email. Missing rows yield errs.ErrNotFound.
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	// GetByID loads an identity by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Identity, error)
	// SetChallenge stores ch as the open challenge of email, creating the identity when
	// unseen, and returns its ID. Only the challenge of an existing identity changes.
	SetChallenge(ctx context.Context, email string, ch *model.OTPChallenge) (uuid.UUID, error)
	// UpdateProfile sets name and date of birth and nothing else. Unknown IDs yield
	// errs.ErrNotFound.
	UpdateProfile(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.Identity, error)
	// ConsumeOTP atomically clears the challenge if it matches code and is live at now,
	// returning the identity with the challenge cleared. Otherwise errs.ErrNotFound.
	ConsumeOTP(ctx context.Context, email, code string, now time.Time) (*model.Identity, error)
}
