package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/resume-auth/internal/model"
)

const identityColumns = `id, email, name, date_of_birth, otp, otp_expires_at, main_resume_id, generated_resume_ids, created_at`

// IdentityRepo implements IdentityRepository using PostgreSQL.
type IdentityRepo struct{ db *DB }

// NewIdentityRepo constructs an identity repository.
func NewIdentityRepo(db *DB) *IdentityRepo { return &IdentityRepo{db: db} }

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*model.Identity, error) {
	var (
		i         model.Identity
		name      *string
		otp       *string
		otpExp    *time.Time
		mainResID *uuid.UUID
	)
	err := row.Scan(&i.ID, &i.Email, &name, &i.DateOfBirth, &otp, &otpExp, &mainResID, &i.GeneratedResumeIDs, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	if name != nil {
		i.Name = *name
	}
	if otp != nil && otpExp != nil {
		i.OTP = &model.OTPChallenge{Code: *otp, ExpiresAt: *otpExp}
	}
	if mainResID != nil {
		i.MainResumeID = uuid.NullUUID{UUID: *mainResID, Valid: true}
	}
	return &i, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetByEmail selects an identity by email.
func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	const q = `SELECT ` + identityColumns + ` FROM users WHERE email=$1`
	i, err := scanIdentity(r.db.Pool.QueryRow(ctx, q, email))
	if err != nil {
		return nil, storeErr("get identity by email", err)
	}
	return i, nil
}

// GetByID selects an identity by ID.
func (r *IdentityRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	const q = `SELECT ` + identityColumns + ` FROM users WHERE id=$1`
	i, err := scanIdentity(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, storeErr("get identity by id", err)
	}
	return i, nil
}

// SetChallenge upserts the identity by email. On conflict only the challenge columns are
// written, so concurrent onboarding changes survive.
func (r *IdentityRepo) SetChallenge(ctx context.Context, email string, ch *model.OTPChallenge) (uuid.UUID, error) {
	newID, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	const q = `
INSERT INTO users (id, email, otp, otp_expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (email) DO UPDATE
SET otp=EXCLUDED.otp, otp_expires_at=EXCLUDED.otp_expires_at
RETURNING id`
	var id uuid.UUID
	if err := r.db.Pool.QueryRow(ctx, q, newID, email, ch.Code, ch.ExpiresAt).Scan(&id); err != nil {
		return uuid.Nil, storeErr("set challenge", err)
	}
	return id, nil
}

// UpdateProfile writes the onboarding columns and returns the resulting row.
func (r *IdentityRepo) UpdateProfile(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.Identity, error) {
	const q = `
UPDATE users
SET name=$2, date_of_birth=$3
WHERE id=$1
RETURNING ` + identityColumns
	i, err := scanIdentity(r.db.Pool.QueryRow(ctx, q, id, nullString(upd.Name), upd.DateOfBirth))
	if err != nil {
		return nil, storeErr("update profile", err)
	}
	return i, nil
}

// ConsumeOTP clears a matching, unexpired challenge in a single statement and returns
// the identity with the challenge already cleared.
func (r *IdentityRepo) ConsumeOTP(ctx context.Context, email, code string, now time.Time) (*model.Identity, error) {
	const q = `
UPDATE users
SET otp=NULL, otp_expires_at=NULL
WHERE email=$1 AND otp=$2 AND otp_expires_at > $3
RETURNING ` + identityColumns
	i, err := scanIdentity(r.db.Pool.QueryRow(ctx, q, email, code, now))
	if err != nil {
		return nil, storeErr("consume otp", err)
	}
	return i, nil
}
