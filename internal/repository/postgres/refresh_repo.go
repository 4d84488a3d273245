package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
)

// RefreshRepo implements RefreshTokenRepository using PostgreSQL.
type RefreshRepo struct{ db *DB }

// NewRefreshRepo constructs a refresh token repository.
func NewRefreshRepo(db *DB) *RefreshRepo { return &RefreshRepo{db: db} }

// Insert stores a new refresh record. The same statement deletes the identity's records
// that lapsed before rec.CreatedAt: their tokens no longer verify, so nothing could ever
// consume them.
func (r *RefreshRepo) Insert(ctx context.Context, rec *model.RefreshRecord) error {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	const q = `
WITH lapsed AS (
	DELETE FROM refresh_tokens WHERE identity_id=$2 AND expires_at < $5
)
INSERT INTO refresh_tokens (id, identity_id, token_hash, expires_at, created_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, rec.ID, rec.IdentityID, rec.TokenHash, rec.ExpiresAt, rec.CreatedAt, rec.IP, rec.UserAgent)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return storeErr("insert refresh token", err)
}

// Consume deletes and returns the matching record in one statement, so concurrent
// rotations of the same token cannot both see it.
func (r *RefreshRepo) Consume(ctx context.Context, identityID uuid.UUID, tokenHash string) (*model.RefreshRecord, error) {
	const q = `
DELETE FROM refresh_tokens
WHERE identity_id=$1 AND token_hash=$2
RETURNING id, identity_id, token_hash, expires_at, created_at, ip, user_agent`
	var rec model.RefreshRecord
	err := r.db.Pool.QueryRow(ctx, q, identityID, tokenHash).
		Scan(&rec.ID, &rec.IdentityID, &rec.TokenHash, &rec.ExpiresAt, &rec.CreatedAt, &rec.IP, &rec.UserAgent)
	if err != nil {
		return nil, storeErr("consume refresh token", err)
	}
	return &rec, nil
}

// DeleteAll removes all refresh records of an identity.
func (r *RefreshRepo) DeleteAll(ctx context.Context, identityID uuid.UUID) error {
	const q = `DELETE FROM refresh_tokens WHERE identity_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, identityID)
	return storeErr("delete refresh tokens", err)
}
