package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/resume-auth/internal/model"
)

// RefreshTokenRepository stores digests of outstanding refresh tokens.
type RefreshTokenRepository interface {
	// Insert stores a new record; ID and CreatedAt are filled in when zero.
	Insert(ctx context.Context, r *model.RefreshRecord) error
	// Consume atomically deletes the record matching (identityID, tokenHash) and returns it.
	// Of several concurrent callers at most one observes the record; the rest get
	// errs.ErrNotFound.
	Consume(ctx context.Context, identityID uuid.UUID, tokenHash string) (*model.RefreshRecord, error)
	// DeleteAll removes every record of the identity.
	DeleteAll(ctx context.Context, identityID uuid.UUID) error
}

// Pinger reports store reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
