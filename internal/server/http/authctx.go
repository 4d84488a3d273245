package httpserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const identityIDKey ctxKey = "ra.identityID"

// WithIdentityID stores the authenticated identity in ctx.
func WithIdentityID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, identityIDKey, id)
}

// IdentityIDFromCtx fetches the identity stored by the gate.
func IdentityIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(identityIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
