// Package service contains application services for OTP login, refresh rotation and
// profiles.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/resume-auth/internal/crypto"
	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/repository"
)

// TokenCodec issues and verifies signed bearer tokens.
type TokenCodec interface {
	Issue(subject uuid.UUID, kind model.TokenKind) (string, time.Time, error)
	Verify(raw string, kind model.TokenKind) (uuid.UUID, error)
}

// Session is the outcome of a login or rotation.
type Session struct {
	IdentityID uuid.UUID
	Tokens     model.Tokens
}

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// issuer mints an access/refresh pair and records the refresh digest.
type issuer struct {
	codec   TokenCodec
	refresh repository.RefreshTokenRepository
}

func (s issuer) issue(ctx context.Context, id uuid.UUID, client model.ClientInfo) (model.Tokens, error) {
	access, _, err := s.codec.Issue(id, model.KindAccess)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, exp, err := s.codec.Issue(id, model.KindRefresh)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue refresh token: %w", err)
	}

	rec := &model.RefreshRecord{
		IdentityID: id,
		TokenHash:  pkgcrypto.HashToken(refresh),
		ExpiresAt:  exp,
		IP:         client.IP,
		UserAgent:  client.UserAgent,
	}
	if err := s.refresh.Insert(ctx, rec); err != nil {
		return model.Tokens{}, fmt.Errorf("store refresh token: %w", err)
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}
