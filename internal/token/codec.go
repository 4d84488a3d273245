// Package token signs and verifies the HS256 bearer tokens handed to clients.
// Access and refresh tokens use distinct secrets and lifetimes.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
)

// Config holds per-kind secrets and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims is the token payload. Kind guards against one kind being accepted as the other
// when operators configure identical secrets.
type Claims struct {
	Kind model.TokenKind `json:"knd"`
	jwt.RegisteredClaims
}

type keySpec struct {
	secret []byte
	ttl    time.Duration
}

// Codec issues and verifies tokens. It is stateless and safe for concurrent use.
type Codec struct {
	keys map[model.TokenKind]keySpec
	now  func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, used for both issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// New validates cfg and constructs a Codec. Missing secrets or non-positive lifetimes
// are reported as errs.ErrConfiguration.
func New(cfg Config, opts ...Option) (*Codec, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, fmt.Errorf("%w: access token secret is not set", errs.ErrConfiguration)
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("%w: refresh token secret is not set", errs.ErrConfiguration)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", errs.ErrConfiguration)
	}
	c := &Codec{
		keys: map[model.TokenKind]keySpec{
			model.KindAccess:  {secret: cfg.AccessSecret, ttl: cfg.AccessTTL},
			model.KindRefresh: {secret: cfg.RefreshSecret, ttl: cfg.RefreshTTL},
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// TTL returns the fixed lifetime of the given kind.
func (c *Codec) TTL(kind model.TokenKind) time.Duration {
	return c.keys[kind].ttl
}

// Issue signs a token for subject. Every token carries a random jti, so two tokens issued
// for the same subject in the same second still differ.
func (c *Codec) Issue(subject uuid.UUID, kind model.TokenKind) (string, time.Time, error) {
	key, ok := c.keys[kind]
	if !ok || len(key.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: no secret for %q tokens", errs.ErrConfiguration, kind)
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.now()
	exp := now.Add(key.ttl)
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   subject.String(),
			Audience:  jwt.ClaimStrings{string(kind)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, kind and expiry and returns the subject.
// Errors are errs.ErrExpired for a lapsed but otherwise valid token and
// errs.ErrInvalidToken for everything else.
func (c *Codec) Verify(raw string, kind model.TokenKind) (uuid.UUID, error) {
	key, ok := c.keys[kind]
	if !ok || len(key.secret) == 0 {
		return uuid.Nil, fmt.Errorf("%w: no secret for %q tokens", errs.ErrConfiguration, kind)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return key.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(string(kind)),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrExpired, err)
		}
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if claims.Kind != kind {
		return uuid.Nil, fmt.Errorf("%w: kind %q, want %q", errs.ErrInvalidToken, claims.Kind, kind)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrInvalidToken)
	}
	return id, nil
}
