package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/resume-auth/internal/audit"
	pkgcrypto "github.com/and161185/resume-auth/internal/crypto"
	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/notify"
	"github.com/and161185/resume-auth/internal/repository"
)

// RotationService exchanges refresh tokens.
type RotationService interface {
	// Rotate consumes raw and issues a new pair.
	Rotate(ctx context.Context, raw string, client model.ClientInfo) (Session, error)
	// Revoke deletes the record of raw, if any.
	Revoke(ctx context.Context, raw string, client model.ClientInfo) error
}

// RotationConfig holds timeouts for rotation side effects.
type RotationConfig struct {
	// StoreTimeout bounds the store calls of one rotation. Default 5s.
	StoreTimeout time.Duration
	// NotifyTimeout bounds one webhook delivery. Default 5s.
	NotifyTimeout time.Duration
	Now           func() time.Time
}

// RotationServiceImpl implements RotationService. Webhook deliveries run in the background;
// Wait blocks until they finish.
type RotationServiceImpl struct {
	codec    TokenCodec
	refresh  repository.RefreshTokenRepository
	issuer   issuer
	events   audit.Sink
	notifier notify.Notifier
	log      *zap.Logger

	storeTimeout  time.Duration
	notifyTimeout time.Duration
	now           func() time.Time

	wg sync.WaitGroup
}

// NewRotationService constructs RotationService. notifier may be nil.
func NewRotationService(refresh repository.RefreshTokenRepository, codec TokenCodec, events audit.Sink, notifier notify.Notifier, log *zap.Logger, cfg RotationConfig) *RotationServiceImpl {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if events == nil {
		events = audit.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RotationServiceImpl{
		codec:         codec,
		refresh:       refresh,
		issuer:        issuer{codec: codec, refresh: refresh},
		events:        events,
		notifier:      notifier,
		log:           log,
		storeTimeout:  cfg.StoreTimeout,
		notifyTimeout: cfg.NotifyTimeout,
		now:           cfg.Now,
	}
}

// Rotate runs the rotation state machine:
//
//	bad signature or JWT expiry  -> errs.ErrInvalidToken, store untouched
//	no record for (subject,hash) -> every record of the subject deleted, errs.ErrReplaySuspected
//	record past its expiry       -> record deleted, errs.ErrExpired
//	otherwise                    -> record deleted, new pair issued and recorded
//
// Once the token verifies, the store work runs detached from ctx cancellation and bounded
// by the store timeout, so a dropped client cannot leave a half-applied rotation.
func (s *RotationServiceImpl) Rotate(ctx context.Context, raw string, client model.ClientInfo) (Session, error) {
	id, err := s.codec.Verify(raw, model.KindRefresh)
	if err != nil {
		s.events.Emit(ctx, audit.Event{Kind: audit.RotateInvalid, IP: client.IP, UserAgent: client.UserAgent})
		return Session{}, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	rec, err := s.refresh.Consume(ctx, id, pkgcrypto.HashToken(raw))
	if errors.Is(err, errs.ErrNotFound) {
		s.events.Emit(ctx, audit.Event{Kind: audit.RotateReplay, IdentityID: id, IP: client.IP, UserAgent: client.UserAgent})
		if err := s.refresh.DeleteAll(ctx, id); err != nil {
			return Session{}, fmt.Errorf("revoke after replay: %w", err)
		}
		return Session{}, errs.ErrReplaySuspected
	}
	if err != nil {
		return Session{}, fmt.Errorf("consume refresh token: %w", err)
	}

	if rec.Expired(s.now()) {
		s.events.Emit(ctx, audit.Event{Kind: audit.RotateExpired, IdentityID: id, IP: client.IP, UserAgent: client.UserAgent})
		return Session{}, errs.ErrExpired
	}

	tokens, err := s.issuer.issue(ctx, id, client)
	if err != nil {
		return Session{}, err
	}
	s.events.Emit(ctx, audit.Event{Kind: audit.RotateSuccess, IdentityID: id, IP: client.IP, UserAgent: client.UserAgent})

	if rec.IP != "" && client.IP != "" && rec.IP != client.IP {
		s.events.Emit(ctx, audit.Event{Kind: audit.IPChanged, IdentityID: id, IP: client.IP, UserAgent: client.UserAgent})
		s.notifyIPChange(notify.IPChange{IdentityID: id, NewIP: client.IP, OldIP: rec.IP, At: s.now()})
	}

	return Session{IdentityID: id, Tokens: tokens}, nil
}

func (s *RotationServiceImpl) notifyIPChange(c notify.IPChange) {
	if s.notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.IPChanged(ctx, c); err != nil {
			s.log.Warn("ip change webhook", zap.String("identity_id", c.IdentityID.String()), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight webhook deliveries finish.
func (s *RotationServiceImpl) Wait() { s.wg.Wait() }

// Revoke deletes the record of a verified refresh token. Unknown tokens are not an error.
func (s *RotationServiceImpl) Revoke(ctx context.Context, raw string, client model.ClientInfo) error {
	id, err := s.codec.Verify(raw, model.KindRefresh)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	if _, err := s.refresh.Consume(ctx, id, pkgcrypto.HashToken(raw)); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.events.Emit(ctx, audit.Event{Kind: audit.Logout, IdentityID: id, IP: client.IP, UserAgent: client.UserAgent})
	return nil
}
