package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/resume-auth/internal/audit"
	pkgcrypto "github.com/and161185/resume-auth/internal/crypto"
	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/mail"
	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/repository"
)

// OTPService defines the passwordless login flow.
type OTPService interface {
	// RequestChallenge stores a fresh code for email and mails it.
	RequestChallenge(ctx context.Context, email string) error
	// Verify consumes the code and opens a session.
	Verify(ctx context.Context, email, code string, client model.ClientInfo) (Login, error)
}

// Login is a session opened by OTP verification.
type Login struct {
	Session
	IsNewIdentity bool
}

// OTPConfig holds challenge parameters.
type OTPConfig struct {
	TTL    time.Duration
	Digits int
	Now    func() time.Time
}

// OTPServiceImpl implements OTPService on an IdentityRepository and the session issuer.
type OTPServiceImpl struct {
	users  repository.IdentityRepository
	issuer issuer
	mailer mail.Sender
	events audit.Sink
	ttl    time.Duration
	digits int
	now    func() time.Time
}

// NewOTPService constructs OTPService. Zero config values fall back to 5 minutes and
// 6 digits.
func NewOTPService(users repository.IdentityRepository, refresh repository.RefreshTokenRepository, codec TokenCodec, mailer mail.Sender, events audit.Sink, cfg OTPConfig) *OTPServiceImpl {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if events == nil {
		events = audit.Nop{}
	}
	return &OTPServiceImpl{
		users:  users,
		issuer: issuer{codec: codec, refresh: refresh},
		mailer: mailer,
		events: events,
		ttl:    cfg.TTL,
		digits: cfg.Digits,
		now:    cfg.Now,
	}
}

// RequestChallenge upserts the challenge and then sends it. A failed send leaves the stored
// code in place and reports errs.ErrDelivery.
func (s *OTPServiceImpl) RequestChallenge(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", errs.ErrValidation)
	}

	code, err := pkgcrypto.NewOTP(s.digits)
	if err != nil {
		return err
	}
	ch := &model.OTPChallenge{Code: code, ExpiresAt: s.now().Add(s.ttl)}

	id, err := s.users.SetChallenge(ctx, email, ch)
	if err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, email, code); err != nil {
		s.events.Emit(ctx, audit.Event{Kind: audit.OTPDeliveryFailed, IdentityID: id, Email: email})
		if !errors.Is(err, errs.ErrDelivery) {
			err = fmt.Errorf("%w: %v", errs.ErrDelivery, err)
		}
		return err
	}
	s.events.Emit(ctx, audit.Event{Kind: audit.OTPIssued, IdentityID: id, Email: email})
	return nil
}

// Verify consumes a matching live code and opens a session. Unknown identities, wrong codes
// and expired codes all yield errs.ErrInvalidChallenge; the distinction goes to the audit sink.
func (s *OTPServiceImpl) Verify(ctx context.Context, email, code string, client model.ClientInfo) (Login, error) {
	email = NormalizeEmail(email)
	if email == "" || code == "" {
		return Login{}, fmt.Errorf("%w: email and otp are required", errs.ErrValidation)
	}

	now := s.now()
	i, err := s.users.ConsumeOTP(ctx, email, code, now)
	if errors.Is(err, errs.ErrNotFound) {
		s.events.Emit(ctx, audit.Event{
			Kind:      audit.OTPRejected,
			Email:     email,
			IP:        client.IP,
			UserAgent: client.UserAgent,
			Reason:    s.rejectReason(ctx, email, code, now),
		})
		return Login{}, errs.ErrInvalidChallenge
	}
	if err != nil {
		return Login{}, fmt.Errorf("consume otp: %w", err)
	}

	tokens, err := s.issuer.issue(ctx, i.ID, client)
	if err != nil {
		return Login{}, err
	}
	s.events.Emit(ctx, audit.Event{Kind: audit.SessionIssued, IdentityID: i.ID, IP: client.IP, UserAgent: client.UserAgent})

	return Login{
		Session:       Session{IdentityID: i.ID, Tokens: tokens},
		IsNewIdentity: i.IsNew(),
	}, nil
}

// rejectReason classifies a failed verification after the fact. It is advisory only.
func (s *OTPServiceImpl) rejectReason(ctx context.Context, email, code string, now time.Time) string {
	i, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return audit.ReasonUnknownIdentity
	case err != nil:
		return ""
	case i.OTP == nil:
		return audit.ReasonConsumed
	case !pkgcrypto.EqualCode(i.OTP.Code, code):
		return audit.ReasonWrongCode
	case i.OTP.Expired(now):
		return audit.ReasonExpired
	default:
		// matched and live now; another request won the consume
		return audit.ReasonConsumed
	}
}
