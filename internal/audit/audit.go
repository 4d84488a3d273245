// Package audit records security-relevant authentication events.
package audit

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Kind names an audit event.
type Kind string

const (
	OTPIssued         Kind = "otp_issued"
	OTPDeliveryFailed Kind = "otp_delivery_failed"
	OTPRejected       Kind = "otp_rejected"
	SessionIssued     Kind = "session_issued"
	RotateSuccess     Kind = "rotate_success"
	RotateReplay      Kind = "rotate_replay"
	RotateExpired     Kind = "rotate_expired"
	RotateInvalid     Kind = "rotate_invalid"
	Logout            Kind = "logout"
	IPChanged         Kind = "ip_changed"
)

// Reasons attached to OTPRejected.
const (
	ReasonUnknownIdentity = "unknown_identity"
	ReasonWrongCode       = "wrong_code"
	ReasonExpired         = "expired"
	ReasonConsumed        = "consumed"
)

// Event is one audit record. Raw tokens and OTP codes never appear here.
type Event struct {
	Time       time.Time
	Kind       Kind
	IdentityID uuid.UUID
	Email      string
	IP         string
	UserAgent  string
	Reason     string
}

// Sink receives audit events. Emit must not block the caller for long.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// ZapSink writes events to a zap logger under the "audit" name.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink returns a sink logging through log.
func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log.Named("audit")}
}

// Emit logs the event. Replays are logged at warn level.
func (s *ZapSink) Emit(_ context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	fields := []zap.Field{
		zap.String("event", string(e.Kind)),
		zap.Time("at", e.Time),
	}
	if e.IdentityID != uuid.Nil {
		fields = append(fields, zap.String("identity_id", e.IdentityID.String()))
	}
	if e.Email != "" {
		fields = append(fields, zap.String("email", e.Email))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", e.UserAgent))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}

	switch e.Kind {
	case RotateReplay, OTPDeliveryFailed:
		s.log.Warn("auth event", fields...)
	default:
		s.log.Info("auth event", fields...)
	}
}
