// Package mail delivers one-time login codes.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/resume-auth/internal/errs"
)

const (
	// DefaultBrevoURL is the Brevo transactional email API root.
	DefaultBrevoURL = "https://api.brevo.com"

	otpSubject = "Your OTP for ATS-Friendly Resume Builder"
	senderName = "ATS-Friendly Resume Builder"
)

// Sender sends a login code to an address. Failures wrap errs.ErrDelivery.
type Sender interface {
	SendOTP(ctx context.Context, to, code string) error
}

// BrevoSender sends codes through the Brevo transactional email API.
type BrevoSender struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
}

// NewBrevoSender constructs a sender. An empty baseURL selects DefaultBrevoURL and a nil
// client gets a 10s timeout.
func NewBrevoSender(client *http.Client, baseURL, apiKey, from string) *BrevoSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBrevoURL
	}
	return &BrevoSender{client: client, baseURL: baseURL, apiKey: apiKey, from: from}
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmail struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// SendOTP posts a single transactional message carrying code.
func (s *BrevoSender) SendOTP(ctx context.Context, to, code string) error {
	body, err := json.Marshal(brevoEmail{
		Sender:      brevoAddress{Name: senderName, Email: s.from},
		To:          []brevoAddress{{Email: to}},
		Subject:     otpSubject,
		HTMLContent: fmt.Sprintf("<html><body><h1>Your OTP is %s</h1></body></html>", code),
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", errs.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: brevo status %d: %s", errs.ErrDelivery, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogSender writes codes to the log instead of sending them. Development only.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a sender that logs codes at info level.
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.Named("mail")}
}

// SendOTP logs the code and never fails.
func (s *LogSender) SendOTP(_ context.Context, to, code string) error {
	s.log.Info("otp", zap.String("to", to), zap.String("code", code))
	return nil
}
