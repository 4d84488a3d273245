package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/service"
)

// AuthHandler serves the /api/auth endpoints.
type AuthHandler struct {
	otp      service.OTPService
	rotation service.RotationService
	cookies  CookieConfig
	log      *zap.Logger
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(otp service.OTPService, rotation service.RotationService, cookies CookieConfig, log *zap.Logger) *AuthHandler {
	return &AuthHandler{otp: otp, rotation: rotation, cookies: cookies, log: log}
}

type otpRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type verifyOTPResponse struct {
	IsNewIdentity bool `json:"isNewIdentity"`
	NewUser       bool `json:"newUser"`
}

type rotateRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type rotateResponse struct {
	AccessToken  string `json:"newAccessToken"`
	RefreshToken string `json:"newRefreshToken"`
	UserID       string `json:"userId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// RequestOTP handles POST /api/auth/otp.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.otp.RequestChallenge(r.Context(), req.Email); err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP sent successfully"})
}

// VerifyOTP handles POST /api/auth/verify-otp.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	login, err := h.otp.Verify(r.Context(), req.Email, strings.TrimSpace(req.OTP), clientInfo(r))
	if err != nil {
		respondErr(w, r, h.log, err)
		return
	}
	setSessionCookies(w, h.cookies, login.Tokens)
	writeJSON(w, http.StatusOK, verifyOTPResponse{IsNewIdentity: login.IsNewIdentity, NewUser: login.IsNewIdentity})
}

// Rotate handles POST /api/auth/verify-token and /api/auth/refresh-token. The token comes
// from the body or, failing that, the refresh cookie.
func (h *AuthHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	raw := req.RefreshToken
	if raw == "" {
		raw = cookieValue(r, CookieRefresh)
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	s, err := h.rotation.Rotate(r.Context(), raw, clientInfo(r))
	if err != nil {
		if isTerminalAuth(err) {
			clearSessionCookies(w, h.cookies)
		}
		respondErr(w, r, h.log, err)
		return
	}
	setSessionCookies(w, h.cookies, s.Tokens)
	writeJSON(w, http.StatusOK, rotateResponse{
		AccessToken:  s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
		UserID:       s.IdentityID.String(),
	})
}

// Logout handles POST /api/auth/logout. It always succeeds. Like Rotate it accepts the
// token in the body for clients that do not keep cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	_ = decodeJSON(w, r, &req, true)
	raw := req.RefreshToken
	if raw == "" {
		raw = cookieValue(r, CookieRefresh)
	}
	if raw != "" {
		err := h.rotation.Revoke(r.Context(), raw, clientInfo(r))
		if err != nil && !errors.Is(err, errs.ErrInvalidToken) {
			h.log.Warn("logout revoke", zap.Error(err))
		}
	}
	clearSessionCookies(w, h.cookies)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// ProfileHandler serves /api/user/profile behind the gate.
type ProfileHandler struct {
	profiles service.ProfileService
	log      *zap.Logger
}

// NewProfileHandler constructs ProfileHandler.
func NewProfileHandler(profiles service.ProfileService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, log: log}
}

const dateLayout = "2006-01-02"

type profileResponse struct {
	ID                 string   `json:"id"`
	Email              string   `json:"email"`
	Name               string   `json:"name"`
	DateOfBirth        *string  `json:"dateOfBirth"`
	MainResumeID       *string  `json:"mainResumeId"`
	GeneratedResumeIDs []string `json:"generatedResumeIds"`
	IsNewIdentity      bool     `json:"isNewIdentity"`
}

type profileUpdateRequest struct {
	Name        string  `json:"name"`
	DateOfBirth *string `json:"dateOfBirth"`
}

func toProfile(i *model.Identity) profileResponse {
	p := profileResponse{
		ID:                 i.ID.String(),
		Email:              i.Email,
		Name:               i.Name,
		GeneratedResumeIDs: make([]string, 0, len(i.GeneratedResumeIDs)),
		IsNewIdentity:      i.IsNew(),
	}
	if i.DateOfBirth != nil {
		d := i.DateOfBirth.Format(dateLayout)
		p.DateOfBirth = &d
	}
	if i.MainResumeID.Valid {
		m := i.MainResumeID.UUID.String()
		p.MainResumeID = &m
	}
	for _, id := range i.GeneratedResumeIDs {
		p.GeneratedResumeIDs = append(p.GeneratedResumeIDs, id.String())
	}
	return p
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: dateOfBirth must be YYYY-MM-DD or RFC 3339", errs.ErrValidation)
	}
	return t.UTC(), nil
}

// Get handles GET /api/user/profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	i, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		respondErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(i))
}

// Update handles PUT /api/user/profile.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req profileUpdateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	upd := model.ProfileUpdate{Name: req.Name}
	if req.DateOfBirth != nil && *req.DateOfBirth != "" {
		dob, err := parseDate(*req.DateOfBirth)
		if err != nil {
			respondErr(w, r, h.log, err)
			return
		}
		upd.DateOfBirth = &dob
	}

	i, err := h.profiles.Update(r.Context(), id, upd)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		respondErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(i))
}
