package httpserver

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/resume-auth/internal/model"
)

const (
	CookieAccess  = "accessToken"
	CookieRefresh = "refreshToken"

	// HeaderUserID carries the authenticated identity to downstream handlers.
	HeaderUserID = "X-User-Id"
)

// CookieConfig controls session cookie attributes.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func setSessionCookies(w http.ResponseWriter, cfg CookieConfig, t model.Tokens) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieAccess,
		Value:    t.AccessToken,
		Path:     "/",
		MaxAge:   int(cfg.AccessTTL / time.Second),
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CookieRefresh,
		Value:    t.RefreshToken,
		Path:     "/",
		MaxAge:   int(cfg.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{CookieAccess, CookieRefresh} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: name == CookieRefresh,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// accessToken prefers an Authorization bearer over the cookie.
func accessToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t
		}
	}
	return cookieValue(r, CookieAccess)
}

// clientInfo reads provenance. RemoteAddr is already rewritten by chi's RealIP.
func clientInfo(r *http.Request) model.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return model.ClientInfo{IP: ip, UserAgent: r.UserAgent()}
}
