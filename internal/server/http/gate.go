package httpserver

import (
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/service"
)

type routeClass int

const (
	routeOpen routeClass = iota
	routeAPI
	routePage
	routeLogin
)

// Routes lists the path prefixes the gate protects.
type Routes struct {
	API     []string
	Pages   []string
	Login   string
	Landing string
}

// DefaultRoutes returns the resume application's protected areas.
func DefaultRoutes() Routes {
	return Routes{
		API:     []string{"/api/user", "/api/resumes", "/api/edit-resume-with-ai"},
		Pages:   []string{"/dashboard", "/profile", "/onboarding"},
		Login:   "/login",
		Landing: "/dashboard",
	}
}

func hasPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func (rt Routes) classify(path string) routeClass {
	for _, p := range rt.API {
		if hasPrefix(path, p) {
			return routeAPI
		}
	}
	for _, p := range rt.Pages {
		if hasPrefix(path, p) {
			return routePage
		}
	}
	if path == rt.Login {
		return routeLogin
	}
	return routeOpen
}

// AccessVerifier verifies access tokens.
type AccessVerifier interface {
	Verify(raw string, kind model.TokenKind) (uuid.UUID, error)
}

// Gate authorizes protected routes, rotating refresh tokens when the access token is
// missing or stale.
type Gate struct {
	verifier AccessVerifier
	rotation service.RotationService
	cookies  CookieConfig
	routes   Routes
	log      *zap.Logger
}

// NewGate constructs the request gate.
func NewGate(verifier AccessVerifier, rotation service.RotationService, cookies CookieConfig, routes Routes, log *zap.Logger) *Gate {
	return &Gate{verifier: verifier, rotation: rotation, cookies: cookies, routes: routes, log: log}
}

type authOutcome int

const (
	authOK authOutcome = iota
	authDenied
	authFailed // infrastructure error, already logged
)

// authenticate resolves the caller. Rotated tokens and cleared cookies are written to w.
func (g *Gate) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, authOutcome) {
	if raw := accessToken(r); raw != "" {
		if id, err := g.verifier.Verify(raw, model.KindAccess); err == nil {
			return id, authOK
		}
	}

	raw := cookieValue(r, CookieRefresh)
	if raw == "" {
		return uuid.Nil, authDenied
	}

	s, err := g.rotation.Rotate(r.Context(), raw, clientInfo(r))
	switch {
	case err == nil:
		setSessionCookies(w, g.cookies, s.Tokens)
		return s.IdentityID, authOK
	case isTerminalAuth(err):
		clearSessionCookies(w, g.cookies)
		return uuid.Nil, authDenied
	default:
		g.log.Error("gate rotation", zap.String("path", r.URL.Path), zap.Error(err))
		return uuid.Nil, authFailed
	}
}

// Middleware applies the gate. Client-supplied identity headers are always dropped.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)

		class := g.routes.classify(r.URL.Path)
		if class == routeOpen {
			next.ServeHTTP(w, r)
			return
		}

		id, outcome := g.authenticate(w, r)

		if class == routeLogin {
			if outcome == authOK {
				http.Redirect(w, r, g.routes.Landing, http.StatusTemporaryRedirect)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		switch outcome {
		case authOK:
			r.Header.Set(HeaderUserID, id.String())
			next.ServeHTTP(w, r.WithContext(WithIdentityID(r.Context(), id)))
		case authFailed:
			writeError(w, http.StatusInternalServerError, "Internal server error")
		default:
			if class == routeAPI {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			http.Redirect(w, r, g.routes.Login, http.StatusTemporaryRedirect)
		}
	})
}
