// Package httpserver exposes the auth endpoints and the request gate over HTTP.
package httpserver

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Auth    *AuthHandler
	Profile *ProfileHandler
	Gate    *Gate
	// Upstream receives every request this service does not answer itself. Nil means 404.
	Upstream *url.URL
	Log      *zap.Logger
}

// NewRouter assembles the HTTP handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(d.Log))
	r.Use(Recover(d.Log))
	r.Use(d.Gate.Middleware)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/otp", d.Auth.RequestOTP)
		r.Post("/verify-otp", d.Auth.VerifyOTP)
		r.Post("/verify-token", d.Auth.Rotate)
		r.Post("/refresh-token", d.Auth.Rotate)
		r.Post("/logout", d.Auth.Logout)
	})

	r.Get("/api/user/profile", d.Profile.Get)
	r.Put("/api/user/profile", d.Profile.Update)

	fallback := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	if d.Upstream != nil {
		fallback = NewUpstreamProxy(d.Upstream, d.Log).ServeHTTP
	}
	r.NotFound(fallback)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// NewUpstreamProxy forwards requests to the resume application. The gate has already set
// or removed the identity header on the inbound request.
func NewUpstreamProxy(target *url.URL, log *zap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("upstream", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusBadGateway, "Upstream unavailable")
		},
	}
}
