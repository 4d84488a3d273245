package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/resume-auth/internal/repository/memory"
	"github.com/and161185/resume-auth/internal/service"
	"github.com/and161185/resume-auth/internal/token"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (m *captureMailer) SendOTP(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.codes[to] = code
	return nil
}

func (m *captureMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type harness struct {
	t       *testing.T
	clock   *testClock
	store   *memory.Store
	mailer  *captureMailer
	codec   *token.Codec
	handler http.Handler
}

var testCookies = CookieConfig{Secure: true, AccessTTL: 15 * time.Minute, RefreshTTL: 15 * 24 * time.Hour}

// newHarness wires the real services over the memory store. Requests the service does not
// answer go to an upstream that echoes the identity header it received.
func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)

	h := &harness{
		t:      t,
		clock:  &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		store:  memory.New(),
		mailer: &captureMailer{codes: map[string]string{}},
	}

	codec, err := token.New(token.Config{
		AccessSecret:  []byte("access"),
		RefreshSecret: []byte("refresh"),
		AccessTTL:     testCookies.AccessTTL,
		RefreshTTL:    testCookies.RefreshTTL,
	}, token.WithClock(h.clock.Now))
	require.NoError(t, err)
	h.codec = codec

	otp := service.NewOTPService(h.store, h.store, codec, h.mailer, nil, service.OTPConfig{Now: h.clock.Now})
	rotation := service.NewRotationService(h.store, codec, nil, nil, log, service.RotationConfig{Now: h.clock.Now})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"path":   r.URL.Path,
			"userId": r.Header.Get(HeaderUserID),
		})
	}))
	t.Cleanup(upstream.Close)
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	h.handler = NewRouter(Deps{
		Auth:     NewAuthHandler(otp, rotation, testCookies, log),
		Profile:  NewProfileHandler(service.NewProfileService(h.store), log),
		Gate:     NewGate(codec, rotation, testCookies, DefaultRoutes(), log),
		Upstream: target,
		Log:      log,
	})
	return h
}

type reqOpt func(r *http.Request)

func withCookies(cs ...*http.Cookie) reqOpt {
	return func(r *http.Request) {
		for _, c := range cs {
			if c != nil {
				r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
			}
		}
	}
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (h *harness) do(method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func cookiesOf(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

// login runs the OTP flow and returns the session cookies.
func (h *harness) login(email string) (access, refresh *http.Cookie) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/auth/otp", `{"email":"`+email+`"}`)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/auth/verify-otp", `{"email":"`+email+`","otp":"`+h.mailer.code(email)+`"}`)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	c := cookiesOf(rec)
	require.NotNil(h.t, c[CookieAccess])
	require.NotNil(h.t, c[CookieRefresh])
	return c[CookieAccess], c[CookieRefresh]
}
