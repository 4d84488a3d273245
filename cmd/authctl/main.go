// Command authctl is an operator and developer client for resume-auth: it drives the
// OTP login over HTTP, keeps the resulting session on disk and checks gRPC health.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ---- session store ----

type sessionFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "resume-auth")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "resume-auth")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(s sessionFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sessionPath(), b, 0o600)
}

func loadSession() (sessionFile, error) {
	var s sessionFile
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	if s.RefreshToken == "" {
		return s, errors.New("no session (login required)")
	}
	return s, nil
}

// ---- http api ----

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Message) }

type api struct {
	base   string
	client *http.Client
}

func (a api) do(ctx context.Context, method, path, bearer string, in, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.base, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return resp, &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (a api) requestOTP(ctx context.Context, email string) error {
	_, err := a.do(ctx, http.MethodPost, "/api/auth/otp", "", map[string]string{"email": email}, nil)
	return err
}

type loginResult struct {
	IsNewIdentity bool `json:"isNewIdentity"`
}

// login verifies the code. Tokens arrive only as cookies on this endpoint.
func (a api) login(ctx context.Context, email, code string) (sessionFile, loginResult, error) {
	var res loginResult
	resp, err := a.do(ctx, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"email": email, "otp": code}, &res)
	if err != nil {
		return sessionFile{}, res, err
	}
	var s sessionFile
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "accessToken":
			s.AccessToken = c.Value
		case "refreshToken":
			s.RefreshToken = c.Value
		}
	}
	if s.RefreshToken == "" {
		return s, res, errors.New("server did not set a refresh cookie")
	}
	return s, res, nil
}

func (a api) refresh(ctx context.Context, refreshToken string) (sessionFile, error) {
	var out struct {
		AccessToken  string `json:"newAccessToken"`
		RefreshToken string `json:"newRefreshToken"`
		UserID       string `json:"userId"`
	}
	if _, err := a.do(ctx, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{"refreshToken": refreshToken}, &out); err != nil {
		return sessionFile{}, err
	}
	return sessionFile{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken, UserID: out.UserID}, nil
}

func (a api) logout(ctx context.Context, refreshToken string) error {
	_, err := a.do(ctx, http.MethodPost, "/api/auth/logout", "", map[string]string{"refreshToken": refreshToken}, nil)
	return err
}

func (a api) profile(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	_, err := a.do(ctx, http.MethodGet, "/api/user/profile", accessToken, nil, &out)
	return out, err
}

// ---- grpc health ----

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dialHealth(addr, caPath string, useTLS, skipVerify bool) (*grpc.ClientConn, healthpb.HealthClient, error) {
	creds := grpcinsecure.NewCredentials()
	if useTLS {
		var err error
		if creds, err = loadTLS(caPath, skipVerify); err != nil {
			return nil, nil, err
		}
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, err
	}
	return cc, healthpb.NewHealthClient(cc), nil
}

func checkHealth(ctx context.Context, cli healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := cli.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `authctl
Usage:
  authctl [-url http://HOST:PORT] [-grpc HOST:PORT [-tls] [-cacert file | -skip-verify]] <cmd> [args]

Commands:
  version
  otp      -email <address>                  (mails a login code)
  login    -email <address> -code <digits>    (saves session)
  refresh                                    (rotates the saved session)
  whoami                                     (profile of the saved session)
  logout                                     (revokes and forgets the saved session)
  health   [-service <name>]                 (gRPC health check; exit 1 unless SERVING)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "HTTP base URL")
	grpcAddr := flag.String("grpc", "localhost:8081", "gRPC health address")
	useTLS := flag.Bool("tls", false, "use TLS for gRPC")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("skip-verify", false, "skip cert verify (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := api{base: *baseURL, client: &http.Client{Timeout: 20 * time.Second}}

	switch cmd {
	case "version":
		fmt.Printf("authctl %s (%s)\n", version, buildDate)

	case "otp":
		fs := flag.NewFlagSet("otp", flag.ExitOnError)
		email := fs.String("email", "", "email address")
		_ = fs.Parse(args)
		if *email == "" {
			fmt.Fprintln(os.Stderr, "need -email")
			os.Exit(1)
		}
		if err := a.requestOTP(ctx, *email); err != nil {
			fail(err)
		}
		fmt.Println("code sent")

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "email address")
		code := fs.String("code", "", "one-time code")
		_ = fs.Parse(args)
		if *email == "" || *code == "" {
			fmt.Fprintln(os.Stderr, "need -email and -code")
			os.Exit(1)
		}
		s, res, err := a.login(ctx, *email, *code)
		if err != nil {
			fail(err)
		}
		if err := saveSession(s); err != nil {
			fail(err)
		}
		printJSON(res)

	case "refresh":
		cur, err := loadSession()
		if err != nil {
			fail(err)
		}
		s, err := a.refresh(ctx, cur.RefreshToken)
		if err != nil {
			fail(err)
		}
		if err := saveSession(s); err != nil {
			fail(err)
		}
		fmt.Println(s.UserID)

	case "whoami":
		s, err := loadSession()
		if err != nil {
			fail(err)
		}
		p, err := a.profile(ctx, s.AccessToken)
		var ae *apiError
		if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized {
			// access token lapsed; rotate once and retry
			if s, err = a.refresh(ctx, s.RefreshToken); err != nil {
				fail(err)
			}
			if err := saveSession(s); err != nil {
				fail(err)
			}
			p, err = a.profile(ctx, s.AccessToken)
		}
		if err != nil {
			fail(err)
		}
		printJSON(p)

	case "logout":
		s, err := loadSession()
		if err != nil {
			fail(err)
		}
		if err := a.logout(ctx, s.RefreshToken); err != nil {
			fail(err)
		}
		if err := os.Remove(sessionPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			fail(err)
		}
		fmt.Println("logged out")

	case "health":
		fs := flag.NewFlagSet("health", flag.ExitOnError)
		service := fs.String("service", "", "service name; empty checks the whole server")
		_ = fs.Parse(args)

		cc, cli, err := dialHealth(*grpcAddr, *caPath, *useTLS, *skipVerify)
		if err != nil {
			fail(err)
		}
		defer cc.Close()

		st, err := checkHealth(ctx, cli, *service)
		if err != nil {
			fail(err)
		}
		fmt.Println(st.String())
		if st != healthpb.HealthCheckResponse_SERVING {
			_ = cc.Close()
			os.Exit(1)
		}

	default:
		usage()
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
