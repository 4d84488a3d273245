// Command server runs the resume-auth gateway: OTP login, token rotation and the request
// gate in front of the resume application, plus a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"

	"github.com/and161185/resume-auth/internal/audit"
	"github.com/and161185/resume-auth/internal/config"
	"github.com/and161185/resume-auth/internal/mail"
	"github.com/and161185/resume-auth/internal/migrate"
	"github.com/and161185/resume-auth/internal/notify"
	"github.com/and161185/resume-auth/internal/repository"
	"github.com/and161185/resume-auth/internal/repository/memory"
	"github.com/and161185/resume-auth/internal/repository/postgres"
	"github.com/and161185/resume-auth/internal/repository/redisstore"
	grpcserver "github.com/and161185/resume-auth/internal/server/grpc"
	httpserver "github.com/and161185/resume-auth/internal/server/http"
	"github.com/and161185/resume-auth/internal/service"
	"github.com/and161185/resume-auth/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.Server.HTTPAddr),
		zap.String("grpc", cfg.Server.GRPCAddr),
		zap.String("store", cfg.Store.Backend),
		zap.String("refreshStore", cfg.RefreshBackend()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type stores struct {
	identities repository.IdentityRepository
	refresh    repository.RefreshTokenRepository
	pingers    []repository.Pinger
	closers    []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	st := &stores{}

	var mem *memory.Store
	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn("in-memory identity store; state is lost on restart")
		mem = memory.New()
		st.identities = mem
		st.pingers = append(st.pingers, mem)
	default:
		if err := migrate.Up(ctx, cfg.Store.DSN, log); err != nil {
			return nil, err
		}
		db, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		st.pingers = append(st.pingers, db)
		st.identities = postgres.NewIdentityRepo(db)
		if cfg.RefreshBackend() == config.BackendPostgres {
			st.refresh = postgres.NewRefreshRepo(db)
		}
	}

	switch cfg.RefreshBackend() {
	case config.BackendMemory:
		st.refresh = mem
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		st.closers = append(st.closers, func() { _ = rdb.Close() })
		repo := redisstore.NewRefreshRepo(rdb, cfg.Redis.Prefix, cfg.Redis.Grace)
		st.refresh = repo
		st.pingers = append(st.pingers, repo)
	}
	return st, nil
}

func newMailer(cfg *config.Config, log *zap.Logger) mail.Sender {
	if cfg.Mail.BrevoAPIKey == "" {
		log.Warn("no Brevo API key; login codes are written to the log")
		return mail.NewLogSender(log)
	}
	return mail.NewBrevoSender(nil, cfg.Mail.BrevoURL, cfg.Mail.BrevoAPIKey, cfg.Mail.Sender)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	codec, err := token.New(token.Config{
		AccessSecret:  []byte(cfg.Tokens.AccessSecret),
		RefreshSecret: []byte(cfg.Tokens.RefreshSecret),
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
	})
	if err != nil {
		return err
	}

	var notifier notify.Notifier
	if cfg.Webhook.URL != "" {
		notifier = notify.NewWebhook(nil, cfg.Webhook.URL)
	}
	events := audit.NewZapSink(log)

	otpSvc := service.NewOTPService(st.identities, st.refresh, codec, newMailer(cfg, log), events, service.OTPConfig{
		TTL:    cfg.OTP.TTL,
		Digits: cfg.OTP.Digits,
	})
	rotation := service.NewRotationService(st.refresh, codec, events, notifier, log, service.RotationConfig{
		StoreTimeout:  cfg.Store.Timeout,
		NotifyTimeout: cfg.Webhook.Timeout,
	})
	// webhook deliveries still in flight finish after the listeners close
	defer rotation.Wait()
	profiles := service.NewProfileService(st.identities)

	cookies := httpserver.CookieConfig{
		Secure:     cfg.Server.CookieSecure,
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
	}
	var upstream *url.URL
	if cfg.Server.Upstream != "" {
		// validated by config
		upstream, _ = url.Parse(cfg.Server.Upstream)
	}
	handler := httpserver.NewRouter(httpserver.Deps{
		Auth:     httpserver.NewAuthHandler(otpSvc, rotation, cookies, log),
		Profile:  httpserver.NewProfileHandler(profiles, log),
		Gate:     httpserver.NewGate(codec, rotation, cookies, httpserver.DefaultRoutes(), log),
		Upstream: upstream,
		Log:      log,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hs := health.NewServer()
	monitor := grpcserver.NewHealthMonitor(hs, 10*time.Second, log, st.pingers...)
	grpcSrv := grpcserver.NewServer(log, hs, cfg.Dev)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go monitor.Run(monCtx)

	errCh := make(chan error, 2)
	go func() {
		log.Info("listening (http)", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("listening (grpc)", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	return runErr
}
