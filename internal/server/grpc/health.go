// Package grpcserver runs the operational gRPC endpoint: standard health checking whose
// status follows the reachability of the credential stores.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/resume-auth/internal/repository"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "resume.auth.v1.Auth"

// HealthMonitor polls the stores and mirrors the result into a health server.
type HealthMonitor struct {
	hs       *health.Server
	pingers  []repository.Pinger
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewHealthMonitor constructs a monitor. Status starts as NOT_SERVING until the first check.
func NewHealthMonitor(hs *health.Server, interval time.Duration, log *zap.Logger, pingers ...repository.Pinger) *HealthMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &HealthMonitor{hs: hs, pingers: pingers, interval: interval, timeout: interval / 2, log: log}
	m.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

func (m *HealthMonitor) set(st healthpb.HealthCheckResponse_ServingStatus) {
	m.hs.SetServingStatus("", st)
	m.hs.SetServingStatus(ServiceName, st)
}

func (m *HealthMonitor) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var errList []error
	for _, p := range m.pingers {
		if err := p.Ping(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	err := errors.Join(errList...)
	if err != nil {
		m.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	m.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run checks immediately and then every interval until ctx ends. On exit every service is
// marked NOT_SERVING.
func (m *HealthMonitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	defer m.hs.Shutdown()

	healthy := true
	for {
		err := m.check(ctx)
		switch {
		case err != nil && healthy:
			m.log.Warn("store unhealthy", zap.Error(err))
		case err == nil && !healthy:
			m.log.Info("store healthy again")
		}
		healthy = err == nil

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// NewServer builds the ops gRPC server with health checking and, in dev, reflection.
func NewServer(log *zap.Logger, hs *health.Server, dev bool, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	return s
}
