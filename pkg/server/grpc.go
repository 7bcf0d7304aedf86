package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// HealthServiceName is reported by the gRPC health service next to "".
const HealthServiceName = "transgate.Translation"

// GRPCServer serves grpc.health.v1 so orchestrators can probe the process.
type GRPCServer struct {
	server          *grpc.Server
	health          *health.Server
	logger          *logrus.Logger
	shutdownTimeout time.Duration
}

// NewGRPCServer creates a gRPC server with health and reflection registered.
func NewGRPCServer(logger *logrus.Logger, shutdownTimeout time.Duration) *GRPCServer {
	if logger == nil {
		logger = logrus.New()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdown
	}

	opts := []grpc.ServerOption{
		grpc.Creds(insecure.NewCredentials()),
		// Clients ping every 30s; allow pings down to 15s apart.
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               10 * time.Second,
		}),
	}

	s := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(s)

	return &GRPCServer{
		server:          s,
		health:          healthServer,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve accepts connections on lis until ctx is cancelled.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		g.Shutdown()
	}()

	g.logger.WithFields(logrus.Fields{
		"addr": lis.Addr().String(),
	}).Info("gRPC health server listening")

	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}
	return nil
}

// Shutdown reports NOT_SERVING and stops the server, forcing it after the
// shutdown timeout.
func (g *GRPCServer) Shutdown() {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(g.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-stopped:
		g.logger.Info("gRPC server stopped gracefully")
	case <-timer.C:
		g.logger.Warn("Graceful shutdown timeout, forcing stop...")
		g.server.Stop()
	}
}
