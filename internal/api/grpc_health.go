package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the engine.
const ServiceName = "chatpay.Engine"

// GRPCHealth serves grpc.health.v1 and tracks database reachability.
type GRPCHealth struct {
	grpcServer *grpc.Server
	health     *health.Server
	db         Pinger
	interval   time.Duration
}

// NewGRPCHealth creates a health server that re-checks db every interval.
func NewGRPCHealth(db Pinger, interval time.Duration) *GRPCHealth {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealth{
		grpcServer: grpcServer,
		health:     healthServer,
		db:         db,
		interval:   interval,
	}
}

// Check pings the database once and publishes the resulting status.
func (g *GRPCHealth) Check(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := g.db.Ping(checkCtx); err != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		slog.Warn("gRPC health: database unreachable", "error", err)
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve answers health checks on listener until ctx is cancelled.
func (g *GRPCHealth) Serve(ctx context.Context, listener net.Listener) error {
	g.Check(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- g.grpcServer.Serve(listener)
	}()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	slog.Info("gRPC health server listening", "addr", listener.Addr().String())
	for {
		select {
		case <-ticker.C:
			g.Check(ctx)
		case <-ctx.Done():
			g.health.Shutdown()
			g.grpcServer.GracefulStop()
			err := <-serveErr
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC health: %w", err)
		case err := <-serveErr:
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC health: %w", err)
		}
	}
}
