package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewServer builds a gRPC server exposing the standard health service.
// Every service starts out SERVING.
func NewServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s, hs
}

// MonitorDatabase flips the overall health status with the result of a
// database ping, every interval, until ctx is done.
func MonitorDatabase(ctx context.Context, hs *health.Server, db Pinger, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	serving := true
	for {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := db.PingContext(pingCtx)
		cancel()
		switch {
		case err != nil && serving:
			logger.Error("Database unreachable, reporting NOT_SERVING", zap.Error(err))
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			logger.Info("Database reachable again, reporting SERVING")
			hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			serving = true
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartGRPCServer initializes and starts the gRPC server
func StartGRPCServer(port string, s *grpc.Server, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Info("gRPC server listening", zap.String("port", port))
	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}
