package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"scriptoria.org/internal/obs"
)

// NewGRPCServer exposes the standard gRPC health service so orchestration
// probes can share the HTTP readiness check. The health status is refreshed
// in the background until ctx ends.
func NewGRPCServer(ctx context.Context, probe ReadyProbe) *grpc.Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			status := healthpb.HealthCheckResponse_SERVING
			if err := probe.Check(ctx); err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				obs.SetReady(false)
			} else {
				obs.SetReady(true)
			}
			hs.SetServingStatus("", status)
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
			}
		}
	}()

	return srv
}
