package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const serviceName = "postwise-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth answers grpc.health.v1.Health with the same readiness check as
// /readyz. The empty service name and serviceName are both answered.
type GRPCHealth struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
}

func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	return &GRPCHealth{readiness: r}
}

// Check reports NOT_SERVING while a backing service is unreachable.
func (s *GRPCHealth) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.readiness.Check(ctx); err != nil {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer returns a server with the health service registered.
func NewGRPCServer(r readinessChecker, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(srv, NewGRPCHealth(r))
	return srv
}
