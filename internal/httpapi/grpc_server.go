package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"pricetrail.io/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth serves grpc.health.v1 for load balancers, mirroring /readyz.
type GRPCHealth struct {
	server    *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewGRPCHealth creates the health service; both the overall ("") and the
// named service start NOT_SERVING until the first Refresh.
func NewGRPCHealth(r readinessChecker, logger *zap.Logger) *GRPCHealth {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GRPCHealth{
		server:    health.NewServer(),
		readiness: r,
		logger:    logger.Named("grpc"),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *GRPCHealth) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Refresh runs the readiness check once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("not ready", zap.Error(err))
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx ends, then marks the service down.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			h.Refresh(checkCtx)
			cancel()
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}
