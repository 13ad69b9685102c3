package api

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"retail-analytics-pipeline/internal/logger"
	"retail-analytics-pipeline/internal/pipeline"
)

// ServiceName is the gRPC health service name of the pipeline.
const ServiceName = "retail.pipeline"

// HealthReporter drives the standard gRPC health service. The pipeline is SERVING
// while the warehouse answers pings and the last run did not fail.
type HealthReporter struct {
	server *health.Server
	pinger Pinger
	log    *logger.Logger

	mu            sync.Mutex
	warehouseDown bool
	lastRunFailed bool
}

// NewHealthReporter creates a HealthReporter. The status starts as NOT_SERVING until
// the first ping.
func NewHealthReporter(pinger Pinger, log *logger.Logger) *HealthReporter {
	h := &HealthReporter{
		server:        health.NewServer(),
		pinger:        pinger,
		log:           log.With("component", "grpc_health"),
		warehouseDown: true,
	}
	h.publish()
	return h
}

// Server returns the health server for registration.
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Check pings the warehouse and updates the serving status.
func (h *HealthReporter) Check(ctx context.Context) error {
	err := h.pinger.Ping(ctx)
	if err != nil {
		h.log.Warn("warehouse ping failed", "error", err)
	}
	h.mu.Lock()
	h.warehouseDown = err != nil
	h.mu.Unlock()
	h.publish()
	return err
}

// RecordRun updates the serving status from a finished run.
func (h *HealthReporter) RecordRun(sum *pipeline.Summary) {
	h.mu.Lock()
	h.lastRunFailed = sum.Outcome == pipeline.OutcomeFailed
	h.mu.Unlock()
	h.publish()
}

// Watch pings the warehouse every interval until ctx is done.
func (h *HealthReporter) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			_ = h.Check(pingCtx)
			cancel()
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

// publish holds the lock while setting the status so concurrent updates cannot
// publish out of order.
func (h *HealthReporter) publish() {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if h.warehouseDown || h.lastRunFailed {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(ServiceName, status)
	h.server.SetServingStatus("", status)
}

// NewGRPCServer builds a gRPC server exposing the health service and reflection.
func NewGRPCServer(h *HealthReporter, log *logger.Logger) *grpc.Server {
	s := grpc.NewServer()

	grpc_health_v1.RegisterHealthServer(s, h.Server())
	log.Info("gRPC health check service registered", "service", ServiceName)

	// Enable gRPC server reflection (useful for tools like grpcurl).
	reflection.Register(s)
	log.Info("gRPC reflection service registered")

	return s
}
