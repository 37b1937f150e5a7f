package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported next to the overall status.
const HealthService = "listdir.LD"

const healthStopTimeout = time.Second

// Health serves the standard gRPC health checking protocol so that
// supervisors can check the server without speaking LD/1.0.
type Health struct {
	grpcServer *grpc.Server
	status     *health.Server
	listener   net.Listener
	logger     *slog.Logger
	errCh      chan error
}

// StartHealth listens on addr and starts serving health checks. The initial
// status is NOT_SERVING.
func StartHealth(addr string, logger *slog.Logger) (*Health, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	h := &Health{
		grpcServer: grpc.NewServer(),
		status:     health.NewServer(),
		listener:   lis,
		logger:     logger,
		errCh:      make(chan error, 1),
	}
	healthpb.RegisterHealthServer(h.grpcServer, h.status)
	h.SetServing(false)

	go func() {
		err := h.grpcServer.Serve(lis)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			h.logger.Error("health endpoint stopped", "error", err)
		}
		h.errCh <- err
	}()

	logger.Debug("health endpoint listening", "addr", lis.Addr().String())
	return h, nil
}

// Addr returns the address the endpoint listens on.
func (h *Health) Addr() string {
	return h.listener.Addr().String()
}

// SetServing updates the reported status.
func (h *Health) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus("", st)
	h.status.SetServingStatus(HealthService, st)
}

// Stop marks every service NOT_SERVING and stops the gRPC server. Open Watch
// streams are cut after healthStopTimeout.
func (h *Health) Stop() {
	h.status.Shutdown()

	done := make(chan struct{})
	go func() {
		h.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(healthStopTimeout):
		h.grpcServer.Stop()
		<-done
	}
	<-h.errCh
}
