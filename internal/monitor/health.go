package monitor

import (
	"fmt"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CaptureService is the health service name reporting capture state.
const CaptureService = "depthcam.Capture"

// HealthServer exposes the standard gRPC health protocol. The overall
// status and CaptureService follow SetServing.
type HealthServer struct {
	mu       sync.Mutex
	health   *health.Server
	server   *grpc.Server
	listener net.Listener
}

// NewHealthServer creates a health server reporting NOT_SERVING until
// SetServing(true).
func NewHealthServer() *HealthServer {
	hs := &HealthServer{health: health.NewServer()}
	hs.SetServing(false)
	return hs
}

// SetServing updates the reported status.
func (hs *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(CaptureService, status)
}

// Register adds the health service to an existing gRPC server.
func (hs *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, hs.health)
}

// Start listens on addr and serves health checks in the background. It
// returns the bound address.
func (hs *HealthServer) Start(addr string) (net.Addr, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.server != nil {
		return nil, fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	hs.listener = lis
	hs.server = grpc.NewServer()
	hs.Register(hs.server)

	go func(s *grpc.Server) {
		log.Printf("gRPC health server listening on %s", lis.Addr())
		if err := s.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			log.Printf("gRPC health server error: %v", err)
		}
	}(hs.server)
	return lis.Addr(), nil
}

// Stop marks everything NOT_SERVING and stops the server.
func (hs *HealthServer) Stop() {
	hs.health.Shutdown()
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.server != nil {
		hs.server.GracefulStop()
		hs.server = nil
	}
}
