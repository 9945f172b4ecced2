// Package admin exposes the gRPC health service and server reflection for
// operators and orchestrators.
package admin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// AuditService is the health service name reporting audit store reachability.
const AuditService = "parley.audit"

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// Server is the admin gRPC endpoint. The overall health status starts
// NOT_SERVING and follows SetServing.
type Server struct {
	addr   string
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
}

// NewServer creates an admin server bound to addr once Start is called.
//
// Precondition: logger must be non-nil.
func NewServer(addr string, logger *zap.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		quit:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Listen binds the TCP listener. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = lis
	return nil
}

// Start serves gRPC until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Info("admin server listening", zap.String("addr", s.Addr()))
	if err := s.grpc.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serving admin gRPC: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the gRPC server gracefully.
// Safe to call multiple times.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// SetServing sets the overall health status.
func (s *Server) SetServing(serving bool) {
	s.health.SetServingStatus("", status(serving))
}

// Watch runs probe every interval and publishes the result under service
// until Stop is called. The first probe runs immediately.
func (s *Server) Watch(service string, interval time.Duration, probe Probe) {
	check := func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		err := probe(ctx)
		if err != nil {
			s.logger.Warn("health probe failed", zap.String("service", service), zap.Error(err))
		}
		s.health.SetServingStatus(service, status(err == nil))
	}

	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

func status(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
