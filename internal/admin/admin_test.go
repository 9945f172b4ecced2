package admin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", zap.NewNop())
	require.NoError(t, srv.Listen())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("admin server did not stop")
		}
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	st, err := statusOf(client, service)
	require.NoError(t, err)
	return st
}

func statusOf(client healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func isStatus(client healthpb.HealthClient, service string, want healthpb.HealthCheckResponse_ServingStatus) func() bool {
	return func() bool {
		st, err := statusOf(client, service)
		return err == nil && st == want
	}
}

func TestServingFollowsSetServing(t *testing.T) {
	srv, client := startServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	srv.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	srv.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
}

func TestWatchPublishesProbeResult(t *testing.T) {
	srv, client := startServer(t)

	var healthy atomic.Bool
	healthy.Store(true)
	srv.Watch(AuditService, 20*time.Millisecond, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	require.Eventually(t, isStatus(client, AuditService, healthpb.HealthCheckResponse_SERVING),
		2*time.Second, 10*time.Millisecond)

	healthy.Store(false)
	require.Eventually(t, isStatus(client, AuditService, healthpb.HealthCheckResponse_NOT_SERVING),
		2*time.Second, 10*time.Millisecond)
}

func TestListenError(t *testing.T) {
	srv := NewServer("127.0.0.1:-1", zap.NewNop())
	err := srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
	srv.Stop()
	srv.Stop()
}

func TestStopBeforeStart(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zap.NewNop())
	srv.Stop()
	assert.Equal(t, "127.0.0.1:0", srv.Addr())
}
