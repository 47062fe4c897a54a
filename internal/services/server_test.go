package services

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/miradorstack/faultsim/internal/api"
	"github.com/miradorstack/faultsim/internal/config"
	"github.com/miradorstack/faultsim/internal/faults"
)

func startBufServer(t *testing.T, service api.FaultSimServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := api.NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, service)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerRoundTrip(t *testing.T) {
	f := newFixture(t)
	conn := startBufServer(t, f.service)
	client := api.NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, api.MethodInjectFaults, map[string]any{
		"runId":       "run-1",
		"robotId":     "robot-a",
		"templateIds": []any{faults.BuiltinHighVibrationMedium},
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	injections, ok := resp["injections"].([]any)
	if !ok || len(injections) != 1 {
		t.Fatalf("unexpected response %v", resp)
	}

	if _, err := client.Call(ctx, api.MethodSetTelemetryMode, map[string]any{"robotId": "robot-a", "mode": "mock"}); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	_, err = client.Call(ctx, api.MethodGetTemplate, map[string]any{"id": "nope"})
	expectCode(t, err, codes.NotFound)

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health status %v", health.GetStatus())
	}
}
