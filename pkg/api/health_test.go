package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthService(t *testing.T, bus *statebus.Bus) (*HealthService, healthpb.HealthClient) {
	t.Helper()
	hs := NewHealthService(bus)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = hs.Serve(lis) }()
	t.Cleanup(hs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return hs, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServiceFollowsModuleStatus(t *testing.T) {
	hs, client := startHealthService(t, nil)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	hs.SetModuleHealth(types.ModuleHealth{ModuleName: "sense", Status: types.ModuleStatusHealthy})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, "sense"))

	hs.SetModuleHealth(types.ModuleHealth{ModuleName: "sense", Status: types.ModuleStatusDegraded})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "sense"))

	hs.RemoveModule("sense")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, check(t, client, "sense"))
}

func TestHealthServiceFollowsEmergencyStop(t *testing.T) {
	bus := statebus.New()
	_, client := startHealthService(t, bus)
	t.Cleanup(func() { bus.ClearEmergencyStop("test") })

	bus.TriggerEmergencyStop("test", "operator")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))

	bus.ClearEmergencyStop("test")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
}
