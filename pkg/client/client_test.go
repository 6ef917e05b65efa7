package client

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cuemby/rover/pkg/api"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/supervisor"
	"github.com/cuemby/rover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type stubSupervisor struct {
	health map[string]types.ModuleHealth
	forced []types.RecoveryStrategy
}

func (s *stubSupervisor) Snapshot() map[string]types.ModuleHealth { return s.health }

func (s *stubSupervisor) Health(name string) (types.ModuleHealth, bool) {
	h, ok := s.health[name]
	return h, ok
}

func (s *stubSupervisor) ForceRecovery(name string, strategy types.RecoveryStrategy) (types.FailureEvent, error) {
	if _, ok := s.health[name]; !ok {
		return types.FailureEvent{}, fmt.Errorf("failed to recover %s: %w", name, supervisor.ErrModuleNotFound)
	}
	s.forced = append(s.forced, strategy)
	return types.FailureEvent{ModuleName: name, RecoveryStrategy: strategy, RecoveryAttempted: true}, nil
}

func (s *stubSupervisor) FailureHistory() []types.FailureEvent {
	return []types.FailureEvent{{ID: "f1", ModuleName: "plan", FailureType: types.FailureFrozenThread}}
}

func (s *stubSupervisor) Report() types.SystemHealthReport {
	return types.SystemHealthReport{OverallHealthScore: 90, Modules: s.health, TotalFailures: 1}
}

type harness struct {
	client *Client
	sup    *stubSupervisor
	bus    *statebus.Bus
	health *api.HealthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sup := &stubSupervisor{health: map[string]types.ModuleHealth{
		"sense": {ModuleName: "sense", Status: types.ModuleStatusHealthy, IsHealthy: true, HealthScore: 100},
		"plan":  {ModuleName: "plan", Status: types.ModuleStatusFrozen, HealthScore: 70},
	}}
	bus := statebus.New()

	ts := httptest.NewServer(api.NewServer(sup, bus).Handler())
	t.Cleanup(ts.Close)

	hs := api.NewHealthService(bus)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = hs.Serve(lis) }()
	t.Cleanup(hs.Stop)

	c, err := NewClient(strings.TrimPrefix(ts.URL, "http://"), "passthrough:///bufnet",
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return &harness{client: c, sup: sup, bus: bus, health: hs}
}

func TestModulesAndReport(t *testing.T) {
	h := newHarness(t)

	views, err := h.client.Modules()
	require.NoError(t, err)
	require.Contains(t, views, "plan")
	assert.Equal(t, types.ModuleStatusFrozen, views["plan"].Health.Status)

	view, err := h.client.Module("sense")
	require.NoError(t, err)
	assert.Equal(t, 100.0, view.Health.HealthScore)

	_, err = h.client.Module("ghost")
	assert.True(t, IsNotFound(err))

	report, err := h.client.Report()
	require.NoError(t, err)
	assert.Equal(t, 90.0, report.OverallHealthScore)
	assert.EqualValues(t, 1, report.TotalFailures)

	failures, err := h.client.Failures()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "plan", failures[0].ModuleName)
}

func TestRecover(t *testing.T) {
	h := newHarness(t)

	event, err := h.client.Recover("plan", types.RecoveryReset)
	require.NoError(t, err)
	assert.Equal(t, types.RecoveryReset, event.RecoveryStrategy)
	assert.Equal(t, []types.RecoveryStrategy{types.RecoveryReset}, h.sup.forced)

	_, err = h.client.Recover("ghost", types.RecoveryRestart)
	assert.True(t, IsNotFound(err))

	_, err = h.client.Recover("plan", types.RecoveryStrategy("reboot"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "reboot")
}

func TestEmergencyStopRoundTrip(t *testing.T) {
	h := newHarness(t)

	es, err := h.client.TriggerEmergencyStop("bench test")
	require.NoError(t, err)
	assert.True(t, es.Active)
	assert.Equal(t, "bench test", es.Reason)

	_, active := h.bus.EmergencyStop()
	assert.True(t, active)

	status, err := h.client.Check("")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	es, err = h.client.ClearEmergencyStop()
	require.NoError(t, err)
	assert.False(t, es.Active)

	status, err = h.client.Check("")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}

func TestCheckModule(t *testing.T) {
	h := newHarness(t)
	h.health.SetModuleHealth(types.ModuleHealth{ModuleName: "act", Status: types.ModuleStatusHealthy})

	status, err := h.client.Check("act")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}

func TestCheckWithoutGRPC(t *testing.T) {
	c, err := NewClient("127.0.0.1:1", "")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Check("act")
	assert.ErrorIs(t, err, ErrNoGRPC)
}
