package recovery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/rover/pkg/events"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	mu       sync.Mutex
	name     string
	running  bool
	enabled  bool
	startErr error
	stopErr  error
	rate     float64
	calls    []string
}

func newFakeModule(name string) *fakeModule {
	return &fakeModule{name: name, running: true, enabled: true, rate: 10}
}

func (f *fakeModule) call(c string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Start() error {
	f.call("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeModule) Stop() error {
	f.call("stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeModule) Reset() error { f.call("reset"); return nil }

func (f *fakeModule) Degrade() float64 {
	f.call("degrade")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rate /= 2; f.rate < 1 {
		f.rate = 1
	}
	return f.rate
}

func (f *fakeModule) SetEnabled(e bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = e
}

func (f *fakeModule) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeModule) IsHealthy() bool { return f.Running() }

func (f *fakeModule) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeModule) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	cfg.RestartPause = time.Millisecond
	cfg.RestartVerify = time.Millisecond
	return cfg
}

func TestDecisionTable(t *testing.T) {
	tests := []struct {
		name     string
		failures []types.FailureType
		want     types.RecoveryStrategy
	}{
		{"critical wins", []types.FailureType{types.FailureHighErrorRate, types.FailureCriticalError}, types.RecoveryEmergencyStop},
		{"frozen thread", []types.FailureType{types.FailureHeartbeatTimeout, types.FailureFrozenThread}, types.RecoveryRestart},
		{"first heartbeat timeout", []types.FailureType{types.FailureHeartbeatTimeout}, types.RecoveryReset},
		{"high error rate", []types.FailureType{types.FailureHighErrorRate}, types.RecoveryReset},
		{"memory leak", []types.FailureType{types.FailureMemoryLeak}, types.RecoveryRestart},
		{"cpu overload", []types.FailureType{types.FailureCPUOverload}, types.RecoveryDegrade},
		{"slow cycles", []types.FailureType{types.FailurePerformanceDegradation}, types.RecoveryDegrade},
		{"queue overflow", []types.FailureType{types.FailureQueueOverflow}, types.RecoveryReset},
		{"nothing", nil, types.RecoveryNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(testConfig(), statebus.New())
			assert.Equal(t, tt.want, h.Decide("m", tt.failures, time.Now()))
		})
	}
}

func TestHeartbeatTimeoutEscalatesToRestart(t *testing.T) {
	h := NewHandler(testConfig(), statebus.New())
	mod := newFakeModule("sense")
	failures := []types.FailureType{types.FailureHeartbeatTimeout}

	ev, ok := h.Handle(mod, failures)
	require.True(t, ok)
	assert.Equal(t, types.RecoveryReset, ev.RecoveryStrategy)

	assert.Equal(t, types.RecoveryRestart, h.Decide("sense", failures, time.Now()))
}

func TestCooldownSuppressesRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	h := NewHandler(cfg, statebus.New())
	mod := newFakeModule("plan")

	_, ok := h.Handle(mod, []types.FailureType{types.FailureHighErrorRate})
	require.True(t, ok)

	_, ok = h.Handle(mod, []types.FailureType{types.FailureHighErrorRate})
	assert.False(t, ok)
	assert.Equal(t, types.RecoveryNone, h.Decide("plan", []types.FailureType{types.FailureQueueOverflow}, time.Now()))
	assert.Equal(t, types.RecoveryEmergencyStop, h.Decide("plan", []types.FailureType{types.FailureHighErrorRate, types.FailureCriticalError}, time.Now()),
		"critical errors are not held back by the cooldown")
	assert.Equal(t, types.RecoveryReset, h.Decide("plan", []types.FailureType{types.FailureHighErrorRate}, time.Now().Add(2*time.Hour)))
}

func TestFailedRestartsEscalateToIsolate(t *testing.T) {
	h := NewHandler(testConfig(), statebus.New())
	mod := newFakeModule("act")
	mod.startErr = errors.New("actuator busy")
	failures := []types.FailureType{types.FailureHeartbeatTimeout, types.FailureFrozenThread}

	for i := 1; i <= 3; i++ {
		ev, ok := h.Handle(mod, failures)
		require.True(t, ok)
		assert.Equal(t, types.RecoveryRestart, ev.RecoveryStrategy)
		assert.False(t, ev.RecoverySuccessful)
		assert.Equal(t, i, ev.Attempt)
		assert.Contains(t, ev.Description, "actuator busy")
	}

	ev, ok := h.Handle(mod, failures)
	require.True(t, ok)
	assert.Equal(t, types.RecoveryIsolate, ev.RecoveryStrategy)
	assert.True(t, ev.RecoverySuccessful)
	assert.False(t, mod.Enabled())
	assert.False(t, mod.Running())

	failuresTotal, recoveries := h.Totals()
	assert.Equal(t, uint64(4), failuresTotal)
	assert.Equal(t, uint64(1), recoveries)
}

func TestResetAttempts(t *testing.T) {
	h := NewHandler(testConfig(), statebus.New())
	mod := newFakeModule("out")

	for i := 0; i < 3; i++ {
		h.Handle(mod, []types.FailureType{types.FailureQueueOverflow})
	}
	n, last := h.Attempts("out")
	assert.Equal(t, 3, n)
	assert.False(t, last.IsZero())
	assert.Equal(t, types.RecoveryIsolate, h.Decide("out", []types.FailureType{types.FailureQueueOverflow}, time.Now()))

	h.ResetAttempts("out")
	n, _ = h.Attempts("out")
	assert.Zero(t, n)
	assert.Equal(t, types.RecoveryReset, h.Decide("out", []types.FailureType{types.FailureQueueOverflow}, time.Now()))

	h.Forget("out")
	n, last = h.Attempts("out")
	assert.Zero(t, n)
	assert.True(t, last.IsZero())
}

func TestResetClearsBufferNamespace(t *testing.T) {
	bus := statebus.New()
	h := NewHandler(testConfig(), bus)
	mod := newFakeModule("plan")
	bus.Update(types.BufferNamespace("plan"), "waypoints", []float64{1, 2})

	ev := h.Execute(mod, types.RecoveryReset, []types.FailureType{types.FailureHighErrorRate})

	assert.True(t, ev.RecoverySuccessful)
	assert.Equal(t, []string{"reset"}, mod.Calls())
	assert.Zero(t, bus.Len(types.BufferNamespace("plan")))
}

func TestRestartStopTimeoutIsFailure(t *testing.T) {
	h := NewHandler(testConfig(), statebus.New())
	mod := newFakeModule("robot")
	mod.stopErr = errors.New("run loop did not exit within stop timeout")

	ev := h.Execute(mod, types.RecoveryRestart, []types.FailureType{types.FailureFrozenThread})

	assert.False(t, ev.RecoverySuccessful)
	assert.Equal(t, []string{"stop"}, mod.Calls(), "no start after a failed stop")
}

func TestDegrade(t *testing.T) {
	h := NewHandler(testConfig(), statebus.New())
	mod := newFakeModule("sense")

	ev := h.Execute(mod, types.RecoveryDegrade, []types.FailureType{types.FailureCPUOverload})

	assert.True(t, ev.RecoverySuccessful)
	assert.Equal(t, 5.0, mod.rate)
}

func TestEmergencyStopWritesAlert(t *testing.T) {
	bus := statebus.New()
	h := NewHandler(testConfig(), bus)
	mod := newFakeModule("robot")
	defer bus.ClearEmergencyStop("test")

	ev, ok := h.Handle(mod, []types.FailureType{types.FailureCriticalError})
	require.True(t, ok)
	assert.Equal(t, types.RecoveryEmergencyStop, ev.RecoveryStrategy)
	assert.Equal(t, types.FailureCriticalError, ev.FailureType)

	es, active := bus.EmergencyStop()
	require.True(t, active)
	assert.Equal(t, "robot", es.TriggeredBy)
	assert.False(t, es.Timestamp.IsZero())
	assert.False(t, mod.Running())
}

func TestHistoryListenersAndEvents(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 2
	h := NewHandler(cfg, statebus.New())
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	h.SetBroker(broker)

	var heard []types.FailureEvent
	h.AddListener(func(e types.FailureEvent) { heard = append(heard, e) })

	mod := newFakeModule("in")
	for i := 0; i < 3; i++ {
		h.Execute(mod, types.RecoveryDegrade, []types.FailureType{types.FailurePerformanceDegradation})
	}

	hist := h.History()
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].Attempt)
	assert.Equal(t, 3, hist[1].Attempt)
	assert.NotEqual(t, hist[0].ID, hist[1].ID)
	assert.Len(t, heard, 3)

	select {
	case e := <-sub:
		assert.Equal(t, events.EventRecoverySucceeded, e.Type)
		assert.Equal(t, "in", e.Module)
	case <-time.After(time.Second):
		t.Fatal("no recovery event published")
	}
}

func TestUnknownStrategy(t *testing.T) {
	h := NewHandler(testConfig(), statebus.New())
	ev := h.Execute(newFakeModule("x"), types.RecoveryStrategy("reboot"), nil)

	assert.False(t, ev.RecoverySuccessful)
	assert.Contains(t, ev.Description, "unknown recovery strategy")
}
