package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/events"
	"github.com/cuemby/rover/pkg/health"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/recovery"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

var (
	ErrModuleNotFound    = errors.New("module not found")
	ErrAlreadyRegistered = errors.New("module already registered")
)

var allStatuses = []string{
	string(types.ModuleStatusUnknown),
	string(types.ModuleStatusHealthy),
	string(types.ModuleStatusDegraded),
	string(types.ModuleStatusFrozen),
	string(types.ModuleStatusDead),
}

// HealthSink receives every module evaluation, e.g. the gRPC health service
type HealthSink interface {
	SetModuleHealth(h types.ModuleHealth)
	RemoveModule(name string)
}

// Config holds supervisor settings
type Config struct {
	// CheckInterval is the period of the health check cycle
	CheckInterval time.Duration
	AutoRecovery  bool
	// ReportFailures is the number of recent failures kept in the health report
	ReportFailures int
	Health         health.Config
	Recovery       recovery.Config
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		CheckInterval:  time.Second,
		AutoRecovery:   true,
		ReportFailures: 10,
		Health:         health.DefaultConfig(),
		Recovery:       recovery.DefaultConfig(),
	}
}

// Supervisor watches registered modules through their heartbeats and
// drives recovery. It is itself a module.Task, run by its own runtime.
type Supervisor struct {
	cfg     Config
	bus     *statebus.Bus
	monitor *health.Monitor
	handler *recovery.Handler
	logger  zerolog.Logger

	mu        sync.RWMutex
	modules   map[string]recovery.Module
	health    map[string]types.ModuleHealth
	pending   map[string]time.Time
	sinks     []HealthSink
	broker    *events.Broker
	startTime time.Time
}

// New creates a supervisor
func New(cfg Config, bus *statebus.Bus) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.ReportFailures <= 0 {
		cfg.ReportFailures = DefaultConfig().ReportFailures
	}
	return &Supervisor{
		cfg:       cfg,
		bus:       bus,
		monitor:   health.NewMonitor(cfg.Health),
		handler:   recovery.NewHandler(cfg.Recovery, bus),
		logger:    log.WithComponent("supervisor"),
		modules:   make(map[string]recovery.Module),
		health:    make(map[string]types.ModuleHealth),
		pending:   make(map[string]time.Time),
		startTime: time.Now(),
	}
}

// Handler returns the failure handler, e.g. to attach listeners
func (s *Supervisor) Handler() *recovery.Handler {
	return s.handler
}

// SetBroker attaches an event broker to the supervisor and its handler
func (s *Supervisor) SetBroker(b *events.Broker) {
	s.mu.Lock()
	s.broker = b
	s.mu.Unlock()
	s.handler.SetBroker(b)
}

// AddSink registers a receiver for module evaluations
func (s *Supervisor) AddSink(sink HealthSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Register places a module under supervision
func (s *Supervisor) Register(name string, mod recovery.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[name]; ok {
		return fmt.Errorf("failed to register %s: %w", name, ErrAlreadyRegistered)
	}
	s.modules[name] = mod
	s.logger.Info().Str("module", name).Msg("Module registered")
	return nil
}

// Unregister removes a module from supervision
func (s *Supervisor) Unregister(name string) error {
	s.mu.Lock()
	if _, ok := s.modules[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("failed to unregister %s: %w", name, ErrModuleNotFound)
	}
	delete(s.modules, name)
	delete(s.health, name)
	delete(s.pending, name)
	sinks := append([]HealthSink(nil), s.sinks...)
	s.mu.Unlock()

	s.monitor.Forget(name)
	s.handler.Forget(name)
	metrics.RemoveComponent(name)
	for _, sink := range sinks {
		sink.RemoveModule(name)
	}

	s.logger.Info().Str("module", name).Msg("Module unregistered")
	return nil
}

// Modules returns the sorted names of supervised modules
func (s *Supervisor) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Init implements module.Task
func (s *Supervisor) Init(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.CheckInterval).
		Bool("auto_recovery", s.cfg.AutoRecovery).
		Msg("Supervisor initialized")
	return nil
}

// Run implements module.Task with one health check cycle
func (s *Supervisor) Run(ctx context.Context) error {
	s.Check(time.Now())
	return nil
}

// Check evaluates every module at now, recovers failing ones and publishes
// the health report
func (s *Supervisor) Check(now time.Time) types.SystemHealthReport {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SupervisorCycleDuration)

	for _, name := range s.Modules() {
		s.mu.RLock()
		mod, ok := s.modules[name]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		s.checkModule(name, mod, now)
	}

	report := s.Report()
	s.bus.Update(types.NamespaceSystemStatus, types.KeyHealthReport, report)
	s.bus.Update(types.NamespaceSystemStatus, types.KeyFailureHistory, report.RecentFailures)
	metrics.SystemHealthScore.Set(report.OverallHealthScore)
	return report
}

func (s *Supervisor) checkModule(name string, mod recovery.Module, now time.Time) {
	obs := s.observe(name)
	h := s.monitor.Check(name, obs, now)
	h.Enabled = mod.Enabled()
	h.IsHealthy = h.IsHealthy && mod.IsHealthy()

	s.verifyRecovery(name, mod, h)
	s.publishHealth(h)

	if len(h.Failures) == 0 {
		return
	}

	for _, f := range h.Failures {
		metrics.FailuresDetectedTotal.WithLabelValues(name, string(f)).Inc()
	}
	s.logger.Warn().
		Str("module", name).
		Str("status", string(h.Status)).
		Float64("score", h.HealthScore).
		Interface("failures", h.Failures).
		Msg("Module failure detected")
	s.publish(events.EventFailureDetected, name, fmt.Sprintf("%v", h.Failures))

	critical := obs.CriticalError != nil && hasFailure(h.Failures, types.FailureCriticalError)
	if !s.cfg.AutoRecovery || !h.Enabled {
		if critical {
			s.monitor.AcknowledgeCritical(name, obs.CriticalError.Timestamp)
		}
		return
	}

	event, attempted := s.handler.Handle(mod, h.Failures)
	if !attempted {
		return
	}
	if critical {
		s.monitor.AcknowledgeCritical(name, obs.CriticalError.Timestamp)
	}
	s.markPending(name)
	s.alert(event)
}

func hasFailure(failures []types.FailureType, want types.FailureType) bool {
	for _, f := range failures {
		if f == want {
			return true
		}
	}
	return false
}

func (s *Supervisor) observe(name string) health.Observation {
	var obs health.Observation
	obs.Heartbeat, obs.HasHeartbeat = s.bus.Heartbeat(name)
	if rec, ok := statebus.GetAs[types.ErrorRecord](s.bus, types.NamespaceSystemStatus, types.CriticalErrorKey(name)); ok {
		obs.CriticalError = &rec
	}
	return obs
}

// verifyRecovery zeroes the attempt counter once a heartbeat written after
// the last recovery shows the module healthy
func (s *Supervisor) verifyRecovery(name string, mod recovery.Module, h types.ModuleHealth) {
	s.mu.Lock()
	since, ok := s.pending[name]
	if !ok || !h.LastHeartbeat.After(since) || h.Status != types.ModuleStatusHealthy || !mod.IsHealthy() {
		s.mu.Unlock()
		return
	}
	delete(s.pending, name)
	s.mu.Unlock()

	s.handler.ResetAttempts(name)
	s.logger.Info().Str("module", name).Msg("Module recovery verified")
	s.publish(events.EventModuleRecovered, name, "heartbeat healthy after recovery")
}

func (s *Supervisor) markPending(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name] = time.Now()
}

func (s *Supervisor) publishHealth(h types.ModuleHealth) {
	s.mu.Lock()
	s.health[h.ModuleName] = h
	sinks := append([]HealthSink(nil), s.sinks...)
	s.mu.Unlock()

	s.bus.Update(types.NamespaceHealthStatus, h.ModuleName, h)

	metrics.ModuleHealthScore.WithLabelValues(h.ModuleName).Set(h.HealthScore)
	metrics.ModuleHeartbeatAge.WithLabelValues(h.ModuleName).Set(h.HeartbeatAge.Seconds())
	metrics.SetModuleStatus(h.ModuleName, string(h.Status), allStatuses)

	switch {
	case !h.Enabled:
		metrics.UpdateComponent(h.ModuleName, false, false, "isolated")
	case h.Status == types.ModuleStatusUnknown:
		metrics.UpdateComponent(h.ModuleName, false, false, "no heartbeat")
	default:
		msg := fmt.Sprintf("%s, score %.0f", h.Status, h.HealthScore)
		metrics.UpdateComponent(h.ModuleName, h.Status == types.ModuleStatusHealthy, h.Status == types.ModuleStatusDegraded, msg)
	}

	for _, sink := range sinks {
		sink.SetModuleHealth(h)
	}
}

func (s *Supervisor) alert(event types.FailureEvent) {
	e := s.logger.Warn()
	if !event.RecoverySuccessful {
		e = s.logger.Error()
	}
	e.Str("module", event.ModuleName).
		Str("failure", string(event.FailureType)).
		Str("strategy", string(event.RecoveryStrategy)).
		Bool("successful", event.RecoverySuccessful).
		Int("attempt", event.Attempt).
		Msg("RECOVERY ALERT")
}

func (s *Supervisor) publish(t events.EventType, module, msg string) {
	s.mu.RLock()
	b := s.broker
	s.mu.RUnlock()
	if b != nil {
		b.Publish(events.NewEvent(t, module, msg))
	}
}

// ForceRecovery runs a strategy against a module immediately, bypassing
// the decision table and cooldown
func (s *Supervisor) ForceRecovery(name string, strategy types.RecoveryStrategy) (types.FailureEvent, error) {
	s.mu.RLock()
	mod, ok := s.modules[name]
	s.mu.RUnlock()
	if !ok {
		return types.FailureEvent{}, fmt.Errorf("failed to recover %s: %w", name, ErrModuleNotFound)
	}
	if strategy == types.RecoveryNone {
		return types.FailureEvent{}, nil
	}

	s.logger.Warn().Str("module", name).Str("strategy", string(strategy)).Msg("Forced recovery requested")
	event := s.handler.Execute(mod, strategy, nil)
	s.markPending(name)
	s.alert(event)
	return event, nil
}

// Health returns the latest evaluation of a module
func (s *Supervisor) Health(name string) (types.ModuleHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.health[name]
	return h, ok
}

// Snapshot returns the latest evaluation of every module
func (s *Supervisor) Snapshot() map[string]types.ModuleHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.ModuleHealth, len(s.health))
	for k, v := range s.health {
		out[k] = v
	}
	return out
}

// SystemHealthScore returns the mean score of all evaluated modules, or
// 100 when nothing has been evaluated yet
func (s *Supervisor) SystemHealthScore() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return meanScore(s.health)
}

func meanScore(hs map[string]types.ModuleHealth) float64 {
	if len(hs) == 0 {
		return 100
	}
	var total float64
	for _, h := range hs {
		total += h.HealthScore
	}
	return total / float64(len(hs))
}

// FailureHistory returns the recorded failure events, oldest first
func (s *Supervisor) FailureHistory() []types.FailureEvent {
	return s.handler.History()
}

// Report builds the aggregated health report
func (s *Supervisor) Report() types.SystemHealthReport {
	history := s.handler.History()
	if over := len(history) - s.cfg.ReportFailures; over > 0 {
		history = history[over:]
	}
	failures, recoveries := s.handler.Totals()

	_, estop := s.bus.EmergencyStop()
	alert, _ := statebus.GetAs[types.SafetyAlert](s.bus, types.NamespaceSystemStatus, types.KeySafetyAlert)

	modules := s.Snapshot()
	return types.SystemHealthReport{
		Timestamp:          time.Now(),
		OverallHealthScore: meanScore(modules),
		Modules:            modules,
		RecentFailures:     history,
		Uptime:             time.Since(s.startTime),
		TotalFailures:      failures,
		TotalRecoveries:    recoveries,
		EmergencyStop:      estop,
		SafetyAlert:        alert.Active,
	}
}
