package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/events"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownStrategy = errors.New("unknown recovery strategy")
	ErrNotRunning      = errors.New("module not running after restart")
)

// Module is the lifecycle surface recovery acts on
type Module interface {
	Name() string
	Start() error
	Stop() error
	Reset() error
	Degrade() float64
	SetEnabled(enabled bool)
	Enabled() bool
	IsHealthy() bool
	Running() bool
}

// Listener is notified of every recorded failure event
type Listener func(event types.FailureEvent)

// Config holds recovery limits
type Config struct {
	// MaxAttempts is the number of recoveries tried before a module is isolated
	MaxAttempts int
	// Cooldown is the minimum time between two recoveries of one module
	Cooldown time.Duration
	// RestartPause is the pause between stopping and starting a module
	RestartPause time.Duration
	// RestartVerify is how long after Start a restarted module must still be running
	RestartVerify time.Duration
	HistorySize   int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		Cooldown:      5 * time.Second,
		RestartPause:  500 * time.Millisecond,
		RestartVerify: 500 * time.Millisecond,
		HistorySize:   100,
	}
}

type attemptCounter struct {
	count int
	last  time.Time
}

// Handler decides and executes recovery strategies and keeps the failure
// history
type Handler struct {
	cfg    Config
	bus    *statebus.Bus
	broker *events.Broker
	logger zerolog.Logger

	mu              sync.Mutex
	attempts        map[string]*attemptCounter
	history         []types.FailureEvent
	listeners       []Listener
	totalFailures   uint64
	totalRecoveries uint64
}

// NewHandler creates a failure handler
func NewHandler(cfg Config, bus *statebus.Bus) *Handler {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Handler{
		cfg:      cfg,
		bus:      bus,
		logger:   log.WithComponent("recovery"),
		attempts: make(map[string]*attemptCounter),
	}
}

// SetBroker attaches an event broker
func (h *Handler) SetBroker(b *events.Broker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broker = b
}

// AddListener registers a callback for recorded failure events
func (h *Handler) AddListener(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Decide picks the strategy for a module's current failures
func (h *Handler) Decide(name string, failures []types.FailureType, now time.Time) types.RecoveryStrategy {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A critical error stops the whole system, so it is not held back by
	// the module's cooldown.
	critical := has(failures, types.FailureCriticalError)

	var attempts int
	if a, ok := h.attempts[name]; ok {
		if !critical && !a.last.IsZero() && now.Sub(a.last) < h.cfg.Cooldown {
			return types.RecoveryNone
		}
		attempts = a.count
	}

	if attempts >= h.cfg.MaxAttempts {
		return types.RecoveryIsolate
	}

	switch {
	case critical:
		return types.RecoveryEmergencyStop
	case has(failures, types.FailureFrozenThread):
		return types.RecoveryRestart
	case has(failures, types.FailureHeartbeatTimeout):
		if attempts == 0 {
			return types.RecoveryReset
		}
		return types.RecoveryRestart
	case has(failures, types.FailureHighErrorRate):
		return types.RecoveryReset
	case has(failures, types.FailureMemoryLeak):
		return types.RecoveryRestart
	case has(failures, types.FailureCPUOverload), has(failures, types.FailurePerformanceDegradation):
		return types.RecoveryDegrade
	case has(failures, types.FailureQueueOverflow):
		return types.RecoveryReset
	default:
		return types.RecoveryNone
	}
}

// Handle decides on a strategy and executes it. It returns false when no
// recovery was attempted.
func (h *Handler) Handle(mod Module, failures []types.FailureType) (types.FailureEvent, bool) {
	strategy := h.Decide(mod.Name(), failures, time.Now())
	if strategy == types.RecoveryNone {
		return types.FailureEvent{}, false
	}
	return h.Execute(mod, strategy, failures), true
}

// Execute runs strategy against mod regardless of cooldown and records the
// outcome. Recovery errors are logged and reflected in the event, never
// returned.
func (h *Handler) Execute(mod Module, strategy types.RecoveryStrategy, failures []types.FailureType) types.FailureEvent {
	name := mod.Name()
	now := time.Now()

	h.mu.Lock()
	a, ok := h.attempts[name]
	if !ok {
		a = &attemptCounter{}
		h.attempts[name] = a
	}
	a.count++
	a.last = now
	attempt := a.count
	h.mu.Unlock()

	event := types.FailureEvent{
		ID:                uuid.New().String(),
		ModuleName:        name,
		FailureTypes:      append([]types.FailureType(nil), failures...),
		Timestamp:         now,
		RecoveryStrategy:  strategy,
		RecoveryAttempted: true,
		Attempt:           attempt,
	}
	if len(failures) > 0 {
		event.FailureType = failures[0]
	}

	h.logger.Warn().
		Str("module", name).
		Str("strategy", string(strategy)).
		Int("attempt", attempt).
		Interface("failures", failures).
		Msg("Executing recovery")

	timer := metrics.NewTimer()
	err := h.run(mod, strategy, failures)
	timer.ObserveDurationVec(metrics.RecoveryDuration, string(strategy))

	result := "success"
	if err != nil {
		result = "failure"
		event.Description = err.Error()
		h.logger.Error().Err(err).
			Str("module", name).
			Str("strategy", string(strategy)).
			Msg("Recovery failed")
	} else {
		event.RecoverySuccessful = true
		event.Description = fmt.Sprintf("%s recovery of %s succeeded", strategy, name)
		h.logger.Info().
			Str("module", name).
			Str("strategy", string(strategy)).
			Msg("Recovery succeeded")
	}
	metrics.RecoveriesTotal.WithLabelValues(name, string(strategy), result).Inc()

	h.record(event)
	return event
}

func (h *Handler) run(mod Module, strategy types.RecoveryStrategy, failures []types.FailureType) error {
	switch strategy {
	case types.RecoveryReset:
		return h.reset(mod)
	case types.RecoveryRestart:
		return h.restart(mod)
	case types.RecoveryDegrade:
		mod.Degrade()
		return nil
	case types.RecoveryIsolate:
		return h.isolate(mod)
	case types.RecoveryEmergencyStop:
		return h.emergencyStop(mod, failures)
	case types.RecoveryNone:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
}

func (h *Handler) reset(mod Module) error {
	if err := mod.Reset(); err != nil {
		return err
	}
	h.bus.ClearNamespace(types.BufferNamespace(mod.Name()))
	return nil
}

func (h *Handler) restart(mod Module) error {
	if err := mod.Stop(); err != nil {
		return fmt.Errorf("failed to stop %s: %w", mod.Name(), err)
	}

	time.Sleep(h.cfg.RestartPause)

	if err := mod.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", mod.Name(), err)
	}

	time.Sleep(h.cfg.RestartVerify)
	if !mod.Running() {
		return fmt.Errorf("%s: %w", mod.Name(), ErrNotRunning)
	}
	return nil
}

func (h *Handler) isolate(mod Module) error {
	stopErr := mod.Stop()
	mod.SetEnabled(false)

	h.logger.Error().Str("module", mod.Name()).Msg("Module isolated from system")
	h.publish(events.EventModuleIsolated, mod.Name(), "module isolated after repeated recovery failures")

	if stopErr != nil {
		return fmt.Errorf("failed to stop %s: %w", mod.Name(), stopErr)
	}
	return nil
}

func (h *Handler) emergencyStop(mod Module, failures []types.FailureType) error {
	reason := fmt.Sprintf("failures %v in %s", failures, mod.Name())
	h.bus.TriggerEmergencyStop(mod.Name(), reason)
	h.publish(events.EventEmergencyStop, mod.Name(), reason)

	if err := mod.Stop(); err != nil {
		return fmt.Errorf("failed to stop %s: %w", mod.Name(), err)
	}
	return nil
}

func (h *Handler) record(event types.FailureEvent) {
	h.mu.Lock()
	h.history = append(h.history, event)
	if over := len(h.history) - h.cfg.HistorySize; over > 0 {
		h.history = append(h.history[:0:0], h.history[over:]...)
	}
	h.totalFailures++
	if event.RecoverySuccessful {
		h.totalRecoveries++
	}
	listeners := append([]Listener(nil), h.listeners...)
	h.mu.Unlock()

	if event.RecoverySuccessful {
		h.publish(events.EventRecoverySucceeded, event.ModuleName, event.Description)
	} else {
		h.publish(events.EventRecoveryFailed, event.ModuleName, event.Description)
	}

	for _, l := range listeners {
		l(event)
	}
}

func (h *Handler) publish(t events.EventType, module, msg string) {
	h.mu.Lock()
	b := h.broker
	h.mu.Unlock()
	if b != nil {
		b.Publish(events.NewEvent(t, module, msg))
	}
}

// ResetAttempts zeroes the attempt counter of a module. The supervisor
// calls it only after observing verified health.
func (h *Handler) ResetAttempts(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.attempts[name]; ok {
		a.count = 0
	}
}

// Attempts returns the attempt count and last attempt time of a module
func (h *Handler) Attempts(name string) (int, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.attempts[name]; ok {
		return a.count, a.last
	}
	return 0, time.Time{}
}

// Forget drops all recovery state of a module
func (h *Handler) Forget(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attempts, name)
}

// History returns the recorded failure events, oldest first
func (h *Handler) History() []types.FailureEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.FailureEvent(nil), h.history...)
}

// Totals returns the number of recorded failure events and how many of
// them recovered successfully
func (h *Handler) Totals() (failures, recoveries uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalFailures, h.totalRecoveries
}

func has(failures []types.FailureType, want types.FailureType) bool {
	for _, f := range failures {
		if f == want {
			return true
		}
	}
	return false
}
