package module

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/rover/pkg/events"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

var (
	ErrDisabled       = errors.New("module is disabled")
	ErrStillRunning   = errors.New("previous run loop has not exited")
	ErrStopTimeout    = errors.New("run loop did not exit within stop timeout")
	ErrNotInitialized = errors.New("module is not initialized")
)

// State is the lifecycle state of a runtime
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateRunning       State = "running"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateError         State = "error"
)

// Runtime drives a Task at a fixed rate on its own goroutine, publishing a
// heartbeat every cycle and containing task errors
type Runtime struct {
	cfg    Config
	task   Task
	bus    *statebus.Bus
	broker *events.Broker
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	initialized bool
	enabled     bool
	updateRate  float64
	cancel      context.CancelFunc
	done        chan struct{}

	errorCount    atomic.Uint64
	consecutive   atomic.Uint64
	messageCount  atomic.Uint64
	lastHeartbeat atomic.Int64

	windowMu sync.Mutex
	window   []time.Duration
	next     int
}

// New creates a runtime for task. The task is not initialized until
// Initialize or Start is called.
func New(cfg Config, task Task, bus *statebus.Bus) *Runtime {
	cfg = cfg.withDefaults()
	r := &Runtime{
		cfg:        cfg,
		task:       task,
		bus:        bus,
		logger:     log.WithModule(cfg.Name),
		state:      StateUninitialized,
		enabled:    cfg.Enabled,
		updateRate: cfg.UpdateRate,
		window:     make([]time.Duration, 0, cfg.WindowSize),
	}
	metrics.ModuleUpdateRate.WithLabelValues(cfg.Name).Set(cfg.UpdateRate)
	return r
}

// SetBroker attaches an event broker for lifecycle events. Call it before
// Start.
func (r *Runtime) SetBroker(b *events.Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broker = b
}

// Name returns the module name
func (r *Runtime) Name() string {
	return r.cfg.Name
}

// Task returns the wrapped task
func (r *Runtime) Task() Task {
	return r.task
}

// Initialize calls the task's Init exactly once. On failure the runtime
// stays uninitialized and a later call retries.
func (r *Runtime) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initializeLocked()
}

func (r *Runtime) initializeLocked() error {
	if r.initialized {
		return nil
	}

	r.state = StateInitializing
	if err := r.task.Init(context.Background()); err != nil {
		r.state = StateUninitialized
		r.logger.Error().Err(err).Msg("Initialization failed")
		return fmt.Errorf("failed to initialize %s: %w", r.cfg.Name, err)
	}

	r.initialized = true
	r.state = StateReady
	r.logger.Info().Msg("Module initialized")
	return nil
}

// Start launches the run loop
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return ErrDisabled
	}
	if r.loopAliveLocked() {
		if r.state == StateRunning {
			return nil
		}
		return ErrStillRunning
	}
	if err := r.initializeLocked(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.state = StateRunning
	r.lastHeartbeat.Store(time.Now().UnixNano())

	go r.loop(ctx, done)

	r.logger.Info().Float64("update_rate", r.updateRate).Msg("Module started")
	r.publish(events.EventModuleStarted, "module started")
	return nil
}

// Stop cancels the run loop and waits for it to exit, bounded by the stop
// timeout. Cleanup runs once the loop has exited.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.loopAliveLocked() {
		if r.state == StateRunning {
			r.state = StateStopped
		}
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopping
	r.cancel()
	done := r.done
	timeout := r.cfg.StopTimeout
	r.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Error().Dur("timeout", timeout).Msg("Run loop did not stop in time")
		return fmt.Errorf("failed to stop %s: %w", r.cfg.Name, ErrStopTimeout)
	}

	if c, ok := r.task.(Cleaner); ok {
		if err := c.Cleanup(); err != nil {
			r.logger.Warn().Err(err).Msg("Cleanup failed")
		}
	}

	r.mu.Lock()
	if r.done == done && r.state != StateError {
		r.state = StateStopped
	}
	r.mu.Unlock()

	r.logger.Info().Msg("Module stopped")
	r.publish(events.EventModuleStopped, "module stopped")
	return nil
}

func (r *Runtime) loopAliveLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Runtime) loop(ctx context.Context, done chan struct{}) {
	critical := false
	defer func() {
		r.mu.Lock()
		if r.done == done {
			if critical {
				r.state = StateError
			} else if r.state == StateRunning || r.state == StateStopping {
				r.state = StateStopped
			}
		}
		r.mu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := r.runOnce(ctx)
		elapsed := time.Since(start)
		r.observe(elapsed)

		if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}

		var consecutive uint64
		if err == nil {
			r.consecutive.Store(0)
			r.messageCount.Add(1)
			metrics.ModuleCyclesTotal.WithLabelValues(r.cfg.Name, "ok").Inc()
		} else {
			critical = IsCritical(err)
			consecutive = r.consecutive.Add(1)
			r.errorCount.Add(1)
			r.recordError(err, consecutive, critical)
		}

		r.writeHeartbeat()

		if critical {
			r.publish(events.EventModuleFailed, err.Error())
			return
		}

		backoff := r.cfg.Backoff(consecutive)
		metrics.ModuleBackoffSeconds.WithLabelValues(r.cfg.Name).Set(backoff.Seconds())
		if backoff > 0 {
			r.logger.Warn().Uint64("consecutive_errors", consecutive).Dur("backoff", backoff).Msg("Backing off after repeated errors")
			if !sleep(ctx, backoff) {
				return
			}
		}

		if !sleep(ctx, r.period()-elapsed) {
			return
		}
	}
}

func (r *Runtime) runOnce(ctx context.Context) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		if p := recover(); p != nil {
			err = Critical(fmt.Errorf("panic: %v", p))
		}
		timer.ObserveDurationVec(metrics.ModuleCycleDuration, r.cfg.Name)
	}()
	return r.task.Run(ctx)
}

func (r *Runtime) recordError(err error, consecutive uint64, critical bool) {
	rec := types.ErrorRecord{
		Module:            r.cfg.Name,
		Error:             err.Error(),
		ConsecutiveErrors: consecutive,
		Critical:          critical,
		Timestamp:         time.Now(),
	}

	if critical {
		metrics.ModuleCyclesTotal.WithLabelValues(r.cfg.Name, "critical").Inc()
		r.logger.Error().Err(err).Msg("Critical error, leaving run loop")
		r.bus.Update(types.NamespaceSystemStatus, types.CriticalErrorKey(r.cfg.Name), rec)
		return
	}

	metrics.ModuleCyclesTotal.WithLabelValues(r.cfg.Name, "error").Inc()
	r.logger.Debug().Err(err).Uint64("consecutive_errors", consecutive).Msg("Cycle failed")
	r.bus.Update(types.NamespaceSystemStatus, types.ErrorKey(r.cfg.Name), rec)
}

func (r *Runtime) writeHeartbeat() {
	now := time.Now()
	hb := types.HeartbeatRecord{
		Timestamp:         now,
		ErrorCount:        r.errorCount.Load(),
		ConsecutiveMisses: r.consecutive.Load(),
		AvgProcessingTime: r.avgProcessingTime(),
		MessageCount:      r.messageCount.Load(),
		UpdateRate:        r.UpdateRate(),
	}
	if q, ok := r.task.(QueueReporter); ok {
		hb.QueueSize = q.QueueSize()
	}
	if m, ok := r.task.(MemoryReporter); ok {
		hb.MemoryBytes = m.MemoryBytes()
	}

	r.bus.PutHeartbeat(r.cfg.Name, hb)
	r.lastHeartbeat.Store(now.UnixNano())
}

func (r *Runtime) observe(d time.Duration) {
	r.windowMu.Lock()
	defer r.windowMu.Unlock()

	if len(r.window) < r.cfg.WindowSize {
		r.window = append(r.window, d)
		return
	}
	r.window[r.next] = d
	r.next = (r.next + 1) % r.cfg.WindowSize
}

func (r *Runtime) avgProcessingTime() time.Duration {
	r.windowMu.Lock()
	defer r.windowMu.Unlock()

	if len(r.window) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range r.window {
		total += d
	}
	return total / time.Duration(len(r.window))
}

func (r *Runtime) period() time.Duration {
	return time.Duration(float64(time.Second) / r.UpdateRate())
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsHealthy reports whether the loop is running, is below the unhealthy
// error threshold and has heartbeated recently
func (r *Runtime) IsHealthy() bool {
	if !r.Running() {
		return false
	}
	if r.consecutive.Load() >= uint64(r.cfg.UnhealthyThreshold) {
		return false
	}
	last := time.Unix(0, r.lastHeartbeat.Load())
	return time.Since(last) < r.cfg.HeartbeatInterval*10
}

// Running reports whether the run loop is active
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRunning && r.loopAliveLocked()
}

// State returns the current lifecycle state
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset clears the error counters and the processing window and asks the
// task to drop its internal state. It is an administrative action taken by
// the failure handler, outside the run loop.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	initialized := r.initialized
	r.mu.Unlock()
	if !initialized {
		return fmt.Errorf("failed to reset %s: %w", r.cfg.Name, ErrNotInitialized)
	}

	r.consecutive.Store(0)
	r.errorCount.Store(0)

	r.windowMu.Lock()
	r.window = r.window[:0]
	r.next = 0
	r.windowMu.Unlock()

	if rs, ok := r.task.(Resetter); ok {
		if err := rs.Reset(); err != nil {
			return fmt.Errorf("failed to reset %s: %w", r.cfg.Name, err)
		}
	}
	r.logger.Info().Msg("Module reset")
	return nil
}

// Degrade halves the update rate, never going below 1 Hz, and returns the
// new rate
func (r *Runtime) Degrade() float64 {
	r.mu.Lock()
	r.updateRate = math.Max(1, r.updateRate/2)
	rate := r.updateRate
	r.mu.Unlock()

	metrics.ModuleUpdateRate.WithLabelValues(r.cfg.Name).Set(rate)
	r.logger.Warn().Float64("update_rate", rate).Msg("Module degraded")
	r.publish(events.EventModuleDegraded, fmt.Sprintf("update rate lowered to %.1f Hz", rate))
	return rate
}

// UpdateRate returns the current target rate in Hz
func (r *Runtime) UpdateRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateRate
}

// SetUpdateRate changes the target rate; non-positive rates are ignored
func (r *Runtime) SetUpdateRate(hz float64) {
	if hz <= 0 {
		return
	}
	r.mu.Lock()
	r.updateRate = hz
	r.mu.Unlock()
	metrics.ModuleUpdateRate.WithLabelValues(r.cfg.Name).Set(hz)
}

// SetEnabled enables or disables the module. A disabled module refuses to
// start; an already running loop is not stopped.
func (r *Runtime) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// Enabled reports whether the module may be started
func (r *Runtime) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// ErrorCount returns the total number of failed cycles
func (r *Runtime) ErrorCount() uint64 {
	return r.errorCount.Load()
}

// ConsecutiveErrors returns the number of failed cycles since the last success
func (r *Runtime) ConsecutiveErrors() uint64 {
	return r.consecutive.Load()
}

// Status is a point-in-time view of a runtime
type Status struct {
	Name              string        `json:"name"`
	State             State         `json:"state"`
	Enabled           bool          `json:"enabled"`
	Running           bool          `json:"running"`
	Initialized       bool          `json:"initialized"`
	UpdateRate        float64       `json:"update_rate"`
	ErrorCount        uint64        `json:"error_count"`
	ConsecutiveErrors uint64        `json:"consecutive_errors"`
	MessageCount      uint64        `json:"message_count"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	LastHeartbeat     time.Time     `json:"last_heartbeat"`
}

// Status returns a snapshot of the runtime
func (r *Runtime) Status() Status {
	r.mu.Lock()
	s := Status{
		Name:        r.cfg.Name,
		State:       r.state,
		Enabled:     r.enabled,
		Running:     r.state == StateRunning && r.loopAliveLocked(),
		Initialized: r.initialized,
		UpdateRate:  r.updateRate,
	}
	r.mu.Unlock()

	s.ErrorCount = r.errorCount.Load()
	s.ConsecutiveErrors = r.consecutive.Load()
	s.MessageCount = r.messageCount.Load()
	s.AvgProcessingTime = r.avgProcessingTime()
	if ns := r.lastHeartbeat.Load(); ns > 0 {
		s.LastHeartbeat = time.Unix(0, ns)
	}
	return s
}

func (r *Runtime) publish(t events.EventType, msg string) {
	if r.broker != nil {
		r.broker.Publish(events.NewEvent(t, r.cfg.Name, msg))
	}
}
