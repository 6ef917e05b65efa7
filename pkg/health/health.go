package health

import (
	"math"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/types"
)

// Config contains the thresholds used to score and classify modules
type Config struct {
	// HeartbeatTimeout is the heartbeat age after which a module is frozen.
	// Twice this age marks it dead.
	HeartbeatTimeout time.Duration

	// HeartbeatWarning is the age after which the score starts to drop
	HeartbeatWarning time.Duration

	// ErrorRateThreshold is the error rate (errors/s) treated as a failure
	ErrorRateThreshold float64

	// ConsecutiveErrorThreshold is the consecutive error count treated as a failure
	ConsecutiveErrorThreshold uint64

	ProcessingTimeThreshold time.Duration
	CPUOverloadThreshold    float64
	QueueOverflowThreshold  int

	// MemoryGrowthThreshold is the growth in bytes over the window that,
	// with strictly increasing samples, is reported as a leak
	MemoryGrowthThreshold uint64

	// DegradedScore is the score below which a module is degraded
	DegradedScore float64

	// Window is how far back error rates and memory samples are tracked
	Window time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:          time.Second,
		HeartbeatWarning:          500 * time.Millisecond,
		ErrorRateThreshold:        1.0,
		ConsecutiveErrorThreshold: 3,
		ProcessingTimeThreshold:   100 * time.Millisecond,
		CPUOverloadThreshold:      0.9,
		QueueOverflowThreshold:    1000,
		MemoryGrowthThreshold:     10 << 20,
		DegradedScore:             50,
		Window:                    10 * time.Second,
	}
}

// Score computes a 0-100 health score. Each factor is capped so that no
// single symptom can zero the score on its own:
//
//	heartbeat age past warning: up to 50
//	error rate:                 up to 30
//	consecutive errors:         up to 20
//	processing time over 10ms:  up to 20
func Score(cfg Config, age time.Duration, errorRate float64, consecutive uint64, processing time.Duration) float64 {
	score := 100.0

	if age > cfg.HeartbeatWarning {
		score -= math.Min(50, (age-cfg.HeartbeatWarning).Seconds()*10)
	}
	if errorRate > 0 {
		score -= math.Min(30, errorRate*10)
	}
	if consecutive > 0 {
		score -= math.Min(20, float64(consecutive)*5)
	}
	if processing > 10*time.Millisecond {
		score -= math.Min(20, (processing-10*time.Millisecond).Seconds()*100)
	}

	return math.Max(0, math.Min(100, score))
}

// Classify maps heartbeat age and score onto a module status
func Classify(cfg Config, hasHeartbeat bool, age time.Duration, score float64) types.ModuleStatus {
	switch {
	case !hasHeartbeat:
		return types.ModuleStatusUnknown
	case age > 2*cfg.HeartbeatTimeout:
		return types.ModuleStatusDead
	case age > cfg.HeartbeatTimeout:
		return types.ModuleStatusFrozen
	case score < cfg.DegradedScore:
		return types.ModuleStatusDegraded
	default:
		return types.ModuleStatusHealthy
	}
}

// Observation is what the supervisor read from the bus for one module
type Observation struct {
	Heartbeat     types.HeartbeatRecord
	HasHeartbeat  bool
	CriticalError *types.ErrorRecord
}

type sample struct {
	at          time.Time
	errorCount  uint64
	memoryBytes uint64
}

// tracker keeps the recent heartbeat samples of one module
type tracker struct {
	samples []sample
	// handledCritical is the timestamp of the last critical error record
	// acted upon; newer records are reported on every check
	handledCritical time.Time
}

func (t *tracker) add(s sample, window time.Duration) {
	if n := len(t.samples); n > 0 {
		last := t.samples[n-1]
		if !s.at.After(last.at) {
			return
		}
		// counter went backwards: the module was reset
		if s.errorCount < last.errorCount {
			t.samples = t.samples[:0]
		}
	}
	t.samples = append(t.samples, s)

	cutoff := s.at.Add(-window)
	i := 0
	for i < len(t.samples)-1 && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
}

func (t *tracker) errorRate() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	first, last := t.samples[0], t.samples[len(t.samples)-1]
	span := last.at.Sub(first.at).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(last.errorCount-first.errorCount) / span
}

// memoryGrowth returns the growth over the window when every sample is
// larger than the one before it
func (t *tracker) memoryGrowth() (uint64, bool) {
	if len(t.samples) < 3 {
		return 0, false
	}
	for i := 1; i < len(t.samples); i++ {
		if t.samples[i].memoryBytes <= t.samples[i-1].memoryBytes {
			return 0, false
		}
	}
	return t.samples[len(t.samples)-1].memoryBytes - t.samples[0].memoryBytes, true
}

// Monitor scores modules and detects failures from their heartbeats
type Monitor struct {
	cfg      Config
	mu       sync.Mutex
	trackers map[string]*tracker
}

// NewMonitor creates a health monitor
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:      cfg,
		trackers: make(map[string]*tracker),
	}
}

// Config returns the thresholds in use
func (m *Monitor) Config() Config {
	return m.cfg
}

// Check evaluates one module at now
func (m *Monitor) Check(name string, obs Observation, now time.Time) types.ModuleHealth {
	h := types.ModuleHealth{
		ModuleName: name,
		Status:     types.ModuleStatusUnknown,
		CheckedAt:  now,
	}
	if !obs.HasHeartbeat {
		return h
	}

	hb := obs.Heartbeat
	m.mu.Lock()
	t := m.tracker(name)
	t.add(sample{at: hb.Timestamp, errorCount: hb.ErrorCount, memoryBytes: hb.MemoryBytes}, m.cfg.Window)
	errorRate := t.errorRate()
	growth, growing := t.memoryGrowth()

	freshCritical := obs.CriticalError != nil && obs.CriticalError.Timestamp.After(t.handledCritical)
	m.mu.Unlock()

	age := hb.Age(now)
	if age < 0 {
		age = 0
	}

	h.LastHeartbeat = hb.Timestamp
	h.HeartbeatAge = age
	h.ErrorRate = errorRate
	h.ProcessingTime = hb.AvgProcessingTime
	h.ConsecutiveErrors = hb.ConsecutiveMisses
	h.QueueSize = hb.QueueSize
	h.HealthScore = Score(m.cfg, age, errorRate, hb.ConsecutiveMisses, hb.AvgProcessingTime)
	h.Status = Classify(m.cfg, true, age, h.HealthScore)
	h.IsHealthy = h.Status == types.ModuleStatusHealthy

	var failures []types.FailureType
	if h.Status == types.ModuleStatusFrozen || h.Status == types.ModuleStatusDead {
		failures = append(failures, types.FailureHeartbeatTimeout)
	}
	if h.Status == types.ModuleStatusDead {
		failures = append(failures, types.FailureFrozenThread)
	}
	if freshCritical {
		failures = append(failures, types.FailureCriticalError)
	}
	if errorRate > m.cfg.ErrorRateThreshold || hb.ConsecutiveMisses >= m.cfg.ConsecutiveErrorThreshold {
		failures = append(failures, types.FailureHighErrorRate)
	}
	if hb.AvgProcessingTime > m.cfg.ProcessingTimeThreshold {
		failures = append(failures, types.FailurePerformanceDegradation)
	}
	if hb.UpdateRate > 0 && hb.AvgProcessingTime.Seconds()*hb.UpdateRate > m.cfg.CPUOverloadThreshold {
		failures = append(failures, types.FailureCPUOverload)
	}
	if hb.QueueSize > m.cfg.QueueOverflowThreshold {
		failures = append(failures, types.FailureQueueOverflow)
	}
	if growing && growth > m.cfg.MemoryGrowthThreshold {
		failures = append(failures, types.FailureMemoryLeak)
	}
	h.Failures = failures

	return h
}

// AcknowledgeCritical marks the critical error record written at ts as
// handled. Until then Check keeps reporting CRITICAL_ERROR for it.
func (m *Monitor) AcknowledgeCritical(name string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.tracker(name); ts.After(t.handledCritical) {
		t.handledCritical = ts
	}
}

// Forget drops the tracked samples of a module
func (m *Monitor) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trackers, name)
}

// tracker returns the tracker for name. Caller holds mu.
func (m *Monitor) tracker(name string) *tracker {
	t, ok := m.trackers[name]
	if !ok {
		t = &tracker{}
		m.trackers[name] = t
	}
	return t
}
