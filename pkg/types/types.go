package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Well-known StateBus namespaces
const (
	NamespaceInputBuffer       = "input_buffer"
	NamespaceSensorState       = "sensor_state"
	NamespacePlannedTrajectory = "planned_trajectory"
	NamespaceActionCommands    = "action_commands"
	NamespaceOutputSignals     = "output_signals"
	NamespaceSystemStatus      = "system_status"
	NamespaceHealthStatus      = "health_status"
	NamespaceModuleHeartbeats  = "module_heartbeats"
	NamespaceRobotState        = "robot_state"
)

// DefaultNamespaces are created eagerly when a bus is constructed
var DefaultNamespaces = []string{
	NamespaceInputBuffer,
	NamespaceSensorState,
	NamespacePlannedTrajectory,
	NamespaceActionCommands,
	NamespaceOutputSignals,
	NamespaceSystemStatus,
	NamespaceHealthStatus,
	NamespaceModuleHeartbeats,
	NamespaceRobotState,
}

// Keys in the system_status namespace
const (
	KeyEmergencyStop  = "emergency_stop"
	KeySafetyAlert    = "safety_alert"
	KeyHealthReport   = "health_report"
	KeyFailureHistory = "failure_history"
)

// ErrorKey is the system_status key holding a module's last task error
func ErrorKey(module string) string {
	return module + "_error"
}

// CriticalErrorKey is the system_status key holding a module's last critical error
func CriticalErrorKey(module string) string {
	return module + "_critical_error"
}

// BufferNamespace is the private scratch namespace cleared by a RESET
func BufferNamespace(module string) string {
	return module + "_buffer"
}

// HeartbeatRecord is written by a module runtime on every cycle
type HeartbeatRecord struct {
	Timestamp         time.Time
	ErrorCount        uint64
	ConsecutiveMisses uint64 // consecutive cycles that ended in error
	AvgProcessingTime time.Duration
	MessageCount      uint64
	QueueSize         int
	MemoryBytes       uint64
	UpdateRate        float64 // Hz
}

// Age returns how old the heartbeat is relative to now
func (h HeartbeatRecord) Age(now time.Time) time.Duration {
	return now.Sub(h.Timestamp)
}

type heartbeatJSON struct {
	Timestamp         float64 `json:"timestamp"`
	ErrorCount        uint64  `json:"error_count"`
	ConsecutiveMisses uint64  `json:"consecutive_misses"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
	MessageCount      uint64  `json:"message_count,omitempty"`
	QueueSize         int     `json:"queue_size,omitempty"`
	MemoryBytes       uint64  `json:"memory_bytes,omitempty"`
	UpdateRate        float64 `json:"update_rate,omitempty"`
}

// MarshalJSON encodes timestamps and durations as float seconds
func (h HeartbeatRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(heartbeatJSON{
		Timestamp:         float64(h.Timestamp.UnixNano()) / 1e9,
		ErrorCount:        h.ErrorCount,
		ConsecutiveMisses: h.ConsecutiveMisses,
		AvgProcessingTime: h.AvgProcessingTime.Seconds(),
		MessageCount:      h.MessageCount,
		QueueSize:         h.QueueSize,
		MemoryBytes:       h.MemoryBytes,
		UpdateRate:        h.UpdateRate,
	})
}

// UnmarshalJSON decodes the float-seconds wire form
func (h *HeartbeatRecord) UnmarshalJSON(data []byte) error {
	var raw heartbeatJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sec, frac := math.Modf(raw.Timestamp)
	*h = HeartbeatRecord{
		Timestamp:         time.Unix(int64(sec), int64(frac*1e9)),
		ErrorCount:        raw.ErrorCount,
		ConsecutiveMisses: raw.ConsecutiveMisses,
		AvgProcessingTime: seconds(raw.AvgProcessingTime),
		MessageCount:      raw.MessageCount,
		QueueSize:         raw.QueueSize,
		MemoryBytes:       raw.MemoryBytes,
		UpdateRate:        raw.UpdateRate,
	}
	return nil
}

// ModuleStatus is the supervisor's classification of a module
type ModuleStatus string

const (
	ModuleStatusUnknown  ModuleStatus = "unknown"
	ModuleStatusHealthy  ModuleStatus = "healthy"
	ModuleStatusDegraded ModuleStatus = "degraded"
	ModuleStatusFrozen   ModuleStatus = "frozen"
	ModuleStatusDead     ModuleStatus = "dead"
)

// FailureType classifies a detected failure
type FailureType string

const (
	FailureHeartbeatTimeout       FailureType = "heartbeat_timeout"
	FailureFrozenThread           FailureType = "frozen_thread"
	FailureHighErrorRate          FailureType = "high_error_rate"
	FailurePerformanceDegradation FailureType = "performance_degradation"
	FailureCriticalError          FailureType = "critical_error"
	FailureQueueOverflow          FailureType = "queue_overflow"
	FailureCPUOverload            FailureType = "cpu_overload"
	FailureMemoryLeak             FailureType = "memory_leak"
)

// RecoveryStrategy is the action taken in response to a failure
type RecoveryStrategy string

const (
	RecoveryRestart       RecoveryStrategy = "restart"
	RecoveryReset         RecoveryStrategy = "reset"
	RecoveryDegrade       RecoveryStrategy = "degrade"
	RecoveryIsolate       RecoveryStrategy = "isolate"
	RecoveryEmergencyStop RecoveryStrategy = "emergency_stop"
	RecoveryNone          RecoveryStrategy = "none"
)

// ParseRecoveryStrategy converts an operator-supplied string into a strategy
func ParseRecoveryStrategy(s string) (RecoveryStrategy, error) {
	switch RecoveryStrategy(s) {
	case RecoveryRestart, RecoveryReset, RecoveryDegrade, RecoveryIsolate, RecoveryEmergencyStop, RecoveryNone:
		return RecoveryStrategy(s), nil
	case "stop":
		return RecoveryEmergencyStop, nil
	default:
		return "", fmt.Errorf("unknown recovery strategy: %q", s)
	}
}

// ModuleHealth is the supervisor's latest health snapshot for one module
type ModuleHealth struct {
	ModuleName        string        `json:"module_name"`
	Status            ModuleStatus  `json:"status"`
	IsHealthy         bool          `json:"is_healthy"`
	Enabled           bool          `json:"enabled"`
	LastHeartbeat     time.Time     `json:"last_heartbeat"`
	HeartbeatAge      time.Duration `json:"heartbeat_age"`
	ErrorRate         float64       `json:"error_rate"` // errors per second
	ProcessingTime    time.Duration `json:"processing_time"`
	ConsecutiveErrors uint64        `json:"consecutive_errors"`
	QueueSize         int           `json:"queue_size"`
	HealthScore       float64       `json:"health_score"`
	Failures          []FailureType `json:"failures,omitempty"`
	CheckedAt         time.Time     `json:"checked_at"`
}

// FailureEvent is an immutable audit record of a detected failure and the
// recovery that was attempted for it
type FailureEvent struct {
	ID                 string           `json:"id"`
	ModuleName         string           `json:"module_name"`
	FailureType        FailureType      `json:"failure_type"`
	FailureTypes       []FailureType    `json:"failure_types,omitempty"`
	Timestamp          time.Time        `json:"timestamp"`
	RecoveryStrategy   RecoveryStrategy `json:"recovery_strategy"`
	RecoveryAttempted  bool             `json:"recovery_attempted"`
	RecoverySuccessful bool             `json:"recovery_successful"`
	Attempt            int              `json:"attempt"`
	Description        string           `json:"description,omitempty"`
}

// EmergencyStop is the system-wide alert every actuating stage must honor
type EmergencyStop struct {
	Active      bool      `json:"active"`
	TriggeredBy string    `json:"triggered_by"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SafetyAlert is raised when a stage observes an unsafe command or state
type SafetyAlert struct {
	Active     bool      `json:"active"`
	Source     string    `json:"source"`
	Violations []string  `json:"violations"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorRecord is the diagnostic record written for a failed module cycle
type ErrorRecord struct {
	Module            string    `json:"module"`
	Error             string    `json:"error"`
	ConsecutiveErrors uint64    `json:"consecutive_errors"`
	Critical          bool      `json:"critical"`
	Timestamp         time.Time `json:"timestamp"`
}

// Mutation records a single write to a namespace
type Mutation struct {
	Namespace string      `json:"namespace"`
	Key       string      `json:"key"`
	OldValue  interface{} `json:"old_value,omitempty"`
	NewValue  interface{} `json:"new_value,omitempty"`
	Cleared   bool        `json:"cleared,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SystemHealthReport aggregates module health for operators
type SystemHealthReport struct {
	Timestamp          time.Time               `json:"timestamp"`
	OverallHealthScore float64                 `json:"overall_health_score"`
	Modules            map[string]ModuleHealth `json:"modules"`
	RecentFailures     []FailureEvent          `json:"recent_failures"`
	Uptime             time.Duration           `json:"uptime"`
	TotalFailures      uint64                  `json:"total_failures"`
	TotalRecoveries    uint64                  `json:"total_recoveries"`
	EmergencyStop      bool                    `json:"emergency_stop"`
	SafetyAlert        bool                    `json:"safety_alert"`
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// MarshalJSON encodes durations as float seconds, like HeartbeatRecord
func (h ModuleHealth) MarshalJSON() ([]byte, error) {
	type plain ModuleHealth
	return json.Marshal(struct {
		plain
		HeartbeatAge   float64 `json:"heartbeat_age"`
		ProcessingTime float64 `json:"processing_time"`
	}{plain(h), h.HeartbeatAge.Seconds(), h.ProcessingTime.Seconds()})
}

// UnmarshalJSON decodes the float-seconds wire form
func (h *ModuleHealth) UnmarshalJSON(data []byte) error {
	type plain ModuleHealth
	var raw struct {
		plain
		HeartbeatAge   float64 `json:"heartbeat_age"`
		ProcessingTime float64 `json:"processing_time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*h = ModuleHealth(raw.plain)
	h.HeartbeatAge = seconds(raw.HeartbeatAge)
	h.ProcessingTime = seconds(raw.ProcessingTime)
	return nil
}

// MarshalJSON encodes the uptime as float seconds
func (r SystemHealthReport) MarshalJSON() ([]byte, error) {
	type plain SystemHealthReport
	return json.Marshal(struct {
		plain
		Uptime float64 `json:"uptime"`
	}{plain(r), r.Uptime.Seconds()})
}

// UnmarshalJSON decodes the float-seconds wire form
func (r *SystemHealthReport) UnmarshalJSON(data []byte) error {
	type plain SystemHealthReport
	var raw struct {
		plain
		Uptime float64 `json:"uptime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = SystemHealthReport(raw.plain)
	r.Uptime = seconds(raw.Uptime)
	return nil
}
