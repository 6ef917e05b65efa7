/*
Package types defines the data shared by every rover package: namespace
and key names on the StateBus, heartbeat records, module health, failure
events and the emergency stop.

# Namespaces

Stages never call each other. They exchange values through StateBus
namespaces named by the Namespace* constants:

	input_buffer → sensor_state → planned_trajectory → action_commands
	                                                 → robot_state → output_signals

Supervision state lives beside the data flow. module_heartbeats holds one
HeartbeatRecord per module, keyed by module name. system_status holds the
emergency stop (KeyEmergencyStop), the latest SafetyAlert, the
SystemHealthReport and per-module ErrorRecords under ErrorKey(name) and
CriticalErrorKey(name). A stage's private buffer is BufferNamespace(name)
and is cleared by a reset recovery.

# Heartbeats

HeartbeatRecord serializes its timestamp and average processing time as
float seconds so records written by other tools stay readable:

	{"timestamp": 1700000000.5, "error_count": 4, "consecutive_misses": 2,
	 "avg_processing_time": 0.015}

# Failures and recovery

The health monitor classifies a module as one of the ModuleStatus values
and attaches the FailureTypes it detected. The failure handler answers with
a RecoveryStrategy and records the outcome as a FailureEvent:

	event := types.FailureEvent{
		ID:               uuid.New().String(),
		ModuleName:       "act",
		FailureType:      types.FailureFrozenThread,
		RecoveryStrategy: types.RecoveryRestart,
		Timestamp:        time.Now(),
	}

Operators name strategies as strings; ParseRecoveryStrategy accepts every
RecoveryStrategy value plus "stop" as an alias for emergency_stop.
*/
package types
