package statebus

import (
	"time"

	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/types"
)

// PutHeartbeat publishes a module heartbeat
func (b *Bus) PutHeartbeat(module string, hb types.HeartbeatRecord) {
	b.Update(types.NamespaceModuleHeartbeats, module, hb)
}

// Heartbeat returns the latest heartbeat of a module
func (b *Bus) Heartbeat(module string) (types.HeartbeatRecord, bool) {
	return GetAs[types.HeartbeatRecord](b, types.NamespaceModuleHeartbeats, module)
}

// TriggerEmergencyStop latches the system-wide emergency stop
func (b *Bus) TriggerEmergencyStop(triggeredBy, reason string) {
	metrics.SetEmergencyStop(true)
	b.Update(types.NamespaceSystemStatus, types.KeyEmergencyStop, types.EmergencyStop{
		Active:      true,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		Timestamp:   time.Now(),
	})
	b.logger.Error().
		Str("triggered_by", triggeredBy).
		Str("reason", reason).
		Msg("EMERGENCY STOP triggered")
}

// ClearEmergencyStop releases the emergency stop latch
func (b *Bus) ClearEmergencyStop(clearedBy string) {
	metrics.SetEmergencyStop(false)
	b.Update(types.NamespaceSystemStatus, types.KeyEmergencyStop, types.EmergencyStop{
		Active:      false,
		TriggeredBy: clearedBy,
		Timestamp:   time.Now(),
	})
	b.logger.Warn().Str("cleared_by", clearedBy).Msg("Emergency stop cleared")
}

// EmergencyStop returns the current emergency stop record and whether it is active
func (b *Bus) EmergencyStop() (types.EmergencyStop, bool) {
	es, ok := GetAs[types.EmergencyStop](b, types.NamespaceSystemStatus, types.KeyEmergencyStop)
	return es, ok && es.Active
}

// IsEmergencyStop reports whether a value written to system_status latches
// the emergency stop. Subscribers use it to react without a second read.
func IsEmergencyStop(key string, value interface{}) (active bool, ok bool) {
	if key != types.KeyEmergencyStop {
		return false, false
	}
	es, ok := value.(types.EmergencyStop)
	if !ok {
		return false, false
	}
	return es.Active, true
}
