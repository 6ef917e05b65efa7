package statebus

import (
	"testing"
	"time"

	"github.com/cuemby/rover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatHelpers(t *testing.T) {
	b := New()

	_, ok := b.Heartbeat("sense")
	assert.False(t, ok)

	hb := types.HeartbeatRecord{Timestamp: time.Now(), ErrorCount: 2}
	b.PutHeartbeat("sense", hb)

	got, ok := b.Heartbeat("sense")
	require.True(t, ok)
	assert.Equal(t, hb, got)
}

func TestEmergencyStopHelpers(t *testing.T) {
	b := New()

	_, active := b.EmergencyStop()
	assert.False(t, active)

	var observed []bool
	b.Subscribe(types.NamespaceSystemStatus, func(_, key string, value interface{}) {
		if active, ok := IsEmergencyStop(key, value); ok {
			observed = append(observed, active)
		}
	})

	b.TriggerEmergencyStop("supervisor", "critical error in act")
	es, active := b.EmergencyStop()
	assert.True(t, active)
	assert.Equal(t, "supervisor", es.TriggeredBy)
	assert.Equal(t, "critical error in act", es.Reason)

	b.ClearEmergencyStop("operator")
	_, active = b.EmergencyStop()
	assert.False(t, active)

	assert.Equal(t, []bool{true, false}, observed)
}

func TestIsEmergencyStopIgnoresOtherKeys(t *testing.T) {
	_, ok := IsEmergencyStop(types.KeySafetyAlert, types.EmergencyStop{Active: true})
	assert.False(t, ok)

	_, ok = IsEmergencyStop(types.KeyEmergencyStop, "not a record")
	assert.False(t, ok)
}
