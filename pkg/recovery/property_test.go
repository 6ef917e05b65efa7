package recovery

import (
	"testing"
	"time"

	"github.com/cuemby/rover/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allFailures = []types.FailureType{
	types.FailureHeartbeatTimeout,
	types.FailureFrozenThread,
	types.FailureHighErrorRate,
	types.FailurePerformanceDegradation,
	types.FailureCriticalError,
	types.FailureQueueOverflow,
	types.FailureCPUOverload,
	types.FailureMemoryLeak,
}

// failureSet picks a subset of failure types from a bitmask
func failureSet(mask uint8) []types.FailureType {
	var out []types.FailureType
	for i, f := range allFailures {
		if mask&(1<<i) != 0 {
			out = append(out, f)
		}
	}
	return out
}

func withoutCritical(failures []types.FailureType) []types.FailureType {
	out := failures[:0]
	for _, f := range failures {
		if f != types.FailureCriticalError {
			out = append(out, f)
		}
	}
	return out
}

func TestProperty_DecisionTable(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("critical errors always stop the system before isolation", prop.ForAll(
		func(mask uint8) bool {
			h := NewHandler(DefaultConfig(), nil)
			failures := append(failureSet(mask), types.FailureCriticalError)
			return h.Decide("m", failures, time.Now()) == types.RecoveryEmergencyStop
		},
		gen.UInt8(),
	))

	properties.Property("critical errors stop the system inside the cooldown", prop.ForAll(
		func(mask uint8, count int) bool {
			cfg := DefaultConfig()
			h := NewHandler(cfg, nil)
			now := time.Now()
			h.attempts["m"] = &attemptCounter{count: count, last: now.Add(-time.Second)}
			failures := append(failureSet(mask), types.FailureCriticalError)
			return h.Decide("m", failures, now) == types.RecoveryEmergencyStop
		},
		gen.UInt8(),
		gen.IntRange(0, 2),
	))

	properties.Property("exhausted attempts isolate whatever the failure", prop.ForAll(
		func(mask uint8) bool {
			cfg := DefaultConfig()
			h := NewHandler(cfg, nil)
			h.attempts["m"] = &attemptCounter{count: cfg.MaxAttempts}
			return h.Decide("m", failureSet(mask), time.Now()) == types.RecoveryIsolate
		},
		gen.UInt8(),
	))

	properties.Property("cooldown suppresses every non-critical recovery", prop.ForAll(
		func(mask uint8, count int) bool {
			h := NewHandler(DefaultConfig(), nil)
			now := time.Now()
			h.attempts["m"] = &attemptCounter{count: count, last: now.Add(-time.Second)}
			failures := withoutCritical(failureSet(mask))
			return h.Decide("m", failures, now) == types.RecoveryNone
		},
		gen.UInt8(),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
