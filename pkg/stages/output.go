package stages

import (
	"context"
	"time"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
)

// Output publishes the externally visible controller signal
type Output struct {
	*latch
	bus *statebus.Bus
}

// NewOutput creates the output stage
func NewOutput(bus *statebus.Bus) *Output {
	return &Output{latch: newLatch(bus), bus: bus}
}

// Init implements module.Task
func (o *Output) Init(ctx context.Context) error {
	return nil
}

// Run implements module.Task
func (o *Output) Run(ctx context.Context) error {
	halted := o.Halted()
	state, ok := statebus.GetAs[adapter.RobotState](o.bus, types.NamespaceRobotState, KeyCurrentState)
	if !ok && !halted {
		return nil
	}
	safe, _ := statebus.GetAs[bool](o.bus, types.NamespaceRobotState, KeyIsSafe)

	o.bus.Update(types.NamespaceOutputSignals, KeyStatus, Signal{
		Positions:     state.Joints.Positions,
		EndEffector:   state.EndEffector.Position,
		Gripper:       state.Gripper,
		Moving:        state.Moving && !halted,
		Safe:          safe && !halted,
		EmergencyStop: halted || state.EmergencyStop,
		Timestamp:     time.Now(),
	})
	return nil
}
