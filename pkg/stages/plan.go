package stages

import (
	"context"
	"math"
	"time"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
)

// Plan turns the current target into a bounded per-cycle setpoint
type Plan struct {
	bus *statebus.Bus
	cfg Config

	seq uint64
}

// NewPlan creates the planning stage
func NewPlan(bus *statebus.Bus, cfg Config) *Plan {
	return &Plan{bus: bus, cfg: cfg}
}

// Init implements module.Task
func (p *Plan) Init(ctx context.Context) error {
	return nil
}

// Run implements module.Task
func (p *Plan) Run(ctx context.Context) error {
	target, ok := statebus.GetAs[Target](p.bus, types.NamespaceInputBuffer, KeyTarget)
	if !ok {
		return nil
	}
	joints, ok := statebus.GetAs[adapter.JointState](p.bus, types.NamespaceSensorState, KeyJoints)
	if !ok {
		return nil
	}

	n := len(joints.Positions)
	if len(target.Positions) < n {
		n = len(target.Positions)
	}

	next := make([]float64, n)
	for i := 0; i < n; i++ {
		delta := target.Positions[i] - joints.Positions[i]
		if math.Abs(delta) > p.cfg.MaxStep {
			delta = math.Copysign(p.cfg.MaxStep, delta)
		}
		next[i] = joints.Positions[i] + delta
	}

	remaining := maxAbsDiff(target.Positions[:n], joints.Positions[:n])
	if remaining <= p.cfg.Tolerance {
		p.bus.Update(types.BufferNamespace(NamePlan), "reached", target.Seq)
	}

	p.seq++
	p.bus.Update(types.NamespacePlannedTrajectory, KeySetpoint, Setpoint{
		Seq:       p.seq,
		Names:     append([]string(nil), joints.Names[:n]...),
		Positions: next,
		Gripper:   target.Gripper,
		Remaining: remaining,
		Timestamp: time.Now(),
	})
	return nil
}
