package stages

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

// Act converts setpoints into robot commands. It stops issuing commands
// while the emergency stop is latched.
type Act struct {
	*latch
	bus    *statebus.Bus
	logger zerolog.Logger

	mu           sync.Mutex
	lastSetpoint uint64
	lastGripper  float64
	seq          uint64
	halted       bool
}

// NewAct creates the act stage
func NewAct(bus *statebus.Bus) *Act {
	return &Act{
		latch:       newLatch(bus),
		bus:         bus,
		logger:      log.WithModule(NameAct),
		lastGripper: -1,
	}
}

// Init implements module.Task
func (a *Act) Init(ctx context.Context) error {
	return nil
}

// Run implements module.Task
func (a *Act) Run(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Halted() {
		if !a.halted {
			a.halted = true
			a.bus.Update(types.NamespaceActionCommands, KeyHalted, true)
			a.logger.Warn().Msg("Emergency stop latched, commands suspended")
		}
		return nil
	}
	if a.halted {
		a.halted = false
		a.bus.Update(types.NamespaceActionCommands, KeyHalted, false)
		a.logger.Info().Msg("Emergency stop cleared, commands resumed")
	}

	sp, ok := statebus.GetAs[Setpoint](a.bus, types.NamespacePlannedTrajectory, KeySetpoint)
	if !ok || sp.Seq == a.lastSetpoint {
		return nil
	}
	a.lastSetpoint = sp.Seq

	a.seq++
	cmd := Command{
		Seq: a.seq,
		Joint: adapter.JointCommand{
			Names:     sp.Names,
			Positions: sp.Positions,
		},
		Timestamp: time.Now(),
	}
	if sp.Gripper != a.lastGripper {
		a.lastGripper = sp.Gripper
		cmd.Gripper = &adapter.GripperCommand{Position: sp.Gripper, Force: 10}
	}

	a.bus.Update(types.NamespaceActionCommands, KeyCommand, cmd)
	return nil
}

// Reset forgets the last forwarded setpoint so the next one is re-sent
func (a *Act) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSetpoint = 0
	a.lastGripper = -1
	return nil
}
