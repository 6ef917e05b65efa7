package stages

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

// Robot forwards commands to the adapter after checking them against the
// configured limits, and publishes the robot state every cycle.
type Robot struct {
	*latch
	bus     *statebus.Bus
	adapter adapter.Adapter
	cfg     Config
	logger  zerolog.Logger

	mu           sync.Mutex
	lastCommand  uint64
	stopSent     bool
	alertActive  bool
	alertSummary string
}

// NewRobot creates the robot stage
func NewRobot(bus *statebus.Bus, a adapter.Adapter, cfg Config) *Robot {
	return &Robot{
		latch:   newLatch(bus),
		bus:     bus,
		adapter: a,
		cfg:     cfg,
		logger:  log.WithModule(NameRobot),
	}
}

// Init implements module.Task
func (r *Robot) Init(ctx context.Context) error {
	if r.adapter.IsConnected() {
		return nil
	}
	if err := r.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect adapter: %w", err)
	}
	return nil
}

// Run implements module.Task
func (r *Robot) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.syncEmergencyStop(ctx); err != nil {
		return err
	}

	var violations []string
	if !r.stopSent {
		rejected, err := r.forward(ctx)
		if err != nil {
			return err
		}
		violations = rejected
	}

	state, err := r.adapter.GetRobotState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read robot state: %w", err)
	}
	stateViolations := r.checkState(state)
	r.bus.Update(types.NamespaceRobotState, KeyCurrentState, state)
	r.bus.Update(types.NamespaceRobotState, KeyIsSafe, len(stateViolations) == 0)
	r.alert(append(violations, stateViolations...))
	return nil
}

// syncEmergencyStop sends the adapter stop once per latch and releases it
// when the latch clears. Caller holds mu.
func (r *Robot) syncEmergencyStop(ctx context.Context) error {
	halted := r.Halted()
	switch {
	case halted && !r.stopSent:
		err := r.adapter.SendEmergencyStop(ctx)
		r.count("emergency_stop", err)
		if err != nil {
			return fmt.Errorf("failed to send emergency stop: %w", err)
		}
		r.stopSent = true
		r.logger.Error().Msg("Emergency stop sent to robot")
	case !halted && r.stopSent:
		if c, ok := r.adapter.(adapter.EmergencyStopClearer); ok {
			if err := c.ClearEmergencyStop(ctx); err != nil {
				return fmt.Errorf("failed to clear emergency stop: %w", err)
			}
		}
		r.stopSent = false
		r.logger.Warn().Msg("Robot emergency stop released")
	}
	return nil
}

// forward sends the latest unseen command and returns the violations of a
// rejected one. Caller holds mu.
func (r *Robot) forward(ctx context.Context) ([]string, error) {
	cmd, ok := statebus.GetAs[Command](r.bus, types.NamespaceActionCommands, KeyCommand)
	if !ok || cmd.Seq == r.lastCommand {
		return nil, nil
	}
	r.lastCommand = cmd.Seq

	if violations := r.checkCommand(cmd.Joint); len(violations) > 0 {
		r.count("joint", errRejected)
		return violations, nil
	}

	err := r.adapter.SendJointCommand(ctx, cmd.Joint)
	r.count("joint", err)
	if err != nil && !errors.Is(err, adapter.ErrEmergencyStop) {
		return nil, fmt.Errorf("failed to send joint command: %w", err)
	}

	if cmd.Gripper != nil {
		err := r.adapter.SendGripperCommand(ctx, *cmd.Gripper)
		r.count("gripper", err)
		if err != nil && !errors.Is(err, adapter.ErrEmergencyStop) {
			return nil, fmt.Errorf("failed to send gripper command: %w", err)
		}
	}
	return nil, nil
}

var errRejected = errors.New("rejected by safety check")

func (r *Robot) count(kind string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, errRejected):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	metrics.RobotCommandsTotal.WithLabelValues(kind, result).Inc()
}

// checkCommand returns the joint limit violations of a command
func (r *Robot) checkCommand(cmd adapter.JointCommand) []string {
	var violations []string
	for i, p := range cmd.Positions {
		if i >= len(r.cfg.JointLimits) {
			break
		}
		lim := r.cfg.JointLimits[i]
		if p < lim[0] || p > lim[1] || math.IsNaN(p) {
			violations = append(violations, fmt.Sprintf("joint %d command out of limits: %.3f", i, p))
		}
	}
	return violations
}

// checkState returns the limit violations of the measured state
func (r *Robot) checkState(state adapter.RobotState) []string {
	var violations []string
	for i, p := range state.Joints.Positions {
		if i < len(r.cfg.JointLimits) {
			lim := r.cfg.JointLimits[i]
			if p < lim[0] || p > lim[1] {
				violations = append(violations, fmt.Sprintf("joint %d out of limits: %.3f", i, p))
			}
		}
	}
	for i, v := range state.Joints.Velocities {
		if i < len(r.cfg.MaxVelocities) && math.Abs(v) > r.cfg.MaxVelocities[i] {
			violations = append(violations, fmt.Sprintf("joint %d velocity exceeds limit: %.3f", i, v))
		}
	}
	for axis, name := range []string{"x", "y", "z"} {
		p := state.EndEffector.Position[axis]
		lim := r.cfg.Workspace[axis]
		if p < lim[0] || p > lim[1] {
			violations = append(violations, fmt.Sprintf("end effector %s out of workspace: %.3f", name, p))
		}
	}
	return violations
}

// alert publishes safety_alert when the violation set changes. Caller holds mu.
func (r *Robot) alert(violations []string) {
	summary := fmt.Sprint(violations)
	active := len(violations) > 0
	if active == r.alertActive && (!active || summary == r.alertSummary) {
		return
	}
	r.alertActive = active
	r.alertSummary = summary

	if active {
		r.logger.Warn().Strs("violations", violations).Msg("Safety violations detected")
	}
	r.bus.Update(types.NamespaceSystemStatus, types.KeySafetyAlert, types.SafetyAlert{
		Active:     active,
		Source:     NameRobot,
		Violations: violations,
		Timestamp:  time.Now(),
	})
}
