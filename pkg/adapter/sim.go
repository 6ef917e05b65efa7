package adapter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/log"
	"github.com/rs/zerolog"
)

// DefaultJointNames are the joints of the simulated six-axis arm
var DefaultJointNames = []string{
	"shoulder_pan_joint",
	"shoulder_lift_joint",
	"elbow_joint",
	"wrist_1_joint",
	"wrist_2_joint",
	"wrist_3_joint",
}

// SimConfig configures the simulated adapter
type SimConfig struct {
	JointNames []string
	// JointLimits holds the [min, max] position of each joint in radians
	JointLimits [][2]float64
	// TimeConstant is the first-order response time of joints and gripper
	TimeConstant time.Duration
}

// DefaultSimConfig returns a six-joint arm with ±π limits
func DefaultSimConfig() SimConfig {
	limits := make([][2]float64, len(DefaultJointNames))
	for i := range limits {
		limits[i] = [2]float64{-math.Pi, math.Pi}
	}
	return SimConfig{
		JointNames:   append([]string(nil), DefaultJointNames...),
		JointLimits:  limits,
		TimeConstant: 100 * time.Millisecond,
	}
}

// Sim is an in-memory robot with first-order joint dynamics
type Sim struct {
	cfg    SimConfig
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool
	estop     bool
	positions []float64
	targets   []float64
	vel       []float64
	pose      Pose
	poseGoal  Pose
	gripper   float64
	gripGoal  float64
	lastStep  time.Time

	commands    uint64
	errors      uint64
	lastCommand time.Time
}

// NewSim creates a simulated adapter at the home position
func NewSim(cfg SimConfig) *Sim {
	if len(cfg.JointNames) == 0 {
		cfg = DefaultSimConfig()
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = DefaultSimConfig().TimeConstant
	}
	n := len(cfg.JointNames)
	for len(cfg.JointLimits) < n {
		cfg.JointLimits = append(cfg.JointLimits, [2]float64{-math.Pi, math.Pi})
	}
	home := Pose{Position: [3]float64{0.5, 0, 0.5}, Orientation: [4]float64{0, 0, 0, 1}}
	return &Sim{
		cfg:       cfg,
		logger:    log.WithComponent("adapter"),
		positions: make([]float64, n),
		targets:   make([]float64, n),
		vel:       make([]float64, n),
		pose:      home,
		poseGoal:  home,
	}
}

// Connect implements Adapter
func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.lastStep = time.Now()
	s.logger.Info().Int("joints", len(s.cfg.JointNames)).Msg("Simulated robot connected")
	return nil
}

// Disconnect implements Adapter
func (s *Sim) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// IsConnected implements Adapter
func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// step advances the simulation to now. Caller holds mu.
func (s *Sim) step(now time.Time) {
	dt := now.Sub(s.lastStep)
	s.lastStep = now
	if dt <= 0 {
		return
	}
	alpha := 1 - math.Exp(-dt.Seconds()/s.cfg.TimeConstant.Seconds())

	for i := range s.positions {
		delta := (s.targets[i] - s.positions[i]) * alpha
		s.positions[i] += delta
		s.vel[i] = delta / dt.Seconds()
	}
	for i := range s.pose.Position {
		s.pose.Position[i] += (s.poseGoal.Position[i] - s.pose.Position[i]) * alpha
	}
	s.pose.Orientation = s.poseGoal.Orientation
	s.gripper += (s.gripGoal - s.gripper) * alpha
}

func (s *Sim) jointState() JointState {
	return JointState{
		Names:      append([]string(nil), s.cfg.JointNames...),
		Positions:  append([]float64(nil), s.positions...),
		Velocities: append([]float64(nil), s.vel...),
		Efforts:    make([]float64, len(s.positions)),
	}
}

// ReadSensors implements Adapter
func (s *Sim) ReadSensors(ctx context.Context) (SensorBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return SensorBundle{}, ErrNotConnected
	}
	now := time.Now()
	s.step(now)
	return SensorBundle{
		Joints:      s.jointState(),
		EndEffector: s.pose,
		Gripper:     s.gripper,
		Timestamp:   now,
	}, nil
}

// GetRobotState implements Adapter
func (s *Sim) GetRobotState(ctx context.Context) (RobotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return RobotState{}, ErrNotConnected
	}
	now := time.Now()
	s.step(now)

	moving := false
	for _, v := range s.vel {
		if math.Abs(v) > 1e-3 {
			moving = true
			break
		}
	}
	return RobotState{
		Joints:        s.jointState(),
		EndEffector:   s.pose,
		Gripper:       s.gripper,
		Moving:        moving,
		EmergencyStop: s.estop,
		Timestamp:     now,
	}, nil
}

// checkCommand verifies the adapter accepts commands. Caller holds mu.
func (s *Sim) checkCommand() error {
	if !s.connected {
		s.errors++
		return ErrNotConnected
	}
	if s.estop {
		s.errors++
		return ErrEmergencyStop
	}
	return nil
}

// ValidateJointCommand checks names and joint limits
func (s *Sim) ValidateJointCommand(cmd JointCommand) error {
	if len(cmd.Names) != len(cmd.Positions) {
		return fmt.Errorf("%w: %d names for %d positions", ErrInvalidCommand, len(cmd.Names), len(cmd.Positions))
	}
	for i, name := range cmd.Names {
		idx := s.jointIndex(name)
		if idx < 0 {
			return fmt.Errorf("%w: unknown joint %s", ErrInvalidCommand, name)
		}
		lim := s.cfg.JointLimits[idx]
		if p := cmd.Positions[i]; p < lim[0] || p > lim[1] || math.IsNaN(p) {
			return fmt.Errorf("%w: %s position %.3f outside [%.3f, %.3f]", ErrInvalidCommand, name, p, lim[0], lim[1])
		}
	}
	return nil
}

func (s *Sim) jointIndex(name string) int {
	for i, n := range s.cfg.JointNames {
		if n == name {
			return i
		}
	}
	return -1
}

// SendJointCommand implements Adapter
func (s *Sim) SendJointCommand(ctx context.Context, cmd JointCommand) error {
	if err := s.ValidateJointCommand(cmd); err != nil {
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCommand(); err != nil {
		return err
	}

	s.step(time.Now())
	for i, name := range cmd.Names {
		s.targets[s.jointIndex(name)] = cmd.Positions[i]
	}
	s.record()
	return nil
}

// SendCartesianCommand implements Adapter. The simulation moves the end
// effector directly without solving joint positions.
func (s *Sim) SendCartesianCommand(ctx context.Context, cmd CartesianCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCommand(); err != nil {
		return err
	}

	s.step(time.Now())
	s.poseGoal = cmd.Pose
	s.record()
	return nil
}

// SendGripperCommand implements Adapter
func (s *Sim) SendGripperCommand(ctx context.Context, cmd GripperCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCommand(); err != nil {
		return err
	}
	if cmd.Position < 0 || cmd.Position > 1 || cmd.Force < 0 {
		s.errors++
		return fmt.Errorf("%w: gripper position %.2f force %.2f", ErrInvalidCommand, cmd.Position, cmd.Force)
	}

	s.step(time.Now())
	s.gripGoal = cmd.Position
	s.record()
	return nil
}

// SendEmergencyStop implements Adapter. Motion freezes at the current
// position and further commands are refused until cleared.
func (s *Sim) SendEmergencyStop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step(time.Now())
	s.estop = true
	copy(s.targets, s.positions)
	s.poseGoal = s.pose
	s.gripGoal = s.gripper
	for i := range s.vel {
		s.vel[i] = 0
	}
	s.logger.Error().Msg("Simulated robot emergency stop")
	return nil
}

// ClearEmergencyStop implements EmergencyStopClearer
func (s *Sim) ClearEmergencyStop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estop = false
	s.logger.Warn().Msg("Simulated robot emergency stop cleared")
	return nil
}

// record counts an accepted command. Caller holds mu.
func (s *Sim) record() {
	s.commands++
	s.lastCommand = time.Now()
}

// Status implements Adapter
func (s *Sim) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Name:          "sim",
		Connected:     s.connected,
		EmergencyStop: s.estop,
		CommandCount:  s.commands,
		ErrorCount:    s.errors,
		LastCommand:   s.lastCommand,
	}
}
