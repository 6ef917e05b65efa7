package adapter

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected   = errors.New("adapter not connected")
	ErrEmergencyStop  = errors.New("emergency stop active")
	ErrInvalidCommand = errors.New("invalid command")
)

// JointState is the measured state of every joint
type JointState struct {
	Names      []string  `json:"names"`
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities"`
	Efforts    []float64 `json:"efforts,omitempty"`
}

// Pose is an end-effector position and orientation quaternion (x, y, z, w)
type Pose struct {
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
}

// SensorBundle is one sensor read
type SensorBundle struct {
	Joints      JointState `json:"joints"`
	EndEffector Pose       `json:"end_effector"`
	Gripper     float64    `json:"gripper"`
	Timestamp   time.Time  `json:"timestamp"`
}

// RobotState is the adapter's view of the robot
type RobotState struct {
	Joints        JointState `json:"joints"`
	EndEffector   Pose       `json:"end_effector"`
	Gripper       float64    `json:"gripper"`
	Moving        bool       `json:"moving"`
	EmergencyStop bool       `json:"emergency_stop"`
	Timestamp     time.Time  `json:"timestamp"`
}

// JointCommand moves named joints to positions
type JointCommand struct {
	Names      []string  `json:"names"`
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities,omitempty"`
}

// CartesianCommand moves the end effector to a pose
type CartesianCommand struct {
	Pose     Pose    `json:"pose"`
	Velocity float64 `json:"velocity,omitempty"`
}

// GripperCommand sets the gripper opening (0 closed, 1 open)
type GripperCommand struct {
	Position float64 `json:"position"`
	Force    float64 `json:"force"`
}

// Status summarizes adapter activity
type Status struct {
	Name          string    `json:"name"`
	Connected     bool      `json:"connected"`
	EmergencyStop bool      `json:"emergency_stop"`
	CommandCount  uint64    `json:"command_count"`
	ErrorCount    uint64    `json:"error_count"`
	LastCommand   time.Time `json:"last_command,omitempty"`
}

// Adapter is the capability set a robot backend provides to the stages
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	ReadSensors(ctx context.Context) (SensorBundle, error)
	GetRobotState(ctx context.Context) (RobotState, error)
	SendJointCommand(ctx context.Context, cmd JointCommand) error
	SendCartesianCommand(ctx context.Context, cmd CartesianCommand) error
	SendGripperCommand(ctx context.Context, cmd GripperCommand) error
	SendEmergencyStop(ctx context.Context) error
	Status() Status
}

// EmergencyStopClearer is implemented by adapters that can release an
// emergency stop
type EmergencyStopClearer interface {
	ClearEmergencyStop(ctx context.Context) error
}
