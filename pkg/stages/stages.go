package stages

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
)

// Stage names, in pipeline order
const (
	NameInput  = "input"
	NameSense  = "sense"
	NamePlan   = "plan"
	NameAct    = "act"
	NameRobot  = "robot"
	NameOutput = "output"
)

// Names lists every stage in pipeline order
var Names = []string{NameInput, NameSense, NamePlan, NameAct, NameRobot, NameOutput}

// StateBus keys written by the stages
const (
	KeyTarget       = "target"        // input_buffer
	KeyBundle       = "bundle"        // sensor_state
	KeyJoints       = "joints"        // sensor_state
	KeySetpoint     = "setpoint"      // planned_trajectory
	KeyCommand      = "command"       // action_commands
	KeyHalted       = "halted"        // action_commands
	KeyCurrentState = "current_state" // robot_state
	KeyIsSafe       = "is_safe"       // robot_state
	KeyStatus       = "status"        // output_signals
)

// Target is an operator goal for the arm
type Target struct {
	Seq       uint64    `json:"seq"`
	Positions []float64 `json:"positions"`
	Gripper   float64   `json:"gripper"`
	Timestamp time.Time `json:"timestamp"`
}

// Setpoint is the next position the planner wants the arm at
type Setpoint struct {
	Seq       uint64    `json:"seq"`
	Names     []string  `json:"names"`
	Positions []float64 `json:"positions"`
	Gripper   float64   `json:"gripper"`
	Remaining float64   `json:"remaining"` // largest joint distance left to the target
	Timestamp time.Time `json:"timestamp"`
}

// Command is what Act asks the Robot stage to execute
type Command struct {
	Seq       uint64                  `json:"seq"`
	Joint     adapter.JointCommand    `json:"joint"`
	Gripper   *adapter.GripperCommand `json:"gripper,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Signal is the externally visible controller output
type Signal struct {
	Positions     []float64  `json:"positions"`
	EndEffector   [3]float64 `json:"end_effector"`
	Gripper       float64    `json:"gripper"`
	Moving        bool       `json:"moving"`
	Safe          bool       `json:"safe"`
	EmergencyStop bool       `json:"emergency_stop"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Config tunes the stage pipeline
type Config struct {
	// Waypoints are joint-space targets the input stage cycles through
	Waypoints [][]float64
	Dwell     time.Duration
	Gripper   float64

	// MaxStep is the largest per-cycle joint move the planner emits, in radians
	MaxStep float64
	// Tolerance below which a joint is considered at its target
	Tolerance float64

	JointLimits   [][2]float64
	MaxVelocities []float64
	// Workspace holds [min, max] for the end effector x, y and z
	Workspace [3][2]float64
}

// DefaultConfig returns limits for the six-joint simulated arm
func DefaultConfig() Config {
	n := len(adapter.DefaultJointNames)
	limits := make([][2]float64, n)
	vel := make([]float64, n)
	for i := 0; i < n; i++ {
		limits[i] = [2]float64{-3.14, 3.14}
		vel[i] = 1.0
	}
	return Config{
		Waypoints: [][]float64{
			{0, 0, 0, 0, 0, 0},
			{0.5, -0.3, 0.6, 0, 0.2, 0},
		},
		Dwell:         3 * time.Second,
		MaxStep:       0.02,
		Tolerance:     0.01,
		JointLimits:   limits,
		MaxVelocities: vel,
		Workspace:     [3][2]float64{{-1, 1}, {-1, 1}, {0, 2}},
	}
}

// latch follows the system-wide emergency stop. It subscribes once for the
// lifetime of the stage so restarts of the runtime keep it current.
type latch struct {
	active atomic.Bool
}

func newLatch(bus *statebus.Bus) *latch {
	l := &latch{}
	bus.Subscribe(types.NamespaceSystemStatus, func(_, key string, value interface{}) {
		if active, ok := statebus.IsEmergencyStop(key, value); ok {
			l.active.Store(active)
		}
	})
	if _, active := bus.EmergencyStop(); active {
		l.active.Store(true)
	}
	return l
}

// Halted reports whether the emergency stop is latched
func (l *latch) Halted() bool {
	return l.active.Load()
}

func maxAbsDiff(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		if i >= len(b) {
			break
		}
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}
