package adapter

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedSim(t *testing.T) *Sim {
	t.Helper()
	cfg := DefaultSimConfig()
	cfg.TimeConstant = 10 * time.Millisecond
	s := NewSim(cfg)
	require.NoError(t, s.Connect(context.Background()))
	return s
}

func TestSimRequiresConnection(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	ctx := context.Background()

	assert.False(t, s.IsConnected())
	_, err := s.ReadSensors(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	err = s.SendJointCommand(ctx, JointCommand{Names: DefaultJointNames, Positions: make([]float64, 6)})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.IsConnected())
	require.NoError(t, s.Disconnect())
	assert.False(t, s.IsConnected())
}

func TestSimJointsConvergeToTarget(t *testing.T) {
	s := connectedSim(t)
	ctx := context.Background()

	target := []float64{0.5, -0.5, 1, 0, 0.25, -1}
	require.NoError(t, s.SendJointCommand(ctx, JointCommand{Names: DefaultJointNames, Positions: target}))

	assert.Eventually(t, func() bool {
		st, err := s.GetRobotState(ctx)
		if err != nil {
			return false
		}
		for i, p := range st.Joints.Positions {
			if math.Abs(p-target[i]) > 1e-3 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	status := s.Status()
	assert.EqualValues(t, 1, status.CommandCount)
	assert.False(t, status.LastCommand.IsZero())
}

func TestSimRejectsInvalidJointCommands(t *testing.T) {
	s := connectedSim(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  JointCommand
	}{
		{"length mismatch", JointCommand{Names: []string{"elbow_joint"}, Positions: []float64{0, 1}}},
		{"unknown joint", JointCommand{Names: []string{"knee"}, Positions: []float64{0}}},
		{"above limit", JointCommand{Names: []string{"elbow_joint"}, Positions: []float64{4}}},
		{"below limit", JointCommand{Names: []string{"elbow_joint"}, Positions: []float64{-4}}},
		{"nan", JointCommand{Names: []string{"elbow_joint"}, Positions: []float64{math.NaN()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.SendJointCommand(ctx, tt.cmd), ErrInvalidCommand)
		})
	}
	assert.EqualValues(t, len(tests), s.Status().ErrorCount)
	assert.Zero(t, s.Status().CommandCount)
}

func TestSimEmergencyStopFreezesAndRefuses(t *testing.T) {
	s := connectedSim(t)
	ctx := context.Background()

	require.NoError(t, s.SendEmergencyStop(ctx))

	st, err := s.GetRobotState(ctx)
	require.NoError(t, err)
	assert.True(t, st.EmergencyStop)
	assert.True(t, s.Status().EmergencyStop)

	err = s.SendJointCommand(ctx, JointCommand{Names: []string{"elbow_joint"}, Positions: []float64{1}})
	assert.ErrorIs(t, err, ErrEmergencyStop)
	assert.ErrorIs(t, s.SendGripperCommand(ctx, GripperCommand{Position: 1}), ErrEmergencyStop)
	assert.ErrorIs(t, s.SendCartesianCommand(ctx, CartesianCommand{}), ErrEmergencyStop)

	var clearer EmergencyStopClearer = s
	require.NoError(t, clearer.ClearEmergencyStop(ctx))
	assert.NoError(t, s.SendJointCommand(ctx, JointCommand{Names: []string{"elbow_joint"}, Positions: []float64{1}}))
}

func TestSimGripperAndCartesian(t *testing.T) {
	s := connectedSim(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.SendGripperCommand(ctx, GripperCommand{Position: 1.5}), ErrInvalidCommand)
	require.NoError(t, s.SendGripperCommand(ctx, GripperCommand{Position: 1, Force: 10}))

	goal := Pose{Position: [3]float64{0.2, 0.3, 0.4}, Orientation: [4]float64{0, 0, 0, 1}}
	require.NoError(t, s.SendCartesianCommand(ctx, CartesianCommand{Pose: goal}))

	assert.Eventually(t, func() bool {
		b, err := s.ReadSensors(ctx)
		if err != nil {
			return false
		}
		return math.Abs(b.Gripper-1) < 1e-3 && math.Abs(b.EndEffector.Position[2]-0.4) < 1e-3
	}, time.Second, 5*time.Millisecond)
}

var _ Adapter = (*Sim)(nil)
