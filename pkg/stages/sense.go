package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

// Sense reads the robot sensors into sensor_state
type Sense struct {
	bus     *statebus.Bus
	adapter adapter.Adapter
	logger  zerolog.Logger
}

// NewSense creates the sense stage
func NewSense(bus *statebus.Bus, a adapter.Adapter) *Sense {
	return &Sense{bus: bus, adapter: a, logger: log.WithModule(NameSense)}
}

// Init connects the adapter if needed
func (s *Sense) Init(ctx context.Context) error {
	if s.adapter.IsConnected() {
		return nil
	}
	if err := s.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect adapter: %w", err)
	}
	return nil
}

// Run implements module.Task
func (s *Sense) Run(ctx context.Context) error {
	bundle, err := s.adapter.ReadSensors(ctx)
	if errors.Is(err, adapter.ErrNotConnected) {
		s.logger.Warn().Msg("Adapter disconnected, reconnecting")
		if cerr := s.adapter.Connect(ctx); cerr != nil {
			return fmt.Errorf("failed to reconnect adapter: %w", cerr)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read sensors: %w", err)
	}

	s.bus.Update(types.NamespaceSensorState, KeyBundle, bundle)
	s.bus.Update(types.NamespaceSensorState, KeyJoints, bundle.Joints)
	return nil
}
