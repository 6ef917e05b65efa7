package stages

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
)

// Input publishes operator targets. Without an operator it cycles through
// the configured waypoints, dwelling on each.
type Input struct {
	bus *statebus.Bus
	cfg Config

	mu      sync.Mutex
	index   int
	seq     uint64
	changed time.Time
	pending []Target
}

// NewInput creates the input stage
func NewInput(bus *statebus.Bus, cfg Config) *Input {
	return &Input{bus: bus, cfg: cfg}
}

// Init implements module.Task
func (in *Input) Init(ctx context.Context) error {
	return nil
}

// Submit queues an explicit target ahead of the waypoint script
func (in *Input) Submit(positions []float64, gripper float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending = append(in.pending, Target{
		Positions: append([]float64(nil), positions...),
		Gripper:   gripper,
	})
}

// Run implements module.Task
func (in *Input) Run(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	now := time.Now()
	var next *Target

	switch {
	case len(in.pending) > 0:
		t := in.pending[0]
		in.pending = in.pending[1:]
		next = &t
	case len(in.cfg.Waypoints) == 0:
		return nil
	case in.changed.IsZero():
		next = &Target{Positions: in.cfg.Waypoints[in.index], Gripper: in.cfg.Gripper}
	case now.Sub(in.changed) >= in.cfg.Dwell:
		in.index = (in.index + 1) % len(in.cfg.Waypoints)
		next = &Target{Positions: in.cfg.Waypoints[in.index], Gripper: in.cfg.Gripper}
	}
	if next == nil {
		return nil
	}

	in.seq++
	in.changed = now
	next.Seq = in.seq
	next.Positions = append([]float64(nil), next.Positions...)
	next.Timestamp = now
	in.bus.Update(types.NamespaceInputBuffer, KeyTarget, *next)
	return nil
}

// Reset implements module.Resetter
func (in *Input) Reset() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending = nil
	in.index = 0
	in.changed = time.Time{}
	return nil
}

// QueueSize implements module.QueueReporter
func (in *Input) QueueSize() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}
