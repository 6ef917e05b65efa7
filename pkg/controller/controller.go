package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/api"
	"github.com/cuemby/rover/pkg/config"
	"github.com/cuemby/rover/pkg/events"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/module"
	"github.com/cuemby/rover/pkg/stages"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/storage"
	"github.com/cuemby/rover/pkg/supervisor"
	"github.com/rs/zerolog"
)

// Controller owns every long-lived component of a running rover
type Controller struct {
	cfg    *config.Config
	logger zerolog.Logger

	Bus        *statebus.Bus
	Adapter    *adapter.Sim
	Supervisor *supervisor.Supervisor
	Runtimes   map[string]*module.Runtime
	Input      *stages.Input

	store      *storage.BoltStore
	journal    *storage.Journal
	broker     *events.Broker
	collector  *metrics.Collector
	supRuntime *module.Runtime
	httpAPI    *api.Server
	grpcHealth *api.HealthService
	eventsSub  events.Subscriber
	eventsDone chan struct{}

	mu      sync.Mutex
	started bool
}

// New assembles a controller from configuration without starting anything
func New(cfg *config.Config, version string) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal store: %w", err)
	}

	metrics.SetVersion(version)
	metrics.SetCriticalComponents(cfg.CriticalModules())

	c := &Controller{
		cfg:        cfg,
		logger:     log.WithComponent("controller"),
		Bus:        statebus.New(),
		Adapter:    adapter.NewSim(cfg.SimSettings()),
		Runtimes:   make(map[string]*module.Runtime),
		store:      store,
		journal:    storage.NewJournal(store, 0),
		broker:     events.NewBroker(),
		eventsDone: make(chan struct{}),
	}
	c.Bus.SetPersister(c.journal)
	c.collector = metrics.NewCollector(c.Bus, 0)

	c.Supervisor = supervisor.New(cfg.SupervisorSettings(), c.Bus)
	c.Supervisor.SetBroker(c.broker)
	c.Supervisor.Handler().AddListener(c.journal.RecordFailure)

	pipeline := cfg.PipelineSettings()
	c.Input = stages.NewInput(c.Bus, pipeline)
	tasks := map[string]module.Task{
		stages.NameInput:  c.Input,
		stages.NameSense:  stages.NewSense(c.Bus, c.Adapter),
		stages.NamePlan:   stages.NewPlan(c.Bus, pipeline),
		stages.NameAct:    stages.NewAct(c.Bus),
		stages.NameRobot:  stages.NewRobot(c.Bus, c.Adapter, pipeline),
		stages.NameOutput: stages.NewOutput(c.Bus),
	}
	runtimes := make([]*module.Runtime, 0, len(stages.Names))
	for _, name := range stages.Names {
		rt := module.New(cfg.ModuleSettings(name), tasks[name], c.Bus)
		rt.SetBroker(c.broker)
		if err := c.Supervisor.Register(name, rt); err != nil {
			_ = store.Close()
			return nil, err
		}
		c.Runtimes[name] = rt
		runtimes = append(runtimes, rt)
	}
	c.supRuntime = module.New(cfg.ModuleSettings(config.SupervisorModule), c.Supervisor, c.Bus)
	c.supRuntime.SetBroker(c.broker)

	if cfg.API.GRPCAddr != "" {
		c.grpcHealth = api.NewHealthService(c.Bus)
		c.Supervisor.AddSink(c.grpcHealth)
	}
	if cfg.API.HTTPAddr != "" {
		c.httpAPI = api.NewServer(c.Supervisor, c.Bus, append(runtimes, c.supRuntime)...)
	}
	return c, nil
}

// Start brings the controller up: persistence and events first, then the
// adapter and stages, then supervision and the operator surfaces
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.journal.Start()
	c.broker.Start()
	c.eventsSub = c.broker.Subscribe()
	go c.logEvents(c.eventsSub)
	c.collector.Start()

	if err := c.Adapter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect adapter: %w", err)
	}

	for _, name := range stages.Names {
		rt := c.Runtimes[name]
		if !rt.Enabled() {
			c.logger.Warn().Str("module", name).Msg("Module disabled, not starting")
			continue
		}
		if err := rt.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
	}
	if err := c.supRuntime.Start(); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	if c.grpcHealth != nil {
		if err := c.grpcHealth.Start(c.cfg.API.GRPCAddr); err != nil {
			return fmt.Errorf("failed to start gRPC health service: %w", err)
		}
	}
	if c.httpAPI != nil {
		if err := c.httpAPI.Start(c.cfg.API.HTTPAddr); err != nil {
			return fmt.Errorf("failed to start operator API: %w", err)
		}
	}

	c.logger.Info().Int("modules", len(c.Runtimes)).Msg("Controller started")
	return nil
}

// Apply updates live settings from a reloaded configuration. Only the log
// level, module enablement and module rates take effect without a restart.
// Enablement is applied only where the file changed it, so a module
// isolated by recovery stays isolated across unrelated edits.
func (c *Controller) Apply(cfg *config.Config) {
	c.mu.Lock()
	prev := c.cfg
	c.cfg = cfg
	c.mu.Unlock()

	log.SetLevel(log.Level(cfg.Log.Level))
	for name, rt := range c.Runtimes {
		mc, pc := cfg.ModuleSettings(name), prev.ModuleSettings(name)
		// Rate and enablement change only when their configured value did;
		// a degraded or isolated module otherwise keeps its state.
		if mc.UpdateRate != pc.UpdateRate {
			rt.SetUpdateRate(mc.UpdateRate)
		}
		if mc.Enabled == pc.Enabled {
			continue
		}
		rt.SetEnabled(mc.Enabled)
		if mc.Enabled {
			if err := rt.Start(); err != nil {
				c.logger.Error().Err(err).Str("module", name).Msg("Failed to start re-enabled module")
			}
		} else if err := rt.Stop(); err != nil {
			c.logger.Error().Err(err).Str("module", name).Msg("Failed to stop disabled module")
		}
	}
	c.logger.Info().Msg("Configuration applied")
}

// Stop shuts everything down in reverse order. Errors are collected so
// every component gets a chance to stop.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return c.store.Close()
	}

	var errs []error

	if c.httpAPI != nil {
		if err := c.httpAPI.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("operator API: %w", err))
		}
	}
	if c.grpcHealth != nil {
		c.grpcHealth.Stop()
	}

	if err := c.supRuntime.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}
	for i := len(stages.Names) - 1; i >= 0; i-- {
		name := stages.Names[i]
		if err := c.Runtimes[name].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := c.Adapter.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("adapter: %w", err))
	}

	c.collector.Stop()
	c.broker.Unsubscribe(c.eventsSub)
	<-c.eventsDone
	c.broker.Stop()
	c.journal.Stop()
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal store: %w", err))
	}

	if dropped := c.journal.Dropped(); dropped > 0 {
		c.logger.Warn().Uint64("dropped", dropped).Msg("Journal dropped entries under load")
	}
	c.logger.Info().Msg("Controller stopped")
	return errors.Join(errs...)
}

// logEvents mirrors broker events into the log until unsubscribed
func (c *Controller) logEvents(sub events.Subscriber) {
	defer close(c.eventsDone)
	logger := log.WithComponent("events")
	for ev := range sub {
		logger.Info().
			Str("event", string(ev.Type)).
			Str("module", ev.Module).
			Str("id", ev.ID).
			Msg(ev.Message)
	}
}
