package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/rover/pkg/adapter"
	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/module"
	"github.com/cuemby/rover/pkg/stages"
	"github.com/cuemby/rover/pkg/supervisor"
	"gopkg.in/yaml.v3"
)

// SupervisorModule is the name the supervisor runtime registers under
const SupervisorModule = "supervisor"

// Config is the controller configuration file
type Config struct {
	Log        LogConfig               `yaml:"log"`
	DataDir    string                  `yaml:"data_dir"`
	API        APIConfig               `yaml:"api"`
	Supervisor SupervisorConfig        `yaml:"supervisor"`
	Recovery   RecoveryConfig          `yaml:"recovery"`
	Modules    map[string]ModuleConfig `yaml:"modules"`
	Adapter    AdapterConfig           `yaml:"adapter"`
	Pipeline   PipelineConfig          `yaml:"pipeline"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// APIConfig holds listen addresses; an empty address disables the server
type APIConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// SupervisorConfig holds health check settings
type SupervisorConfig struct {
	CheckInterval             time.Duration `yaml:"check_interval"`
	AutoRecovery              bool          `yaml:"auto_recovery"`
	HeartbeatTimeout          time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatWarning          time.Duration `yaml:"heartbeat_warning"`
	ErrorRateThreshold        float64       `yaml:"error_rate_threshold"`
	ConsecutiveErrorThreshold uint64        `yaml:"consecutive_error_threshold"`
	ProcessingTimeThreshold   time.Duration `yaml:"processing_time_threshold"`
	QueueOverflowThreshold    int           `yaml:"queue_overflow_threshold"`
	CriticalModules           []string      `yaml:"critical_modules,omitempty"`
}

// RecoveryConfig holds failure handler limits
type RecoveryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	Cooldown     time.Duration `yaml:"cooldown"`
	RestartPause time.Duration `yaml:"restart_pause"`
}

// ModuleConfig overrides runtime settings of one stage
type ModuleConfig struct {
	Enabled           *bool         `yaml:"enabled,omitempty"`
	UpdateRate        float64       `yaml:"update_rate,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	StopTimeout       time.Duration `yaml:"stop_timeout,omitempty"`
}

// AdapterConfig selects and tunes the robot backend
type AdapterConfig struct {
	Type         string        `yaml:"type"`
	JointNames   []string      `yaml:"joint_names,omitempty"`
	TimeConstant time.Duration `yaml:"time_constant,omitempty"`
}

// PipelineConfig tunes the control stages
type PipelineConfig struct {
	Waypoints     [][]float64   `yaml:"waypoints,omitempty"`
	Dwell         time.Duration `yaml:"dwell"`
	MaxStep       float64       `yaml:"max_step"`
	Tolerance     float64       `yaml:"tolerance"`
	JointLimits   [][2]float64  `yaml:"joint_limits,omitempty"`
	MaxVelocities []float64     `yaml:"max_velocities,omitempty"`
}

var defaultRates = map[string]float64{
	stages.NameInput:  20,
	stages.NameSense:  100,
	stages.NamePlan:   50,
	stages.NameAct:    100,
	stages.NameRobot:  100,
	stages.NameOutput: 50,
}

// Default returns the built-in configuration
func Default() *Config {
	sup := supervisor.DefaultConfig()
	pipe := stages.DefaultConfig()

	modules := make(map[string]ModuleConfig, len(defaultRates))
	for name, rate := range defaultRates {
		modules[name] = ModuleConfig{UpdateRate: rate}
	}

	return &Config{
		Log:     LogConfig{Level: string(log.InfoLevel)},
		DataDir: "./rover-data",
		API: APIConfig{
			HTTPAddr: "127.0.0.1:9090",
			GRPCAddr: "127.0.0.1:9091",
		},
		Supervisor: SupervisorConfig{
			CheckInterval:             sup.CheckInterval,
			AutoRecovery:              sup.AutoRecovery,
			HeartbeatTimeout:          sup.Health.HeartbeatTimeout,
			HeartbeatWarning:          sup.Health.HeartbeatWarning,
			ErrorRateThreshold:        sup.Health.ErrorRateThreshold,
			ConsecutiveErrorThreshold: sup.Health.ConsecutiveErrorThreshold,
			ProcessingTimeThreshold:   sup.Health.ProcessingTimeThreshold,
			QueueOverflowThreshold:    sup.Health.QueueOverflowThreshold,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:  sup.Recovery.MaxAttempts,
			Cooldown:     sup.Recovery.Cooldown,
			RestartPause: sup.Recovery.RestartPause,
		},
		Modules: modules,
		Adapter: AdapterConfig{Type: "sim"},
		Pipeline: PipelineConfig{
			Waypoints:     pipe.Waypoints,
			Dwell:         pipe.Dwell,
			MaxStep:       pipe.MaxStep,
			Tolerance:     pipe.Tolerance,
			JointLimits:   pipe.JointLimits,
			MaxVelocities: pipe.MaxVelocities,
		},
	}
}

// Load reads a YAML file over the defaults. Fields absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the controller cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Supervisor.CheckInterval <= 0 {
		errs = append(errs, errors.New("supervisor.check_interval must be positive"))
	}
	if c.Supervisor.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("supervisor.heartbeat_timeout must be positive"))
	}
	if c.Supervisor.HeartbeatWarning > c.Supervisor.HeartbeatTimeout {
		errs = append(errs, errors.New("supervisor.heartbeat_warning must not exceed heartbeat_timeout"))
	}
	if c.Recovery.MaxAttempts < 1 {
		errs = append(errs, errors.New("recovery.max_attempts must be at least 1"))
	}
	if c.Recovery.Cooldown < 0 {
		errs = append(errs, errors.New("recovery.cooldown must not be negative"))
	}
	for name, m := range c.Modules {
		if _, ok := defaultRates[name]; !ok {
			errs = append(errs, fmt.Errorf("modules.%s: unknown module", name))
		}
		if m.UpdateRate < 0 {
			errs = append(errs, fmt.Errorf("modules.%s.update_rate must not be negative", name))
		}
	}
	if c.Adapter.Type != "sim" {
		errs = append(errs, fmt.Errorf("adapter.type %q is not supported", c.Adapter.Type))
	}
	if c.Pipeline.MaxStep <= 0 {
		errs = append(errs, errors.New("pipeline.max_step must be positive"))
	}
	for i, lim := range c.Pipeline.JointLimits {
		if lim[0] >= lim[1] {
			errs = append(errs, fmt.Errorf("pipeline.joint_limits[%d]: min must be below max", i))
		}
	}
	for i, wp := range c.Pipeline.Waypoints {
		for j, p := range wp {
			if j < len(c.Pipeline.JointLimits) {
				if lim := c.Pipeline.JointLimits[j]; p < lim[0] || p > lim[1] {
					errs = append(errs, fmt.Errorf("pipeline.waypoints[%d][%d] outside joint limits", i, j))
				}
			}
		}
	}

	return errors.Join(errs...)
}

// LogSettings returns the pkg/log settings
func (c *Config) LogSettings() log.Config {
	return log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// SupervisorSettings returns the supervisor and recovery settings
func (c *Config) SupervisorSettings() supervisor.Config {
	sc := supervisor.DefaultConfig()
	sc.CheckInterval = c.Supervisor.CheckInterval
	sc.AutoRecovery = c.Supervisor.AutoRecovery
	sc.Health.HeartbeatTimeout = c.Supervisor.HeartbeatTimeout
	sc.Health.HeartbeatWarning = c.Supervisor.HeartbeatWarning
	sc.Health.ErrorRateThreshold = c.Supervisor.ErrorRateThreshold
	sc.Health.ConsecutiveErrorThreshold = c.Supervisor.ConsecutiveErrorThreshold
	sc.Health.ProcessingTimeThreshold = c.Supervisor.ProcessingTimeThreshold
	sc.Health.QueueOverflowThreshold = c.Supervisor.QueueOverflowThreshold
	sc.Recovery.MaxAttempts = c.Recovery.MaxAttempts
	sc.Recovery.Cooldown = c.Recovery.Cooldown
	sc.Recovery.RestartPause = c.Recovery.RestartPause
	return sc
}

// ModuleSettings returns the runtime settings of a stage
func (c *Config) ModuleSettings(name string) module.Config {
	mc := module.DefaultConfig(name)
	if rate, ok := defaultRates[name]; ok {
		mc.UpdateRate = rate
	}
	if name == SupervisorModule {
		mc.UpdateRate = 1 / c.Supervisor.CheckInterval.Seconds()
	}

	m, ok := c.Modules[name]
	if !ok {
		return mc
	}
	if m.Enabled != nil {
		mc.Enabled = *m.Enabled
	}
	if m.UpdateRate > 0 {
		mc.UpdateRate = m.UpdateRate
	}
	if m.HeartbeatInterval > 0 {
		mc.HeartbeatInterval = m.HeartbeatInterval
	}
	if m.StopTimeout > 0 {
		mc.StopTimeout = m.StopTimeout
	}
	return mc
}

// SimSettings returns the simulated adapter settings
func (c *Config) SimSettings() adapter.SimConfig {
	sc := adapter.DefaultSimConfig()
	if len(c.Adapter.JointNames) > 0 {
		sc.JointNames = c.Adapter.JointNames
		sc.JointLimits = c.Pipeline.JointLimits
	}
	if c.Adapter.TimeConstant > 0 {
		sc.TimeConstant = c.Adapter.TimeConstant
	}
	return sc
}

// PipelineSettings returns the stage settings
func (c *Config) PipelineSettings() stages.Config {
	sc := stages.DefaultConfig()
	sc.Waypoints = c.Pipeline.Waypoints
	sc.Dwell = c.Pipeline.Dwell
	sc.MaxStep = c.Pipeline.MaxStep
	sc.Tolerance = c.Pipeline.Tolerance
	if len(c.Pipeline.JointLimits) > 0 {
		sc.JointLimits = c.Pipeline.JointLimits
	}
	if len(c.Pipeline.MaxVelocities) > 0 {
		sc.MaxVelocities = c.Pipeline.MaxVelocities
	}
	return sc
}

// CriticalModules returns the modules readiness depends on
func (c *Config) CriticalModules() []string {
	if len(c.Supervisor.CriticalModules) > 0 {
		return c.Supervisor.CriticalModules
	}
	return []string{stages.NameSense, stages.NameAct, stages.NameRobot}
}

