package module

import "time"

// Config holds the tunables of one module runtime
type Config struct {
	Name    string
	Enabled bool

	// UpdateRate is the target cycle frequency in Hz
	UpdateRate        float64
	HeartbeatInterval time.Duration

	// BackoffThreshold is the number of consecutive errors tolerated
	// before each further error delays the next cycle
	BackoffThreshold int
	// UnhealthyThreshold is the consecutive error count at which
	// IsHealthy reports false
	UnhealthyThreshold int
	BackoffStep        time.Duration
	MaxBackoff         time.Duration

	StopTimeout time.Duration
	WindowSize  int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		Enabled:            true,
		UpdateRate:         10,
		HeartbeatInterval:  time.Second,
		BackoffThreshold:   3,
		UnhealthyThreshold: 5,
		BackoffStep:        100 * time.Millisecond,
		MaxBackoff:         time.Second,
		StopTimeout:        5 * time.Second,
		WindowSize:         100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Name)
	if c.UpdateRate <= 0 {
		c.UpdateRate = d.UpdateRate
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.BackoffThreshold <= 0 {
		c.BackoffThreshold = d.BackoffThreshold
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = d.UnhealthyThreshold
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = d.BackoffStep
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	return c
}

// Backoff returns the delay applied after the given number of consecutive
// errors: nothing up to the threshold, then consecutive×step capped at max.
// Unset fields take their defaults.
func (c Config) Backoff(consecutive uint64) time.Duration {
	c = c.withDefaults()
	if consecutive <= uint64(c.BackoffThreshold) {
		return 0
	}
	if consecutive >= uint64(c.MaxBackoff/c.BackoffStep) {
		return c.MaxBackoff
	}
	return time.Duration(consecutive) * c.BackoffStep
}
