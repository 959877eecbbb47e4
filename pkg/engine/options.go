package engine

import (
	"log/slog"
	"time"

	"renderflow/pkg/schedule"
)

// Config holds engine configuration.
type Config struct {
	// ExecutionTimeout demotes a running task to failed when no
	// progress update has arrived for this long. This is the only
	// failure detector for crashed executions.
	ExecutionTimeout time.Duration

	// JanitorSchedule is the sweep cadence of the liveness janitor.
	JanitorSchedule schedule.Schedule

	// OutputDir, when set, receives one <task_id>.png per artifact.
	OutputDir string

	// Parameter bounds checked at submission.
	MinDimension int
	MaxDimension int
	MaxSteps     int

	Logger *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ExecutionTimeout: 10 * time.Minute,
		JanitorSchedule:  schedule.Every(30 * time.Second),
		MinDimension:     64,
		MaxDimension:     2048,
		MaxSteps:         150,
		Logger:           slog.Default(),
	}
}

// Option modifies the engine configuration.
type Option func(*Config)

// WithExecutionTimeout sets the liveness timeout for running tasks.
func WithExecutionTimeout(d time.Duration) Option {
	return func(c *Config) { c.ExecutionTimeout = d }
}

// WithJanitorSchedule sets the janitor sweep cadence.
func WithJanitorSchedule(s schedule.Schedule) Option {
	return func(c *Config) { c.JanitorSchedule = s }
}

// WithOutputDir sets the artifact output directory.
func WithOutputDir(dir string) Option {
	return func(c *Config) { c.OutputDir = dir }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithDimensionBounds overrides the width/height bounds.
func WithDimensionBounds(min, max int) Option {
	return func(c *Config) {
		c.MinDimension = min
		c.MaxDimension = max
	}
}
