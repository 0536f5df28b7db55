// Package config loads runtime configuration from YAML or JSON files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	minStackSize     = 16 << 10
	maxStackSize     = 1 << 30
	defaultStackSize = 64 << 10
)

// Config is the effective runtime configuration.
type Config struct {
	// Threads is the number of schedulers, each on its own OS thread.
	// Zero means one per GOMAXPROCS.
	Threads int `json:"threads"`

	// StackSize is the default stack segment size for tasks, e.g. "64KiB".
	StackSize ByteSize `json:"stack_size"`

	// StackCacheLimit bounds the released stacks each scheduler keeps.
	StackCacheLimit int `json:"stack_cache_limit"`

	// HistoryCapacity bounds the exit history kept per scheduler.
	HistoryCapacity int `json:"history_capacity"`

	Log     LogConfig     `json:"log"`
	Metrics MetricsConfig `json:"metrics"`
	Offload OffloadConfig `json:"offload"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
	Listen    string `json:"listen"`
	// Interval between snapshot polls, e.g. "5s".
	Interval string `json:"interval"`
}

// PollInterval parses Interval, defaulting to 5s.
func (m MetricsConfig) PollInterval() (time.Duration, error) {
	return ParseDurationOrDefault("metrics.interval", m.Interval, 5*time.Second)
}

type OffloadConfig struct {
	// Workers for blocking work. Zero means one per GOMAXPROCS.
	Workers int `json:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Threads:         runtime.GOMAXPROCS(0),
		StackSize:       defaultStackSize,
		StackCacheLimit: 64,
		HistoryCapacity: 100,
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Namespace: "greenrt",
			Listen:    ":9090",
			Interval:  "5s",
		},
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	def := Default()
	if c.Threads <= 0 {
		c.Threads = def.Threads
	}
	if c.StackSize == 0 {
		c.StackSize = def.StackSize
	}
	if c.StackCacheLimit == 0 {
		c.StackCacheLimit = def.StackCacheLimit
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
	if c.Offload.Workers <= 0 {
		c.Offload.Workers = runtime.GOMAXPROCS(0)
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads: must be >= 1, got %d", c.Threads))
	}
	if c.StackSize < minStackSize || c.StackSize > maxStackSize {
		errs = append(errs, fmt.Errorf("stack_size: must be between %s and %s, got %s",
			ByteSize(minStackSize), ByteSize(maxStackSize), c.StackSize))
	}
	if c.StackCacheLimit < 0 {
		errs = append(errs, fmt.Errorf("stack_cache_limit: must be >= 0, got %d", c.StackCacheLimit))
	}
	if c.HistoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("history_capacity: must be >= 0, got %d", c.HistoryCapacity))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be console or json, got %q", c.Log.Format))
	}
	if _, err := c.Metrics.PollInterval(); err != nil {
		errs = append(errs, err)
	}
	if c.Offload.Workers < 0 {
		errs = append(errs, fmt.Errorf("offload.workers: must be >= 0, got %d", c.Offload.Workers))
	}
	return errors.Join(errs...)
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
