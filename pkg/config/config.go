// Package config loads the gateway configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"qrgate/pkg/health"
	"qrgate/pkg/models"
	"qrgate/pkg/registry"
	"qrgate/pkg/selection"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr            = ":8090"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultProbeRate       = 5 * time.Second
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type HealthConfig struct {
	Path                    string        `yaml:"path"`
	Interval                time.Duration `yaml:"interval"`
	ProbeFailureThreshold   int           `yaml:"probe_failure_threshold"`
	TrafficFailureThreshold int           `yaml:"traffic_failure_threshold"`
}

type StateConfig struct {
	// Path is the SQLite database file. Empty keeps state in memory only.
	Path string `yaml:"path"`
	Key  string `yaml:"key"`
}

type GatewayConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ProbeRate is the minimum spacing between on-demand probe rounds.
	ProbeRate time.Duration `yaml:"probe_rate"`
}

type Config struct {
	Health    HealthConfig      `yaml:"health"`
	State     StateConfig       `yaml:"state"`
	Gateway   GatewayConfig     `yaml:"gateway"`
	Endpoints []models.Endpoint `yaml:"endpoints"`
}

// Default returns a configuration with every tunable set and no endpoints.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads, expands and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in data, decodes it, applies
// defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} with values from the
// environment. The default applies when VAR is unset or empty.
func ExpandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasDefault := strings.Cut(ref, ":-")
		if value := os.Getenv(name); value != "" || !hasDefault {
			return value
		}
		return fallback
	})
}

// ApplyDefaults fills every zero-valued field.
func (c *Config) ApplyDefaults() {
	if c.Health.Path == "" {
		c.Health.Path = health.DefaultHealthPath
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = health.DefaultInterval
	}
	if c.Health.ProbeFailureThreshold == 0 {
		c.Health.ProbeFailureThreshold = health.DefaultThresholds.Probe
	}
	if c.Health.TrafficFailureThreshold == 0 {
		c.Health.TrafficFailureThreshold = health.DefaultThresholds.Traffic
	}
	if c.State.Key == "" {
		c.State.Key = selection.DefaultStateKey
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = DefaultAddr
	}
	if c.Gateway.ShutdownTimeout == 0 {
		c.Gateway.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Gateway.ProbeRate == 0 {
		c.Gateway.ProbeRate = DefaultProbeRate
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Timeout == 0 {
			c.Endpoints[i].Timeout = registry.DefaultTimeout
		}
	}
}

// Validate checks tunables and builds the registry once to validate the
// endpoint list.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Health.Path, "/") {
		return fmt.Errorf("%w: health.path must start with /", ErrInvalidConfig)
	}
	if c.Health.Interval < 0 {
		return fmt.Errorf("%w: health.interval must not be negative", ErrInvalidConfig)
	}
	if c.Health.ProbeFailureThreshold < 1 || c.Health.TrafficFailureThreshold < 1 {
		return fmt.Errorf("%w: failure thresholds must be at least 1", ErrInvalidConfig)
	}
	if c.Gateway.ShutdownTimeout < 0 || c.Gateway.ProbeRate < 0 {
		return fmt.Errorf("%w: gateway durations must not be negative", ErrInvalidConfig)
	}
	if _, err := registry.New(c.Endpoints); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Registry builds the endpoint registry.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.New(c.Endpoints)
}

// HealthOptions converts the health section into monitor options.
func (c *Config) HealthOptions() health.Options {
	return health.Options{
		Interval:   c.Health.Interval,
		HealthPath: c.Health.Path,
		Thresholds: health.Thresholds{
			Probe:   c.Health.ProbeFailureThreshold,
			Traffic: c.Health.TrafficFailureThreshold,
		},
	}
}
