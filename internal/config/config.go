package config

import (
	"sort"
	"time"

	"github.com/relaycall/relaycall/internal/core"
)

// Config represents the complete application configuration
// following the Fulmen Forge Workhorse Standard three-layer pattern:
// Layer 1: Crucible defaults (config/relaycall/v0/relaycall-defaults.yaml)
// Layer 2: User overrides (~/.config/relaycall/relaycall/config.yaml)
// Layer 3: Environment variables and runtime overrides
type Config struct {
	Server     ServerConfig                `mapstructure:"server"`
	Store      StoreConfig                 `mapstructure:"store"`
	Dispatcher DispatcherConfig            `mapstructure:"dispatcher"`
	Endpoints  map[string]EndpointSettings `mapstructure:"endpoints"`
	Logging    LoggingConfig               `mapstructure:"logging"`
	Metrics    MetricsConfig               `mapstructure:"metrics"`
	Health     HealthConfig                `mapstructure:"health"`
	Debug      DebugConfig                 `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// DispatcherConfig sizes the worker pool that drains submitted calls.
type DispatcherConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// EndpointSettings describes one outbound integration. Zero values fall back
// to registry defaults; the map key is the endpoint name.
type EndpointSettings struct {
	BaseURL        string        `mapstructure:"base_url"`
	Protocol       string        `mapstructure:"protocol"`
	Method         string        `mapstructure:"method"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Idempotent     bool          `mapstructure:"idempotent"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles per Fulmen Forge Workhorse Standard:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// EndpointConfigs converts the configured endpoint map into registry input,
// sorted by name for deterministic construction.
func (c *Config) EndpointConfigs() []core.EndpointConfig {
	if c == nil || len(c.Endpoints) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.Endpoints))
	for name := range c.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]core.EndpointConfig, 0, len(names))
	for _, name := range names {
		settings := c.Endpoints[name]
		out = append(out, core.EndpointConfig{
			Name:           name,
			BaseURL:        settings.BaseURL,
			Protocol:       core.Protocol(settings.Protocol),
			Method:         settings.Method,
			MaxConcurrency: settings.MaxConcurrency,
			RatePerSecond:  settings.RatePerSecond,
			Burst:          settings.Burst,
			MaxAttempts:    settings.MaxAttempts,
			BackoffBase:    settings.BackoffBase,
			BackoffCap:     settings.BackoffCap,
			Timeout:        settings.Timeout,
			Idempotent:     settings.Idempotent,
		})
	}
	return out
}
