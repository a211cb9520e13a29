// Package registry maps logical call names to endpoint transport parameters.
// The registry is built once at startup and is read-only afterwards, so
// lookups are safe from any goroutine.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/relaycall/relaycall/internal/core"
)

// ErrUnknownEndpoint is returned when a call names an endpoint that was not
// configured at startup.
var ErrUnknownEndpoint = errors.New("registry: unknown endpoint")

// Policy defaults applied to endpoints that omit the optional fields.
const (
	DefaultMaxConcurrency = 4
	DefaultRatePerSecond  = 10.0
	DefaultBurst          = 5
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = 100 * time.Millisecond
	DefaultBackoffCap     = 5 * time.Second
	DefaultTimeout        = 10 * time.Second
)

// Registry resolves logical endpoint names to their configuration.
type Registry struct {
	endpoints map[string]core.EndpointConfig
}

// New validates the supplied endpoint configurations, fills policy defaults,
// and returns an immutable registry. Missing required fields fail startup.
func New(configs []core.EndpointConfig) (*Registry, error) {
	endpoints := make(map[string]core.EndpointConfig, len(configs))

	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return nil, errors.New("registry: endpoint name is required")
		}
		if _, exists := endpoints[name]; exists {
			return nil, fmt.Errorf("registry: duplicate endpoint %q", name)
		}

		normalized, err := normalize(name, cfg)
		if err != nil {
			return nil, err
		}
		endpoints[name] = normalized
	}

	return &Registry{endpoints: endpoints}, nil
}

// Resolve returns the configuration for a logical endpoint name.
func (r *Registry) Resolve(name string) (core.EndpointConfig, error) {
	if r == nil || r.endpoints == nil {
		return core.EndpointConfig{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}

	cfg, ok := r.endpoints[strings.TrimSpace(name)]
	if !ok {
		return core.EndpointConfig{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	return cfg, nil
}

// Names returns all configured endpoint names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every endpoint configuration, sorted by name.
func (r *Registry) All() []core.EndpointConfig {
	if r == nil {
		return nil
	}

	out := make([]core.EndpointConfig, 0, len(r.endpoints))
	for _, name := range r.Names() {
		out = append(out, r.endpoints[name])
	}
	return out
}

// Len returns the number of configured endpoints.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.endpoints)
}

func normalize(name string, cfg core.EndpointConfig) (core.EndpointConfig, error) {
	cfg.Name = name

	switch cfg.Protocol {
	case core.ProtocolHTTP:
		base := strings.TrimSpace(cfg.BaseURL)
		if base == "" {
			return cfg, fmt.Errorf("registry: endpoint %q requires base_url", name)
		}
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return cfg, fmt.Errorf("registry: endpoint %q has invalid base_url %q", name, base)
		}
		cfg.BaseURL = base
		if strings.TrimSpace(cfg.Method) == "" {
			cfg.Method = "GET"
		}
		cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	case core.ProtocolSDK:
		// SDK endpoints are resolved by operation name; no address needed.
	case "":
		return cfg, fmt.Errorf("registry: endpoint %q requires protocol", name)
	default:
		return cfg, fmt.Errorf("registry: endpoint %q has unsupported protocol %q", name, cfg.Protocol)
	}

	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return cfg, nil
}
