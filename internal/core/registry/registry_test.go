package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycall/relaycall/internal/core"
)

func TestNewAppliesDefaults(t *testing.T) {
	reg, err := New([]core.EndpointConfig{
		{Name: "http.get", Protocol: core.ProtocolHTTP, BaseURL: "https://api.example.com"},
	})
	require.NoError(t, err)

	cfg, err := reg.Resolve("http.get")
	require.NoError(t, err)
	require.Equal(t, "GET", cfg.Method)
	require.Equal(t, DefaultMaxConcurrency, cfg.MaxConcurrency)
	require.Equal(t, DefaultRatePerSecond, cfg.RatePerSecond)
	require.Equal(t, DefaultBurst, cfg.Burst)
	require.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	require.Equal(t, DefaultBackoffBase, cfg.BackoffBase)
	require.Equal(t, DefaultBackoffCap, cfg.BackoffCap)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestNewKeepsExplicitValues(t *testing.T) {
	reg, err := New([]core.EndpointConfig{
		{
			Name:           "charges",
			Protocol:       core.ProtocolSDK,
			MaxConcurrency: 2,
			RatePerSecond:  1.5,
			Burst:          1,
			MaxAttempts:    4,
			BackoffBase:    250 * time.Millisecond,
			BackoffCap:     8 * time.Second,
			Timeout:        30 * time.Second,
			Idempotent:     false,
		},
	})
	require.NoError(t, err)

	cfg, err := reg.Resolve("charges")
	require.NoError(t, err)
	require.Equal(t, 2, cfg.MaxConcurrency)
	require.Equal(t, 1.5, cfg.RatePerSecond)
	require.Equal(t, 4, cfg.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.BackoffBase)
	require.False(t, cfg.Idempotent)
}

func TestNewValidation(t *testing.T) {
	_, err := New([]core.EndpointConfig{{Protocol: core.ProtocolSDK}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "name is required")

	_, err = New([]core.EndpointConfig{
		{Name: "dup", Protocol: core.ProtocolSDK},
		{Name: "dup", Protocol: core.ProtocolSDK},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate endpoint")

	_, err = New([]core.EndpointConfig{{Name: "web", Protocol: core.ProtocolHTTP}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires base_url")

	_, err = New([]core.EndpointConfig{{Name: "web", Protocol: core.ProtocolHTTP, BaseURL: "not a url"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid base_url")

	_, err = New([]core.EndpointConfig{{Name: "web"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires protocol")

	_, err = New([]core.EndpointConfig{{Name: "web", Protocol: "grpc"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported protocol")
}

func TestNewCapsBackoffBaseAboveCap(t *testing.T) {
	reg, err := New([]core.EndpointConfig{
		{
			Name:        "slow",
			Protocol:    core.ProtocolSDK,
			BackoffBase: 10 * time.Second,
			BackoffCap:  time.Second,
		},
	})
	require.NoError(t, err)

	cfg, err := reg.Resolve("slow")
	require.NoError(t, err)
	require.Equal(t, cfg.BackoffBase, cfg.BackoffCap)
}

func TestResolveUnknownEndpoint(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)

	_, err = reg.Resolve("missing")
	require.ErrorIs(t, err, ErrUnknownEndpoint)

	var nilReg *Registry
	_, err = nilReg.Resolve("missing")
	require.ErrorIs(t, err, ErrUnknownEndpoint)
	require.Equal(t, 0, nilReg.Len())
	require.Nil(t, nilReg.All())
}

func TestNamesAndAllSorted(t *testing.T) {
	reg, err := New([]core.EndpointConfig{
		{Name: "zeta", Protocol: core.ProtocolSDK},
		{Name: "alpha", Protocol: core.ProtocolSDK},
		{Name: "mid", Protocol: core.ProtocolSDK},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
	require.Equal(t, 3, reg.Len())

	all := reg.All()
	require.Len(t, all, 3)
	require.Equal(t, "alpha", all[0].Name)
	require.Equal(t, "zeta", all[2].Name)
}
