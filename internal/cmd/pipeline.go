package cmd

import (
	"context"
	"errors"

	"github.com/relaycall/relaycall/internal/adapters"
	"github.com/relaycall/relaycall/internal/config"
	"github.com/relaycall/relaycall/internal/core/dispatcher"
	"github.com/relaycall/relaycall/internal/core/limiter"
	"github.com/relaycall/relaycall/internal/core/registry"
	"github.com/relaycall/relaycall/internal/core/report"
	"github.com/relaycall/relaycall/internal/core/retry"
	"github.com/relaycall/relaycall/internal/core/store"
	"github.com/relaycall/relaycall/internal/core/transport"
)

// pipeline bundles the dispatch components the CLI commands share.
type pipeline struct {
	Config     *config.Config
	Registry   *registry.Registry
	Limiters   *limiter.Pool
	Store      *store.Store
	Dispatcher *dispatcher.Dispatcher
}

// buildPipeline wires a full dispatch pipeline from the loaded configuration.
// Callers own Close.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	cfg, err := loadServeConfig()
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.EndpointConfigs())
	if err != nil {
		return nil, err
	}
	if reg.Len() == 0 {
		return nil, errors.New("no endpoints configured")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	pool := limiter.NewPool(reg.All(), st)

	sdkTransport := transport.NewSDKTransport()
	adapters.Register(sdkTransport, adapters.Deps{
		Store:   st,
		DataDir: config.DefaultDataDir(),
	})

	mux := transport.NewMux()
	mux.Register("http", &transport.HTTPTransport{
		UserAgent: "relaycall/" + versionInfo.Version,
	})
	mux.Register("sdk", sdkTransport)

	disp := &dispatcher.Dispatcher{
		Registry:  reg,
		Limiters:  pool,
		Transport: mux,
		Retry:     &retry.Engine{},
		Reporter:  &report.Reporter{ToolVersion: versionInfo.Version},
		Recorder:  st,
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
	}

	return &pipeline{
		Config:     cfg,
		Registry:   reg,
		Limiters:   pool,
		Store:      st,
		Dispatcher: disp,
	}, nil
}

// Close drains the dispatcher and releases the store.
func (p *pipeline) Close() {
	if p == nil {
		return
	}
	if p.Dispatcher != nil {
		p.Dispatcher.Close()
	}
	if p.Store != nil {
		_ = p.Store.Close()
	}
}
