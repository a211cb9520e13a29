package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/relaycall/relaycall/internal/adapters"
	"github.com/relaycall/relaycall/internal/config"
	"github.com/relaycall/relaycall/internal/core/dispatcher"
	"github.com/relaycall/relaycall/internal/core/limiter"
	"github.com/relaycall/relaycall/internal/core/registry"
	"github.com/relaycall/relaycall/internal/core/report"
	"github.com/relaycall/relaycall/internal/core/retry"
	"github.com/relaycall/relaycall/internal/core/store"
	"github.com/relaycall/relaycall/internal/core/transport"
	errwrap "github.com/relaycall/relaycall/internal/errors"
	"github.com/relaycall/relaycall/internal/observability"
	"github.com/relaycall/relaycall/internal/server"
	"github.com/relaycall/relaycall/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// storeHealthChecker pings the libsql store
type storeHealthChecker struct {
	store *store.Store
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if s.store == nil || s.store.DB == nil {
		return errwrap.NewDatabaseError("store not initialized")
	}
	if err := s.store.DB.PingContext(ctx); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "store ping failed")
	}
	return nil
}

// registryHealthChecker verifies the endpoint registry is populated
type registryHealthChecker struct {
	registry *registry.Registry
}

func (r registryHealthChecker) CheckHealth(ctx context.Context) error {
	if r.registry == nil || r.registry.Len() == 0 {
		return errwrap.NewConfigInvalidError("endpoint registry is empty")
	}
	return nil
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch API server",
	Long: `Start the HTTP server exposing the dispatch API with graceful shutdown.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)

Shutdown drains in-flight calls, closes the store, and flushes logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		// Initialize server logger with namespace
		logLevel := viper.GetString("logging.level")
		observability.InitServerLogger(identity.BinaryName, logLevel, namespace)

		metricsPort := viper.GetInt("metrics.port")
		if metricsPort == 0 {
			metricsPort = 9090
		}

		// Initialize metrics with namespace
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			observability.ServerLogger.Error("Failed to initialize metrics",
				zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}

		cfg, err := loadServeConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration")
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", serverHost),
			zap.Int("port", serverPort),
			zap.Int("metrics_port", metricsPort),
			zap.Int("endpoints", len(cfg.Endpoints)))

		reg, err := registry.New(cfg.EndpointConfigs())
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid endpoint configuration")
		}

		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to open store")
		}
		if err := st.Migrate(cmd.Context()); err != nil {
			_ = st.Close()
			return errwrap.WrapDatabaseError(cmd.Context(), err, "store migration failed")
		}

		pool := limiter.NewPool(reg.All(), st)

		sdkTransport := transport.NewSDKTransport()
		adapters.Register(sdkTransport, adapters.Deps{
			Store:   st,
			DataDir: config.DefaultDataDir(),
		})

		mux := transport.NewMux()
		mux.Register("http", &transport.HTTPTransport{
			UserAgent: identity.BinaryName + "/" + versionInfo.Version,
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
		disp.Start()

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", storeHealthChecker{store: st})
		hm.RegisterChecker("registry", registryHealthChecker{registry: reg})
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})

		// Create server
		srv := server.New(serverHost, serverPort, server.Deps{
			Dispatcher: disp,
			Registry:   reg,
			Limiters:   pool,
			Store:      st,
		})

		// Set app identity for handlers
		handlers.SetAppIdentity(identity)

		// Get shutdown timeout from config
		shutdownTimeout := viper.GetDuration("server.shutdown_timeout")
		if shutdownTimeout == 0 {
			shutdownTimeout = 15 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Drain dispatcher and close the store
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Draining dispatcher...")
			disp.Close()
			if err := st.Close(); err != nil {
				observability.ServerLogger.Warn("Store close returned error", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					observability.ServerLogger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				observability.ServerLogger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))

			// Endpoint and limiter changes need a restart; only log levels and
			// similar soft settings apply live.

			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", serverHost),
				zap.Int("port", serverPort))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// loadServeConfig decodes the viper state into the typed config and merges
// the built-in endpoint table underneath user entries.
func loadServeConfig() (*config.Config, error) {
	cfg := &config.Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(cfg, decodeHook); err != nil {
		return nil, err
	}

	if cfg.Endpoints == nil {
		cfg.Endpoints = make(map[string]config.EndpointSettings)
	}
	for name, settings := range config.DefaultEndpoints() {
		if _, ok := cfg.Endpoints[name]; !ok {
			cfg.Endpoints[name] = settings
		}
	}

	return cfg, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
