package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger carries human-oriented output for the call/endpoints/envinfo
	// commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger carries JSON request and dispatch logs for the serve
	// command (STRUCTURED profile).
	ServerLogger *logging.Logger
)

// InitCLILogger sets up the CLI logger; verbose drops the level to DEBUG.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		loggerInitFailed("Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger sets up structured JSON logging on stderr with correlation
// middleware. The optional namespace becomes a static field on every line,
// matching the telemetry namespace.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	staticFields := make(map[string]any)
	if len(namespace) > 0 && namespace[0] != "" {
		staticFields["namespace"] = namespace[0]
	}

	config := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}

	logger, err := logging.New(config)
	if err != nil {
		loggerInitFailed("Failed to initialize server logger", err)
	}

	ServerLogger = logger
}

// parseLogLevel maps config-file level names onto logging severities,
// defaulting to INFO for anything unrecognized.
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(levelStr) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	case "info":
		return "INFO"
	default:
		return "INFO"
	}
}

// loggerInitFailed writes straight to stderr and exits; logger construction
// failures happen before any logger exists to report them.
func loggerInitFailed(msg string, err error) {
	exitCode := foundry.ExitConfigInvalid
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}
