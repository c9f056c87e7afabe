// Package main is the entry point for the authorization gateway: a
// reverse proxy front that runs every request through the configured
// external authorization filters before handing it to the upstream.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Asher-Wang/envoy/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	listenAddr  string
	metricsAddr string
	upstreamURL string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	app, err := newApplication(flags, logger)
	if err != nil {
		logger.Error("failed to initialize application", observability.Error(err))
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		logger.Error("application terminated with error", observability.Error(err))
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AUTHZ_GATEWAY_CONFIG_PATH", "configs/authz-gateway.yaml"),
		"Path to configuration file")
	listenAddr := flag.String("listen", getEnvOrDefault("AUTHZ_GATEWAY_LISTEN_ADDR", ":8080"),
		"Listen address for the gateway")
	metricsAddr := flag.String("metrics-listen", getEnvOrDefault("AUTHZ_GATEWAY_METRICS_ADDR", ":9090"),
		"Listen address for the metrics endpoint")
	upstreamURL := flag.String("upstream", getEnvOrDefault("AUTHZ_GATEWAY_UPSTREAM_URL", ""),
		"Upstream URL requests are forwarded to after authorization")
	logLevel := flag.String("log-level", getEnvOrDefault("AUTHZ_GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("AUTHZ_GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		listenAddr:  *listenAddr,
		metricsAddr: *metricsAddr,
		upstreamURL: *upstreamURL,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("authz-gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
