// Package config provides configuration types and loading for the
// external authorization filter.
//
// This package defines the declarative configuration consumed by the
// filter core: the external authorization service targets (HTTP or
// gRPC), timeouts, header-processing rules, and per-route override
// fragments. It also provides YAML loading, validation, and file
// watching for hot-reload support.
//
// # Configuration Loading
//
// Load configuration from a YAML file:
//
//	cfg, err := config.LoadAndValidateYAMLConfig("gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Watching
//
// Watch for configuration changes:
//
//	watcher, err := config.NewWatcher("gateway.yaml", func(cfg *config.Config) {
//	    // apply new configuration
//	})
package config
