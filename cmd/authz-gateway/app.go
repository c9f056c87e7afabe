package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Asher-Wang/envoy/internal/config"
	"github.com/Asher-Wang/envoy/internal/extauthz"
	"github.com/Asher-Wang/envoy/internal/grpcclient"
	"github.com/Asher-Wang/envoy/internal/observability"
)

// shutdownTimeout bounds graceful server shutdown.
const shutdownTimeout = 15 * time.Second

// application wires the configuration watcher, the shared client cache,
// and the filter chain into the serving HTTP servers. The handler is
// swapped atomically on configuration reload; in-flight requests finish
// on the old chain.
type application struct {
	flags   cliFlags
	logger  observability.Logger
	cache   *grpcclient.ClientCache
	manager grpcclient.ConnectionManager
	watcher *config.Watcher

	handler atomic.Pointer[http.Handler]
	closers atomic.Pointer[chainClosers]
}

// chainClosers tears down one generation of the filter chain.
type chainClosers struct {
	factories []*extauthz.FilterFactory
	filters   []*extauthz.Filter
}

func (c *chainClosers) close(logger observability.Logger) {
	for _, f := range c.filters {
		if err := f.Close(); err != nil {
			logger.Warn("failed to close filter client", observability.Error(err))
		}
	}
	for _, f := range c.factories {
		f.Close()
	}
}

// AddFilter collects the filter instances built by the factories, so
// an aborted rebuild can tear down everything already constructed.
func (c *chainClosers) AddFilter(f *extauthz.Filter) {
	c.filters = append(c.filters, f)
}

// newApplication builds the application from flags.
func newApplication(flags cliFlags, logger observability.Logger) (*application, error) {
	app := &application{
		flags:   flags,
		logger:  logger,
		cache:   grpcclient.NewClientCache(grpcclient.WithCacheLogger(logger)),
		manager: grpcclient.NewConnectionManager(grpcclient.WithManagerLogger(logger)),
	}

	watcher, err := config.NewWatcher(flags.configPath, app.onReload,
		config.WithWatcherLogger(logger),
		config.WithErrorCallback(func(err error) {
			logger.Error("configuration reload failed, keeping last good configuration",
				observability.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	app.watcher = watcher

	return app, nil
}

// Run starts the gateway and blocks until shutdown.
func (a *application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer func() { _ = a.watcher.Stop() }()

	if err := a.rebuild(a.watcher.GetLastConfig()); err != nil {
		return err
	}
	defer func() {
		if closers := a.closers.Load(); closers != nil {
			closers.close(a.logger)
		}
		_ = a.cache.Close()
	}()

	gatewaySrv := &http.Server{
		Addr:              a.flags.listenAddr,
		Handler:           http.HandlerFunc(a.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              a.flags.metricsAddr,
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("gateway listening", observability.String("addr", a.flags.listenAddr))
		if err := gatewaySrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		a.logger.Info("metrics listening", observability.String("addr", a.flags.metricsAddr))
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("received signal, shutting down", observability.String("signal", sig.String()))
	case err := <-errCh:
		a.logger.Error("server failed", observability.Error(err))
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = err
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	return shutdownErr
}

// serveHTTP dispatches to the current filter chain generation.
func (a *application) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if h := a.handler.Load(); h != nil {
		(*h).ServeHTTP(w, r)
		return
	}
	http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
}

// onReload rebuilds the filter chain from a freshly loaded
// configuration. The old generation is torn down only after the new one
// is installed.
func (a *application) onReload(cfg *config.Config) {
	old := a.closers.Load()
	if err := a.rebuild(cfg); err != nil {
		a.logger.Error("failed to apply reloaded configuration, keeping current filter chain",
			observability.Error(err),
		)
		return
	}
	if old != nil {
		old.close(a.logger)
	}
	a.logger.Info("configuration applied")
}

// rebuild constructs the filter chain for a configuration and installs
// it. Loading is all-or-nothing: any block failing aborts the whole
// rebuild and releases everything acquired so far.
func (a *application) rebuild(cfg *config.Config) error {
	overrides, err := buildRouteOverrides(cfg)
	if err != nil {
		return err
	}

	env := &extauthz.Environment{
		ConnectionManager: a.manager,
		ClientCache:       a.cache,
		Logger:            a.logger,
	}

	closers := &chainClosers{}

	for i, block := range cfg.Filters {
		factory, err := extauthz.NewFilterFactory(block, env,
			extauthz.WithRouteOverrides(overrides),
		)
		if err != nil {
			closers.close(a.logger)
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
		closers.factories = append(closers.factories, factory)

		if err := factory.Build(closers); err != nil {
			closers.close(a.logger)
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
	}

	handler, err := a.upstreamHandler()
	if err != nil {
		closers.close(a.logger)
		return err
	}
	for i := len(closers.filters) - 1; i >= 0; i-- {
		handler = closers.filters[i].Middleware()(handler)
	}

	a.handler.Store(&handler)
	a.closers.Store(closers)
	return nil
}

// upstreamHandler returns the handler requests reach after passing
// authorization: a reverse proxy when an upstream is configured, a
// bad-gateway response otherwise.
func (a *application) upstreamHandler() (http.Handler, error) {
	if a.flags.upstreamURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no upstream configured", http.StatusBadGateway)
		}), nil
	}

	target, err := url.Parse(a.flags.upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

// buildRouteOverrides parses the per-route fragments into an override
// lookup.
func buildRouteOverrides(cfg *config.Config) (extauthz.RouteOverrideLookup, error) {
	overrides := make(map[string]*extauthz.RouteOverride, len(cfg.Routes))
	for _, route := range cfg.Routes {
		if route.ExtAuthz == nil {
			continue
		}
		o, err := extauthz.NewRouteOverride(route.ExtAuthz)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", route.Name, err)
		}
		overrides[route.Name] = o
	}
	return func(routeName string) *extauthz.RouteOverride {
		return overrides[routeName]
	}, nil
}

// metricsHandler exposes the filter and cache metrics on one registry.
func metricsHandler() http.Handler {
	registry := prometheus.NewRegistry()
	extauthz.GetSharedMetrics().MustRegister(registry)
	grpcclient.GetSharedCacheMetrics().MustRegister(registry)
	extauthz.GetSharedMetrics().Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
