package extauthz

import (
	"errors"
	"sync"
	"time"

	"github.com/Asher-Wang/envoy/internal/config"
	"github.com/Asher-Wang/envoy/internal/observability"
)

// FilterRegistrar is the out-of-scope request-interception pipeline's
// hook for installing one filter instance.
type FilterRegistrar interface {
	// AddFilter installs a filter instance into the pipeline.
	AddFilter(f *Filter)
}

// FilterFactoryFunc is the artifact consumed by the pipeline: invoked
// once per pipeline instantiation, it registers one filter instance.
type FilterFactoryFunc func(FilterRegistrar) error

// FilterFactory turns one configuration block into filter instances.
// All configuration work — transport resolution, timeout resolution,
// deprecated-option rejection, shared cache acquisition — happens once
// in NewFilterFactory; Build only instantiates.
//
// Instances built over the raw HTTP or dedicated gRPC transport own
// their client exclusively. Instances built over the shared transport
// wrap the same cached connection, which the factory holds a reference
// to until Close.
type FilterFactory struct {
	filterCfg *FilterConfig
	desc      *TransportDescriptor
	builder   *clientBuilder
	logger    observability.Logger
	metrics   *Metrics
	overrides RouteOverrideLookup
	closeOnce sync.Once
}

// FilterFactoryOption is a functional option for the filter factory.
type FilterFactoryOption func(*FilterFactory)

// WithFilterFactoryLogger sets the logger propagated to clients and
// filter instances.
func WithFilterFactoryLogger(logger observability.Logger) FilterFactoryOption {
	return func(f *FilterFactory) {
		f.logger = logger
	}
}

// WithFilterFactoryMetrics sets the metrics propagated to clients and
// filter instances.
func WithFilterFactoryMetrics(metrics *Metrics) FilterFactoryOption {
	return func(f *FilterFactory) {
		f.metrics = metrics
	}
}

// WithRouteOverrides sets the per-route override lookup consulted by
// filter instances at request time.
func WithRouteOverrides(lookup RouteOverrideLookup) FilterFactoryOption {
	return func(f *FilterFactory) {
		f.overrides = lookup
	}
}

// NewFilterFactory builds a filter factory from one configuration
// block. Loading is all-or-nothing: any error aborts construction for
// this block and releases anything already acquired; no partial filter
// is ever installed.
func NewFilterFactory(cfg *config.ExtAuthzConfig, env *Environment, opts ...FilterFactoryOption) (*FilterFactory, error) {
	if env == nil {
		return nil, errors.New("environment is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, newConfigurationError("", err)
	}

	desc, err := ResolveTransport(cfg)
	if err != nil {
		return nil, err
	}

	f := &FilterFactory{
		filterCfg: NewFilterConfig(cfg),
		desc:      desc,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = env.logger()
	}
	if f.metrics == nil {
		f.metrics = env.metrics()
	}

	scoped := &Environment{
		ConnectionManager: env.ConnectionManager,
		ClientCache:       env.ClientCache,
		Logger:            f.logger,
		Metrics:           f.metrics,
	}

	builder, err := newClientBuilder(desc, scoped)
	if err != nil {
		return nil, err
	}
	f.builder = builder

	f.logger.Info("resolved external authorization transport",
		observability.String("transport", desc.Kind.String()),
		observability.Duration("timeout", desc.Timeout),
		observability.String("stat_prefix", f.filterCfg.StatPrefix()),
	)

	return f, nil
}

// Build registers one filter instance with the pipeline. Invoked once
// per pipeline instantiation.
func (f *FilterFactory) Build(reg FilterRegistrar) error {
	client, err := f.builder.newClient()
	if err != nil {
		return err
	}

	filter := NewFilter(f.filterCfg, client,
		WithFilterLogger(f.logger),
		WithFilterMetrics(f.metrics),
		WithRouteOverrideLookup(f.overrides),
	)
	reg.AddFilter(filter)
	return nil
}

// Callback returns the factory as the plain callback contract consumed
// by the pipeline.
func (f *FilterFactory) Callback() FilterFactoryFunc {
	return f.Build
}

// TransportKind returns the resolved transport of this configuration
// block.
func (f *FilterFactory) TransportKind() TransportKind {
	return f.desc.Kind
}

// Timeout returns the resolved check call deadline.
func (f *FilterFactory) Timeout() time.Duration {
	return f.desc.Timeout
}

// Close releases configuration-scoped shared resources (the shared
// cache reference, when one is held). Safe to call more than once.
func (f *FilterFactory) Close() {
	f.closeOnce.Do(func() {
		if f.builder != nil && f.builder.release != nil {
			f.builder.release()
		}
	})
}
