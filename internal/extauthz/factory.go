package extauthz

import (
	"errors"

	"github.com/Asher-Wang/envoy/internal/grpcclient"
	"github.com/Asher-Wang/envoy/internal/observability"
)

// Environment carries the process-wide collaborators injected into
// filter construction: the upstream connection manager and the shared
// client cache. It is passed in explicitly so the factory stays
// testable with fakes.
type Environment struct {
	// ConnectionManager produces gRPC client connections.
	ConnectionManager grpcclient.ConnectionManager

	// ClientCache is the process-wide shared client cache.
	ClientCache *grpcclient.ClientCache

	// Logger is used by constructed clients and filters.
	Logger observability.Logger

	// Metrics is used by constructed clients and filters.
	Metrics *Metrics
}

// logger returns the environment logger, defaulting to a nop logger.
func (e *Environment) logger() observability.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return observability.NopLogger()
}

// metrics returns the environment metrics, defaulting to the shared
// instance.
func (e *Environment) metrics() *Metrics {
	if e.Metrics != nil {
		return e.Metrics
	}
	return GetSharedMetrics()
}

// clientBuilder holds the resolved inputs needed to produce one
// authorization client per filter instantiation, plus the teardown of
// any shared resource acquired at configuration scope.
type clientBuilder struct {
	// newClient constructs the client for one filter instance.
	newClient func() (Client, error)

	// release tears down configuration-scoped shared resources.
	release func()
}

// newClientBuilder resolves a transport descriptor against the
// environment. All failure modes surface here, at configuration-load
// time; the returned newClient never fails for configuration reasons.
func newClientBuilder(desc *TransportDescriptor, env *Environment) (*clientBuilder, error) {
	logger := env.logger()
	metrics := env.metrics()

	switch desc.Kind {
	case TransportRawHTTP:
		// One client per filter instance, no shared state, no
		// connection until the first check.
		clientCfg := desc.HTTP
		return &clientBuilder{
			newClient: func() (Client, error) {
				return NewRawHTTPClient(clientCfg,
					WithRawHTTPClientLogger(logger),
					WithRawHTTPClientMetrics(metrics),
				)
			},
		}, nil

	case TransportGRPCDedicated:
		if env.ConnectionManager == nil {
			return nil, errors.New("connection manager is required for the dedicated gRPC transport")
		}
		// Reject malformed targets now; the per-instantiation
		// construction below must not be the first place this fails.
		if _, _, err := grpcclient.ResolveTarget(desc.Service); err != nil {
			return nil, newConfigurationError("grpcService", err)
		}
		svc := desc.Service
		cm := env.ConnectionManager
		timeout := desc.Timeout
		apiVersion := desc.APIVersion
		return &clientBuilder{
			newClient: func() (Client, error) {
				conn, err := cm.NewConn(svc)
				if err != nil {
					return nil, err
				}
				return NewGRPCClient(conn, timeout, apiVersion,
					WithInitialMetadata(svc.InitialMetadata),
					WithCloser(conn.Close),
					WithGRPCClientLogger(logger),
					WithGRPCClientMetrics(metrics),
				)
			},
		}, nil

	case TransportGRPCShared:
		if env.ClientCache == nil {
			return nil, errors.New("client cache is required for the shared gRPC transport")
		}
		if env.ConnectionManager == nil {
			return nil, errors.New("connection manager is required for the shared gRPC transport")
		}
		handle, err := env.ClientCache.GetOrCreate(desc.Service, env.ConnectionManager)
		if err != nil {
			return nil, err
		}
		svc := desc.Service
		timeout := desc.Timeout
		apiVersion := desc.APIVersion
		return &clientBuilder{
			newClient: func() (Client, error) {
				// Each filter instance gets its own wrapper; they all
				// share the cached connection, which only the
				// configuration teardown releases.
				return NewGRPCClient(handle.Conn(), timeout, apiVersion,
					WithInitialMetadata(svc.InitialMetadata),
					withTransportLabel(TransportGRPCShared.String()),
					WithGRPCClientLogger(logger),
					WithGRPCClientMetrics(metrics),
				)
			},
			release: handle.Release,
		}, nil
	}

	return nil, newConfigurationError("", ErrNoTransport)
}
