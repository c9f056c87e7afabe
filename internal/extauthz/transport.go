package extauthz

import (
	"errors"
	"time"

	"github.com/Asher-Wang/envoy/internal/config"
)

// TransportKind identifies which authorization transport a
// configuration block resolved to.
type TransportKind int

// The three mutually exclusive transports.
const (
	// TransportRawHTTP is a synchronous HTTP call to the authorization server.
	TransportRawHTTP TransportKind = iota

	// TransportGRPCDedicated is a per-instance gRPC client obtained from
	// the connection manager, never cached.
	TransportGRPCDedicated

	// TransportGRPCShared is a gRPC client over a process-wide shared
	// connection keyed by target identity.
	TransportGRPCShared
)

// String returns the transport kind name.
func (k TransportKind) String() string {
	switch k {
	case TransportRawHTTP:
		return "raw_http"
	case TransportGRPCDedicated:
		return "grpc_dedicated"
	case TransportGRPCShared:
		return "grpc_shared"
	}
	return "unknown"
}

// ClientConfig holds the resolved parameters of the raw HTTP transport.
// One instance exists per configuration block using it; it is never
// mutated after resolution.
type ClientConfig struct {
	// ServerURI is the authorization server URI.
	ServerURI string

	// Cluster is the logical upstream name, used for metrics labels.
	Cluster string

	// PathPrefix is prepended to the check request path.
	PathPrefix string

	// Timeout bounds a single check call.
	Timeout time.Duration
}

// TransportDescriptor is the resolved, mutually exclusive transport
// choice of one configuration block. It is produced exactly once at
// configuration-parse time and never re-evaluated per request.
type TransportDescriptor struct {
	// Kind is the selected transport.
	Kind TransportKind

	// HTTP carries the raw HTTP parameters; set only for TransportRawHTTP.
	HTTP *ClientConfig

	// Service is the gRPC service descriptor; set for both gRPC kinds.
	Service *config.GRPCServiceConfig

	// Timeout is the resolved check call deadline.
	Timeout time.Duration

	// APIVersion is propagated verbatim into the constructed gRPC client.
	APIVersion config.TransportAPIVersion
}

// ResolveTransport deterministically selects exactly one transport for
// a configuration block:
//   - an HTTP service takes priority over a gRPC service,
//   - a gRPC service naming a direct target uses the shared client pool,
//   - a gRPC service naming an upstream cluster uses a dedicated client,
//   - anything else is a configuration error.
//
// The deprecated useAlpha option is rejected before anything is built,
// so a configuration carrying it can never allocate a client or touch
// the shared cache.
func ResolveTransport(cfg *config.ExtAuthzConfig) (*TransportDescriptor, error) {
	if cfg == nil {
		return nil, newConfigurationError("", errors.New("configuration block is required"))
	}

	if cfg.GRPCService != nil && cfg.GRPCService.UseAlpha {
		return nil, newConfigurationError("grpcService.useAlpha", ErrDeprecatedUseAlpha)
	}

	if cfg.HTTPService != nil {
		timeout, err := resolveTimeout(cfg.HTTPService.ServerURI.Timeout)
		if err != nil {
			return nil, newConfigurationError("httpService.serverURI.timeout", err)
		}
		return &TransportDescriptor{
			Kind: TransportRawHTTP,
			HTTP: &ClientConfig{
				ServerURI:  cfg.HTTPService.ServerURI.URI,
				Cluster:    cfg.HTTPService.ServerURI.Cluster,
				PathPrefix: cfg.HTTPService.PathPrefix,
				Timeout:    timeout,
			},
			Timeout:    timeout,
			APIVersion: cfg.TransportAPIVersion,
		}, nil
	}

	if svc := cfg.GRPCService; svc != nil {
		timeout, err := resolveTimeout(svc.Timeout)
		if err != nil {
			return nil, newConfigurationError("grpcService.timeout", err)
		}

		kind := TransportGRPCDedicated
		if svc.GoogleGRPC != nil {
			kind = TransportGRPCShared
		} else if svc.EnvoyGRPC == nil {
			return nil, newConfigurationError("grpcService", ErrNoTransport)
		}

		return &TransportDescriptor{
			Kind:       kind,
			Service:    svc,
			Timeout:    timeout,
			APIVersion: cfg.TransportAPIVersion,
		}, nil
	}

	return nil, newConfigurationError("", ErrNoTransport)
}

// resolveTimeout extracts the check call deadline from a
// transport-specific timeout field, substituting DefaultTimeout when
// absent. No upper bound is enforced here.
func resolveTimeout(d config.Duration) (time.Duration, error) {
	if d < 0 {
		return 0, errors.New("timeout must be non-negative")
	}
	if d == 0 {
		return DefaultTimeout, nil
	}
	return d.Duration(), nil
}
