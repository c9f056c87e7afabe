package config

import (
	"errors"
	"fmt"
	"net/url"
)

// TransportAPIVersion selects the version of the check protocol spoken
// by the constructed gRPC client. It is propagated verbatim into the
// client and never interpreted by the filter core.
type TransportAPIVersion string

// Supported transport API versions.
const (
	// TransportAPIVersionAuto lets the client pick the newest supported version.
	TransportAPIVersionAuto TransportAPIVersion = ""

	// TransportAPIVersionV3 is the v3 check protocol.
	TransportAPIVersionV3 TransportAPIVersion = "V3"

	// TransportAPIVersionV2 is the legacy v2 check protocol.
	TransportAPIVersionV2 TransportAPIVersion = "V2"
)

// ExtAuthzConfig is one external authorization filter configuration
// block. Exactly one transport is selected from it at load time: an
// HTTP service takes priority over a gRPC service when both are set.
type ExtAuthzConfig struct {
	// StatPrefix is the prefix applied to the filter's metrics.
	StatPrefix string `yaml:"statPrefix,omitempty" json:"statPrefix,omitempty"`

	// FailureModeAllow allows requests when the authorization service
	// is unreachable or returns an error.
	FailureModeAllow bool `yaml:"failureModeAllow,omitempty" json:"failureModeAllow,omitempty"`

	// FilterEnabledKey is a runtime flag reference consulted by the
	// filter to decide whether checks are performed.
	FilterEnabledKey string `yaml:"filterEnabledKey,omitempty" json:"filterEnabledKey,omitempty"`

	// HTTPService configures the raw HTTP transport.
	HTTPService *HTTPServiceConfig `yaml:"httpService,omitempty" json:"httpService,omitempty"`

	// GRPCService configures the gRPC transport.
	GRPCService *GRPCServiceConfig `yaml:"grpcService,omitempty" json:"grpcService,omitempty"`

	// TransportAPIVersion is the check protocol version for gRPC transports.
	TransportAPIVersion TransportAPIVersion `yaml:"transportAPIVersion,omitempty" json:"transportAPIVersion,omitempty"`
}

// HTTPServiceConfig configures the raw HTTP authorization transport.
type HTTPServiceConfig struct {
	// ServerURI is the authorization server target.
	ServerURI ServerURIConfig `yaml:"serverURI" json:"serverURI"`

	// PathPrefix is prepended to the request path of every check.
	PathPrefix string `yaml:"pathPrefix,omitempty" json:"pathPrefix,omitempty"`

	// AuthorizationRequest controls what is sent to the authorization server.
	AuthorizationRequest *AuthorizationRequestConfig `yaml:"authorizationRequest,omitempty" json:"authorizationRequest,omitempty"`

	// AuthorizationResponse controls what is accepted back from it.
	AuthorizationResponse *AuthorizationResponseConfig `yaml:"authorizationResponse,omitempty" json:"authorizationResponse,omitempty"`
}

// ServerURIConfig identifies an upstream authorization server.
type ServerURIConfig struct {
	// URI is the authorization server URI.
	URI string `yaml:"uri" json:"uri"`

	// Cluster is the logical upstream name, used for metrics labels.
	Cluster string `yaml:"cluster,omitempty" json:"cluster,omitempty"`

	// Timeout bounds a single check call.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// AuthorizationRequestConfig controls the check request sent to the
// authorization server.
type AuthorizationRequestConfig struct {
	// AllowedHeaders lists client request headers forwarded to the
	// authorization server. Empty means all headers are forwarded.
	AllowedHeaders []string `yaml:"allowedHeaders,omitempty" json:"allowedHeaders,omitempty"`

	// HeadersToAdd are headers set on every check request.
	HeadersToAdd map[string]string `yaml:"headersToAdd,omitempty" json:"headersToAdd,omitempty"`
}

// AuthorizationResponseConfig controls what is consumed from the
// authorization server's response.
type AuthorizationResponseConfig struct {
	// AllowedUpstreamHeaders lists authorization response headers
	// injected into the upstream request on allow. Empty means none.
	AllowedUpstreamHeaders []string `yaml:"allowedUpstreamHeaders,omitempty" json:"allowedUpstreamHeaders,omitempty"`
}

// GRPCServiceConfig configures the gRPC authorization transport.
// Setting GoogleGRPC selects the process-wide shared client pool;
// setting EnvoyGRPC selects a dedicated per-instance client obtained
// from the connection manager.
type GRPCServiceConfig struct {
	// GoogleGRPC targets the authorization server directly.
	GoogleGRPC *GoogleGRPCConfig `yaml:"googleGRPC,omitempty" json:"googleGRPC,omitempty"`

	// EnvoyGRPC targets the authorization server through an upstream cluster.
	EnvoyGRPC *EnvoyGRPCConfig `yaml:"envoyGRPC,omitempty" json:"envoyGRPC,omitempty"`

	// Timeout bounds a single check call.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// InitialMetadata is attached to every check call.
	InitialMetadata map[string]string `yaml:"initialMetadata,omitempty" json:"initialMetadata,omitempty"`

	// UseAlpha selected a long-removed alpha check protocol.
	//
	// Deprecated: no longer supported; configurations setting it are rejected.
	UseAlpha bool `yaml:"useAlpha,omitempty" json:"useAlpha,omitempty"`
}

// GoogleGRPCConfig is a direct gRPC target.
type GoogleGRPCConfig struct {
	// TargetURI is the gRPC target address.
	TargetURI string `yaml:"targetURI" json:"targetURI"`

	// StatPrefix is the prefix for per-target client metrics.
	StatPrefix string `yaml:"statPrefix,omitempty" json:"statPrefix,omitempty"`

	// Authority overrides the :authority header.
	Authority string `yaml:"authority,omitempty" json:"authority,omitempty"`

	// TLS configures transport security for the connection.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// EnvoyGRPCConfig is a cluster-routed gRPC target.
type EnvoyGRPCConfig struct {
	// ClusterName is the upstream cluster carrying the authorization service.
	ClusterName string `yaml:"clusterName" json:"clusterName"`

	// Authority overrides the :authority header.
	Authority string `yaml:"authority,omitempty" json:"authority,omitempty"`
}

// TLSConfig configures TLS for external connections.
type TLSConfig struct {
	// Enabled enables TLS.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// CAFile is the path to the CA certificate.
	CAFile string `yaml:"caFile,omitempty" json:"caFile,omitempty"`

	// CertFile is the path to the client certificate.
	CertFile string `yaml:"certFile,omitempty" json:"certFile,omitempty"`

	// KeyFile is the path to the client key.
	KeyFile string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`

	// InsecureSkipVerify skips certificate verification.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty" json:"insecureSkipVerify,omitempty"`
}

// RouteExtAuthzConfig is the per-route override fragment. It is parsed
// independently of ExtAuthzConfig and consumed by the filter at request
// time. Disabled and CheckSettings are mutually exclusive.
type RouteExtAuthzConfig struct {
	// Disabled turns authorization off for matching requests.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// CheckSettings tunes the check for matching requests.
	CheckSettings *CheckSettingsConfig `yaml:"checkSettings,omitempty" json:"checkSettings,omitempty"`
}

// CheckSettingsConfig tunes the check for a route.
type CheckSettingsConfig struct {
	// ContextExtensions are key/value pairs attached to the check request.
	ContextExtensions map[string]string `yaml:"contextExtensions,omitempty" json:"contextExtensions,omitempty"`

	// DisableRequestBodyBuffering disables sending the request body
	// with the check.
	DisableRequestBodyBuffering bool `yaml:"disableRequestBodyBuffering,omitempty" json:"disableRequestBodyBuffering,omitempty"`
}

// Validate validates the external authorization configuration shape.
// Transport selection itself (which variant wins, deprecated option
// rejection) is the filter core's responsibility at resolution time.
func (c *ExtAuthzConfig) Validate() error {
	if c == nil {
		return errors.New("extAuthz configuration is required")
	}
	if err := c.validateTransportAPIVersion(); err != nil {
		return err
	}
	if c.HTTPService != nil {
		if err := c.HTTPService.Validate(); err != nil {
			return fmt.Errorf("httpService: %w", err)
		}
	}
	if c.GRPCService != nil {
		if err := c.GRPCService.Validate(); err != nil {
			return fmt.Errorf("grpcService: %w", err)
		}
	}
	return nil
}

// validateTransportAPIVersion validates the transport API version enum.
func (c *ExtAuthzConfig) validateTransportAPIVersion() error {
	switch c.TransportAPIVersion {
	case TransportAPIVersionAuto, TransportAPIVersionV3, TransportAPIVersionV2:
		return nil
	}
	return fmt.Errorf("invalid transportAPIVersion: %q (must be \"V2\" or \"V3\")", c.TransportAPIVersion)
}

// Validate validates the HTTP service configuration.
func (c *HTTPServiceConfig) Validate() error {
	if c.ServerURI.URI == "" {
		return errors.New("serverURI.uri is required")
	}
	if _, err := url.Parse(c.ServerURI.URI); err != nil {
		return fmt.Errorf("invalid serverURI.uri: %w", err)
	}
	if c.ServerURI.Timeout < 0 {
		return errors.New("serverURI.timeout must be non-negative")
	}
	return nil
}

// Validate validates the gRPC service configuration.
func (c *GRPCServiceConfig) Validate() error {
	if c.GoogleGRPC != nil && c.GoogleGRPC.TargetURI == "" {
		return errors.New("googleGRPC.targetURI is required")
	}
	if c.EnvoyGRPC != nil && c.EnvoyGRPC.ClusterName == "" {
		return errors.New("envoyGRPC.clusterName is required")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be non-negative")
	}
	return nil
}

// Validate validates the per-route override fragment.
func (c *RouteExtAuthzConfig) Validate() error {
	if c == nil {
		return errors.New("route extAuthz configuration is required")
	}
	if c.Disabled && c.CheckSettings != nil {
		return errors.New("disabled and checkSettings are mutually exclusive")
	}
	return nil
}

// DefaultExtAuthzConfig returns a default external authorization
// configuration block.
func DefaultExtAuthzConfig() *ExtAuthzConfig {
	return &ExtAuthzConfig{
		StatPrefix:          "ext_authz",
		FailureModeAllow:    false,
		TransportAPIVersion: TransportAPIVersionV3,
	}
}
