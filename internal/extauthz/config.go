package extauthz

import (
	"net/http"

	"github.com/Asher-Wang/envoy/internal/config"
)

// FilterConfig holds the instance-independent settings shared by every
// filter instance created from one configuration block: failure-mode
// policy, stats prefix, runtime flag reference, and header-processing
// rules. It is built once at configuration-load time and never mutated
// afterwards; all derived filter instances hold it jointly.
type FilterConfig struct {
	failureModeAllow bool
	statPrefix       string
	filterEnabledKey string

	// allowedHeaders filters client request headers forwarded with the
	// check; nil forwards all headers.
	allowedHeaders map[string]bool

	// headersToAdd is set on every check request.
	headersToAdd map[string]string

	// allowedUpstreamHeaders filters authorization response headers
	// injected upstream on allow; nil injects all.
	allowedUpstreamHeaders map[string]bool
}

// NewFilterConfig builds an immutable FilterConfig from a configuration
// block.
func NewFilterConfig(cfg *config.ExtAuthzConfig) *FilterConfig {
	fc := &FilterConfig{
		failureModeAllow: cfg.FailureModeAllow,
		statPrefix:       cfg.StatPrefix,
		filterEnabledKey: cfg.FilterEnabledKey,
	}
	if fc.statPrefix == "" {
		fc.statPrefix = "ext_authz"
	}

	if cfg.HTTPService != nil {
		if req := cfg.HTTPService.AuthorizationRequest; req != nil {
			if len(req.AllowedHeaders) > 0 {
				fc.allowedHeaders = canonicalHeaderSet(req.AllowedHeaders)
			}
			if len(req.HeadersToAdd) > 0 {
				fc.headersToAdd = make(map[string]string, len(req.HeadersToAdd))
				for k, v := range req.HeadersToAdd {
					fc.headersToAdd[http.CanonicalHeaderKey(k)] = v
				}
			}
		}
		if resp := cfg.HTTPService.AuthorizationResponse; resp != nil {
			if len(resp.AllowedUpstreamHeaders) > 0 {
				fc.allowedUpstreamHeaders = canonicalHeaderSet(resp.AllowedUpstreamHeaders)
			}
		}
	}

	return fc
}

// canonicalHeaderSet builds a canonical-key membership set.
func canonicalHeaderSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[http.CanonicalHeaderKey(n)] = true
	}
	return set
}

// FailureModeAllow reports whether requests are allowed when the
// authorization service fails.
func (c *FilterConfig) FailureModeAllow() bool {
	return c.failureModeAllow
}

// StatPrefix returns the metrics prefix for this filter.
func (c *FilterConfig) StatPrefix() string {
	return c.statPrefix
}

// FilterEnabledKey returns the runtime flag reference consulted before
// performing checks; empty means always enabled.
func (c *FilterConfig) FilterEnabledKey() string {
	return c.filterEnabledKey
}

// HeaderAllowed reports whether a client request header is forwarded
// with the check.
func (c *FilterConfig) HeaderAllowed(name string) bool {
	if c.allowedHeaders == nil {
		return true
	}
	return c.allowedHeaders[http.CanonicalHeaderKey(name)]
}

// UpstreamHeaderAllowed reports whether an authorization response
// header is injected into the upstream request on allow.
func (c *FilterConfig) UpstreamHeaderAllowed(name string) bool {
	if c.allowedUpstreamHeaders == nil {
		return true
	}
	return c.allowedUpstreamHeaders[http.CanonicalHeaderKey(name)]
}

// HeadersToAdd returns the headers set on every check request. The
// returned map is shared and must not be modified.
func (c *FilterConfig) HeadersToAdd() map[string]string {
	return c.headersToAdd
}
