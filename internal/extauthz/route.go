package extauthz

import (
	"errors"

	"github.com/Asher-Wang/envoy/internal/config"
)

// RouteOverride is a per-route authorization override, parsed
// independently of any FilterConfig and consumed by filter instances at
// request time. It is immutable after construction.
type RouteOverride struct {
	disabled                    bool
	contextExtensions           map[string]string
	disableRequestBodyBuffering bool
}

// RouteOverrideLookup resolves the override for a route key, returning
// nil when the route has none.
type RouteOverrideLookup func(routeName string) *RouteOverride

// NewRouteOverride parses a per-route fragment into an override.
// Disabled and check settings are mutually exclusive.
func NewRouteOverride(cfg *config.RouteExtAuthzConfig) (*RouteOverride, error) {
	if cfg == nil {
		return nil, errors.New("route override fragment is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, newConfigurationError("route", err)
	}

	o := &RouteOverride{disabled: cfg.Disabled}
	if cs := cfg.CheckSettings; cs != nil {
		o.disableRequestBodyBuffering = cs.DisableRequestBodyBuffering
		if len(cs.ContextExtensions) > 0 {
			o.contextExtensions = make(map[string]string, len(cs.ContextExtensions))
			for k, v := range cs.ContextExtensions {
				o.contextExtensions[k] = v
			}
		}
	}
	return o, nil
}

// Disabled reports whether authorization is turned off for the route.
func (o *RouteOverride) Disabled() bool {
	return o.disabled
}

// ContextExtensions returns the key/value pairs attached to checks for
// the route. The returned map is shared and must not be modified.
func (o *RouteOverride) ContextExtensions() map[string]string {
	return o.contextExtensions
}

// DisableRequestBodyBuffering reports whether the request body is
// withheld from checks for the route.
func (o *RouteOverride) DisableRequestBodyBuffering() bool {
	return o.disableRequestBodyBuffering
}

// Equal reports whether two overrides are equivalent.
func (o *RouteOverride) Equal(other *RouteOverride) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.disabled != other.disabled ||
		o.disableRequestBodyBuffering != other.disableRequestBodyBuffering ||
		len(o.contextExtensions) != len(other.contextExtensions) {
		return false
	}
	for k, v := range o.contextExtensions {
		if ov, ok := other.contextExtensions[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
