package extauthz

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Asher-Wang/envoy/internal/observability"
)

// filterTracer is the OTEL tracer used for authorization checks.
var filterTracer = otel.Tracer("extauthz/filter")

// EnabledFunc reports whether a runtime flag is on. The filter consults
// it with FilterConfig.FilterEnabledKey before every check.
type EnabledFunc func(key string) bool

// Filter is one installed request interceptor: a FilterConfig shared
// with its siblings and an authorization client owned exclusively (or,
// for the shared transport, a wrapper over the cached connection).
type Filter struct {
	cfg       *FilterConfig
	client    Client
	logger    observability.Logger
	metrics   *Metrics
	overrides RouteOverrideLookup
	enabled   EnabledFunc
}

// FilterOption is a functional option for the filter.
type FilterOption func(*Filter)

// WithFilterLogger sets the logger.
func WithFilterLogger(logger observability.Logger) FilterOption {
	return func(f *Filter) {
		f.logger = logger
	}
}

// WithFilterMetrics sets the metrics.
func WithFilterMetrics(metrics *Metrics) FilterOption {
	return func(f *Filter) {
		f.metrics = metrics
	}
}

// WithRouteOverrideLookup sets the per-route override lookup.
func WithRouteOverrideLookup(lookup RouteOverrideLookup) FilterOption {
	return func(f *Filter) {
		f.overrides = lookup
	}
}

// WithEnabledFunc sets the runtime flag lookup.
func WithEnabledFunc(enabled EnabledFunc) FilterOption {
	return func(f *Filter) {
		f.enabled = enabled
	}
}

// NewFilter creates a filter instance over an already-constructed
// authorization client.
func NewFilter(cfg *FilterConfig, client Client, opts ...FilterOption) *Filter {
	f := &Filter{
		cfg:    cfg,
		client: client,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.metrics == nil {
		f.metrics = GetSharedMetrics()
	}

	return f
}

// Check authorizes one client request. A nil decision with a nil error
// means the check was skipped (route disabled or filter switched off)
// and the request proceeds.
func (f *Filter) Check(ctx context.Context, r *http.Request, override *RouteOverride) (*CheckResponse, error) {
	if override != nil && override.Disabled() {
		return nil, nil
	}
	if key := f.cfg.FilterEnabledKey(); key != "" && f.enabled != nil && !f.enabled(key) {
		return nil, nil
	}

	req := f.buildCheckRequest(r, override)
	ctx = observability.ContextWithCheckID(ctx, req.ID)

	ctx, span := filterTracer.Start(ctx, "ext_authz.check",
		trace.WithAttributes(
			attribute.String("check_id", req.ID),
			attribute.String("stat_prefix", f.cfg.StatPrefix()),
		),
	)
	defer span.End()

	resp, err := f.client.Check(ctx, req)
	if err != nil {
		span.RecordError(err)
		if f.cfg.FailureModeAllow() {
			f.logger.WithContext(ctx).Warn("authorization check failed, failure mode allows request",
				observability.Error(err),
			)
			span.SetAttributes(attribute.Bool("failure_mode_allowed", true))
			return &CheckResponse{Allowed: true}, nil
		}
		return nil, err
	}

	span.SetAttributes(attribute.Bool("allowed", resp.Allowed))
	return resp, nil
}

// buildCheckRequest assembles the check payload from the client
// request, the filter's header rules, and the route override.
func (f *Filter) buildCheckRequest(r *http.Request, override *RouteOverride) *CheckRequest {
	headers := make(map[string]string)
	for name := range r.Header {
		if f.cfg.HeaderAllowed(name) {
			headers[name] = r.Header.Get(name)
		}
	}
	for name, value := range f.cfg.HeadersToAdd() {
		headers[name] = value
	}

	req := &CheckRequest{
		ID:      uuid.NewString(),
		Method:  r.Method,
		Path:    r.URL.Path,
		Host:    r.Host,
		Headers: headers,
	}
	if override != nil {
		req.ContextExtensions = override.ContextExtensions()
	}
	return req
}

// Middleware returns an HTTP middleware that performs the
// authorization check before passing the request upstream. The route
// key is taken from the request context (set by the routing layer).
func (f *Filter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var override *RouteOverride
			if f.overrides != nil {
				override = f.overrides(RouteNameFromContext(r.Context()))
			}

			resp, err := f.Check(r.Context(), r, override)
			if err != nil {
				f.logger.Error("authorization check failed",
					observability.Error(err),
				)
				http.Error(w, "authorization unavailable", http.StatusForbidden)
				return
			}

			if resp == nil {
				// Check skipped.
				next.ServeHTTP(w, r)
				return
			}

			if !resp.Allowed {
				f.writeDenied(w, resp)
				return
			}

			for name, value := range resp.Headers {
				if f.cfg.UpstreamHeaderAllowed(name) {
					r.Header.Set(name, value)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeDenied writes the deny decision to the client.
func (f *Filter) writeDenied(w http.ResponseWriter, resp *CheckResponse) {
	for name, value := range resp.DeniedHeaders {
		w.Header().Set(name, value)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusForbidden
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// Close releases the filter's client.
func (f *Filter) Close() error {
	return f.client.Close()
}

// routeNameKey is the context key the routing layer uses to hand the
// matched route name to the filter.
type routeNameKey struct{}

// ContextWithRouteName stores the matched route name in the context.
func ContextWithRouteName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, routeNameKey{}, name)
}

// RouteNameFromContext returns the matched route name, or empty.
func RouteNameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(routeNameKey{}).(string); ok {
		return name
	}
	return ""
}
