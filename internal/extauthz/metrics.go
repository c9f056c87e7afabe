package extauthz

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for external authorization checks.
type Metrics struct {
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	registry        *prometheus.Registry
}

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// GetSharedMetrics returns the singleton Metrics instance.
func GetSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = NewMetrics("gateway")
	})
	return sharedMetrics
}

// Init pre-initializes common label combinations with zero values so
// that metrics appear in /metrics output immediately after startup.
// Prometheus *Vec types only emit metric lines after WithLabelValues()
// is called at least once. This method is idempotent and safe to call
// multiple times.
func (m *Metrics) Init() {
	transports := []string{
		TransportRawHTTP.String(),
		TransportGRPCDedicated.String(),
		TransportGRPCShared.String(),
	}
	for _, transport := range transports {
		for _, d := range []string{"allow", "deny"} {
			m.requestTotal.WithLabelValues(transport, d)
			m.requestDuration.WithLabelValues(transport, d)
		}
		for _, reason := range []string{"timeout", "connection_error", "invalid_response"} {
			m.errors.WithLabelValues(transport, reason)
		}
	}
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ext_authz",
			Name:      "request_total",
			Help:      "Total number of external authorization checks",
		},
		[]string{"transport", "decision"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ext_authz",
			Name:      "request_duration_seconds",
			Help:      "External authorization check duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"transport", "decision"},
	)

	m.errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ext_authz",
			Name:      "errors_total",
			Help:      "Total number of external authorization errors",
		},
		[]string{"transport", "reason"},
	)

	m.registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.errors,
	)

	return m
}

// RecordRequest records a completed authorization check.
func (m *Metrics) RecordRequest(transport, decision string, duration time.Duration) {
	m.requestTotal.WithLabelValues(transport, decision).Inc()
	m.requestDuration.WithLabelValues(transport, decision).Observe(duration.Seconds())
}

// RecordError records a failed authorization check.
func (m *Metrics) RecordError(transport, reason string) {
	m.errors.WithLabelValues(transport, reason).Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry. It uses
// Register (not MustRegister) to gracefully handle duplicate
// registration that can occur when filters are recreated on config
// reload. AlreadyRegisteredError is silently ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{
		m.requestTotal,
		m.requestDuration,
		m.errors,
	} {
		if err := registry.Register(c); err != nil {
			if !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}
}

// isAlreadyRegistered returns true if the error indicates the
// collector was already registered with the registry.
func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
