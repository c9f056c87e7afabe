package grpcclient

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics holds Prometheus metrics for the shared client cache.
type CacheMetrics struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	entries  prometheus.Gauge
	registry *prometheus.Registry
}

var (
	sharedCacheMetrics     *CacheMetrics
	sharedCacheMetricsOnce sync.Once
)

// GetSharedCacheMetrics returns the singleton CacheMetrics instance.
func GetSharedCacheMetrics() *CacheMetrics {
	sharedCacheMetricsOnce.Do(func() {
		sharedCacheMetrics = NewCacheMetrics("gateway")
	})
	return sharedCacheMetrics
}

// NewCacheMetrics creates a new CacheMetrics instance.
func NewCacheMetrics(namespace string) *CacheMetrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &CacheMetrics{
		registry: prometheus.NewRegistry(),
	}

	m.hits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz_client_cache",
			Name:      "hits_total",
			Help:      "Total number of shared client cache hits",
		},
	)

	m.misses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz_client_cache",
			Name:      "misses_total",
			Help:      "Total number of shared client cache misses",
		},
	)

	m.entries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authz_client_cache",
			Name:      "entries",
			Help:      "Number of live shared client cache entries",
		},
	)

	m.registry.MustRegister(m.hits, m.misses, m.entries)

	return m
}

// RecordHit records a cache hit.
func (m *CacheMetrics) RecordHit() {
	m.hits.Inc()
}

// RecordMiss records a cache miss.
func (m *CacheMetrics) RecordMiss() {
	m.misses.Inc()
}

// SetEntries records the number of live entries.
func (m *CacheMetrics) SetEntries(n int) {
	m.entries.Set(float64(n))
}

// Registry returns the Prometheus registry.
func (m *CacheMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry. It uses
// Register (not MustRegister) to gracefully handle duplicate
// registration on configuration reload; AlreadyRegisteredError is
// silently ignored.
func (m *CacheMetrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.entries} {
		if err := registry.Register(c); err != nil {
			if !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}
}

// isAlreadyRegistered returns true if the error indicates the collector
// was already registered with the registry.
func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
