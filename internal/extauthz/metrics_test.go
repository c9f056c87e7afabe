package extauthz

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetrics_Record tests that recorded checks appear in the registry.
func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	// Arrange
	m := NewMetrics("test")
	m.Init()

	// Act
	m.RecordRequest(TransportRawHTTP.String(), "allow", 10*time.Millisecond)
	m.RecordRequest(TransportGRPCShared.String(), "deny", 5*time.Millisecond)
	m.RecordError(TransportGRPCDedicated.String(), "timeout")

	// Assert
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_ext_authz_request_total"])
	assert.True(t, names["test_ext_authz_request_duration_seconds"])
	assert.True(t, names["test_ext_authz_errors_total"])
}

// TestGetSharedMetrics tests that the shared instance is a singleton.
func TestGetSharedMetrics(t *testing.T) {
	t.Parallel()

	assert.Same(t, GetSharedMetrics(), GetSharedMetrics())
}

// TestMetrics_MustRegister_Duplicate tests that re-registering on
// configuration reload does not panic.
func TestMetrics_MustRegister_Duplicate(t *testing.T) {
	t.Parallel()

	// Arrange
	m := NewMetrics("test")
	registry := prometheus.NewRegistry()

	// Act & Assert
	assert.NotPanics(t, func() {
		m.MustRegister(registry)
		m.MustRegister(registry)
	})
}
