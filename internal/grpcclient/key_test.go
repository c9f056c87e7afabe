package grpcclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Asher-Wang/envoy/internal/config"
)

// TestCacheKey_ValueIdentity tests that equal descriptors produce equal
// keys regardless of object identity.
func TestCacheKey_ValueIdentity(t *testing.T) {
	t.Parallel()

	// Arrange
	first := &config.GRPCServiceConfig{
		GoogleGRPC: &config.GoogleGRPCConfig{
			TargetURI: "authz.local:9001",
			Authority: "authz",
		},
		Timeout:         config.Duration(time.Second),
		InitialMetadata: map[string]string{"a": "1", "b": "2", "c": "3"},
	}
	second := &config.GRPCServiceConfig{
		GoogleGRPC: &config.GoogleGRPCConfig{
			TargetURI: "authz.local:9001",
			Authority: "authz",
		},
		Timeout:         config.Duration(time.Second),
		InitialMetadata: map[string]string{"c": "3", "b": "2", "a": "1"},
	}

	// Act & Assert
	assert.Equal(t, CacheKey(first), CacheKey(second))
}

// TestCacheKey_Distinct tests that differing descriptors produce
// distinct keys.
func TestCacheKey_Distinct(t *testing.T) {
	t.Parallel()

	base := func() *config.GRPCServiceConfig {
		return &config.GRPCServiceConfig{
			GoogleGRPC: &config.GoogleGRPCConfig{
				TargetURI: "authz.local:9001",
			},
			Timeout: config.Duration(time.Second),
		}
	}

	testCases := []struct {
		name   string
		mutate func(*config.GRPCServiceConfig)
	}{
		{
			name: "DifferentTarget",
			mutate: func(svc *config.GRPCServiceConfig) {
				svc.GoogleGRPC.TargetURI = "authz.local:9002"
			},
		},
		{
			name: "DifferentAuthority",
			mutate: func(svc *config.GRPCServiceConfig) {
				svc.GoogleGRPC.Authority = "other"
			},
		},
		{
			name: "DifferentTimeout",
			mutate: func(svc *config.GRPCServiceConfig) {
				svc.Timeout = config.Duration(2 * time.Second)
			},
		},
		{
			name: "DifferentMetadata",
			mutate: func(svc *config.GRPCServiceConfig) {
				svc.InitialMetadata = map[string]string{"tenant": "a"}
			},
		},
		{
			name: "TLSEnabled",
			mutate: func(svc *config.GRPCServiceConfig) {
				svc.GoogleGRPC.TLS = &config.TLSConfig{Enabled: true, CAFile: "/etc/ca.pem"}
			},
		},
		{
			name: "EnvoyVariant",
			mutate: func(svc *config.GRPCServiceConfig) {
				svc.GoogleGRPC = nil
				svc.EnvoyGRPC = &config.EnvoyGRPCConfig{ClusterName: "authz.local:9001"}
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			reference := base()
			mutated := base()
			tc.mutate(mutated)

			// Act & Assert
			assert.NotEqual(t, CacheKey(reference), CacheKey(mutated))
		})
	}
}

// TestCacheKey_DisabledTLSIgnored tests that a present but disabled TLS
// block does not change the key.
func TestCacheKey_DisabledTLSIgnored(t *testing.T) {
	t.Parallel()

	// Arrange
	plain := &config.GRPCServiceConfig{
		GoogleGRPC: &config.GoogleGRPCConfig{TargetURI: "authz.local:9001"},
	}
	withDisabledTLS := &config.GRPCServiceConfig{
		GoogleGRPC: &config.GoogleGRPCConfig{
			TargetURI: "authz.local:9001",
			TLS:       &config.TLSConfig{Enabled: false, CAFile: "/etc/ca.pem"},
		},
	}

	// Act & Assert
	assert.Equal(t, CacheKey(plain), CacheKey(withDisabledTLS))
}
