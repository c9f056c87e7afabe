package grpcclient

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/Asher-Wang/envoy/internal/config"
)

// CacheKey derives the canonical cache key for a gRPC service
// descriptor. Descriptors with equal target, authority, timeout,
// metadata, and TLS settings produce the same key regardless of object
// identity; metadata is sorted so map iteration order cannot leak into
// the key.
func CacheKey(svc *config.GRPCServiceConfig) string {
	h := sha256.New()

	switch {
	case svc.GoogleGRPC != nil:
		fmt.Fprintf(h, "google\n%s\n%s\n%s\n", svc.GoogleGRPC.TargetURI, svc.GoogleGRPC.Authority, svc.GoogleGRPC.StatPrefix)
		if tlsCfg := svc.GoogleGRPC.TLS; tlsCfg != nil && tlsCfg.Enabled {
			fmt.Fprintf(h, "tls\n%s\n%s\n%s\n%t\n", tlsCfg.CAFile, tlsCfg.CertFile, tlsCfg.KeyFile, tlsCfg.InsecureSkipVerify)
		}
	case svc.EnvoyGRPC != nil:
		fmt.Fprintf(h, "envoy\n%s\n%s\n", svc.EnvoyGRPC.ClusterName, svc.EnvoyGRPC.Authority)
	}

	fmt.Fprintf(h, "timeout:%d\n", time.Duration(svc.Timeout))

	keys := make([]string, 0, len(svc.InitialMetadata))
	for k := range svc.InitialMetadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "md:%s=%s\n", k, svc.InitialMetadata[k])
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}
