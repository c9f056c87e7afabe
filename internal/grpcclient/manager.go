package grpcclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/Asher-Wang/envoy/internal/config"
	"github.com/Asher-Wang/envoy/internal/observability"
)

// Conn is a gRPC client connection. *grpc.ClientConn satisfies it.
type Conn interface {
	grpc.ClientConnInterface
	Close() error
}

// ConnectionManager produces gRPC client connections for authorization
// service descriptors. Implementations must be safe for concurrent use.
type ConnectionManager interface {
	// NewConn creates a new client connection for the service target.
	NewConn(svc *config.GRPCServiceConfig) (Conn, error)
}

// connectionManager is the default ConnectionManager backed by
// grpc.NewClient.
type connectionManager struct {
	dialOpts []grpc.DialOption
	logger   observability.Logger
}

// ManagerOption is a functional option for the connection manager.
type ManagerOption func(*connectionManager)

// WithManagerLogger sets the logger for the connection manager.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *connectionManager) {
		m.logger = logger
	}
}

// WithDialOptions appends gRPC dial options used for every connection.
func WithDialOptions(opts ...grpc.DialOption) ManagerOption {
	return func(m *connectionManager) {
		m.dialOpts = append(m.dialOpts, opts...)
	}
}

// NewConnectionManager creates the default connection manager.
func NewConnectionManager(opts ...ManagerOption) ConnectionManager {
	m := &connectionManager{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// NewConn creates a new client connection for the service target.
// Connection establishment is lazy; no network I/O happens here.
func (m *connectionManager) NewConn(svc *config.GRPCServiceConfig) (Conn, error) {
	if svc == nil {
		return nil, errors.New("grpc service config is required")
	}

	target, authority, err := ResolveTarget(svc)
	if err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	creds, err := transportCredentials(svc)
	if err != nil {
		return nil, err
	}
	opts = append(opts, grpc.WithTransportCredentials(creds))

	if authority != "" {
		opts = append(opts, grpc.WithAuthority(authority))
	}

	opts = append(opts, m.dialOpts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}

	m.logger.Debug("created gRPC client connection",
		observability.String("target", target),
	)

	return conn, nil
}

// ResolveTarget extracts the dial target and authority override from a
// service descriptor. It fails when the descriptor names no target,
// which lets configuration loading reject malformed blocks before any
// client is constructed.
func ResolveTarget(svc *config.GRPCServiceConfig) (target, authority string, err error) {
	switch {
	case svc.GoogleGRPC != nil:
		if svc.GoogleGRPC.TargetURI == "" {
			return "", "", errors.New("googleGRPC target URI is empty")
		}
		return svc.GoogleGRPC.TargetURI, svc.GoogleGRPC.Authority, nil
	case svc.EnvoyGRPC != nil:
		if svc.EnvoyGRPC.ClusterName == "" {
			return "", "", errors.New("envoyGRPC cluster name is empty")
		}
		return svc.EnvoyGRPC.ClusterName, svc.EnvoyGRPC.Authority, nil
	}
	return "", "", errors.New("grpc service has no target")
}

// transportCredentials builds transport credentials from the service
// descriptor's TLS settings.
func transportCredentials(svc *config.GRPCServiceConfig) (credentials.TransportCredentials, error) {
	if svc.GoogleGRPC == nil || svc.GoogleGRPC.TLS == nil || !svc.GoogleGRPC.TLS.Enabled {
		return insecure.NewCredentials(), nil
	}

	cfg := svc.GoogleGRPC.TLS
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator-controlled setting
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(tlsConfig), nil
}

var _ ConnectionManager = (*connectionManager)(nil)
