package extauthz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/Asher-Wang/envoy/internal/config"
	"github.com/Asher-Wang/envoy/internal/observability"
)

// jsonCodec is a gRPC codec that marshals/unmarshals JSON check
// payloads. The check protocol's message schema is owned by the
// authorization service; this core only frames it.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

// GRPCClient submits authorization checks over a gRPC connection. The
// connection may be owned exclusively (dedicated transport) or shared
// through the client cache; ownership is expressed by the closer passed
// at construction.
type GRPCClient struct {
	conn       grpc.ClientConnInterface
	timeout    time.Duration
	apiVersion config.TransportAPIVersion
	initialMD  map[string]string
	closeFn    func() error
	logger     observability.Logger
	metrics    *Metrics
	transport  string
}

// GRPCClientOption is a functional option for the gRPC client.
type GRPCClientOption func(*GRPCClient)

// WithGRPCClientLogger sets the logger.
func WithGRPCClientLogger(logger observability.Logger) GRPCClientOption {
	return func(c *GRPCClient) {
		c.logger = logger
	}
}

// WithGRPCClientMetrics sets the metrics.
func WithGRPCClientMetrics(metrics *Metrics) GRPCClientOption {
	return func(c *GRPCClient) {
		c.metrics = metrics
	}
}

// WithInitialMetadata attaches metadata to every check call.
func WithInitialMetadata(md map[string]string) GRPCClientOption {
	return func(c *GRPCClient) {
		c.initialMD = md
	}
}

// WithCloser sets the function invoked by Close. Dedicated clients pass
// the connection's Close; clients over a shared connection pass nothing
// so the connection outlives them.
func WithCloser(closeFn func() error) GRPCClientOption {
	return func(c *GRPCClient) {
		c.closeFn = closeFn
	}
}

// withTransportLabel sets the metrics transport label.
func withTransportLabel(label string) GRPCClientOption {
	return func(c *GRPCClient) {
		c.transport = label
	}
}

// NewGRPCClient creates a gRPC authorization client wrapping the given
// connection with the resolved timeout and transport API version.
func NewGRPCClient(
	conn grpc.ClientConnInterface,
	timeout time.Duration,
	apiVersion config.TransportAPIVersion,
	opts ...GRPCClientOption,
) (*GRPCClient, error) {
	if conn == nil {
		return nil, fmt.Errorf("grpc connection is required")
	}

	c := &GRPCClient{
		conn:       conn,
		timeout:    timeout,
		apiVersion: apiVersion,
		logger:     observability.NopLogger(),
		transport:  TransportGRPCDedicated.String(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = GetSharedMetrics()
	}

	return c, nil
}

// Check submits an authorization check.
func (c *GRPCClient) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if len(c.initialMD) > 0 {
		pairs := make([]string, 0, len(c.initialMD)*2)
		for k, v := range c.initialMD {
			pairs = append(pairs, k, v)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	var resp CheckResponse
	err := c.conn.Invoke(ctx, c.checkMethod(), req, &resp, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		c.metrics.RecordError(c.transport, errorReason(err))
		return nil, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}

	c.metrics.RecordRequest(c.transport, decision(resp.Allowed), time.Since(start))
	c.logger.Debug("authorization check completed",
		observability.String("transport", c.transport),
		observability.Bool("allowed", resp.Allowed),
		observability.String("check_id", req.ID),
	)

	return &resp, nil
}

// checkMethod returns the check method for the configured transport API
// version.
func (c *GRPCClient) checkMethod() string {
	if c.apiVersion == config.TransportAPIVersionV2 {
		return GRPCCheckMethodV2
	}
	return GRPCCheckMethodV3
}

// Close releases resources owned exclusively by this client.
func (c *GRPCClient) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

var _ Client = (*GRPCClient)(nil)
