package extauthz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Asher-Wang/envoy/internal/observability"
)

// maxDenyBodyBytes bounds how much of a deny response body is read.
const maxDenyBodyBytes = 1 << 20

// RawHTTPClient submits authorization checks as JSON POST requests to
// the configured server. One client exists per filter instance; it
// holds no state beyond the bound configuration and opens no connection
// until the first check.
type RawHTTPClient struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     observability.Logger
	metrics    *Metrics
}

// RawHTTPClientOption is a functional option for the raw HTTP client.
type RawHTTPClientOption func(*RawHTTPClient)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) RawHTTPClientOption {
	return func(c *RawHTTPClient) {
		c.httpClient = client
	}
}

// WithRawHTTPClientLogger sets the logger.
func WithRawHTTPClientLogger(logger observability.Logger) RawHTTPClientOption {
	return func(c *RawHTTPClient) {
		c.logger = logger
	}
}

// WithRawHTTPClientMetrics sets the metrics.
func WithRawHTTPClientMetrics(metrics *Metrics) RawHTTPClientOption {
	return func(c *RawHTTPClient) {
		c.metrics = metrics
	}
}

// NewRawHTTPClient creates a raw HTTP authorization client bound to the
// resolved client configuration.
func NewRawHTTPClient(config *ClientConfig, opts ...RawHTTPClientOption) (*RawHTTPClient, error) {
	if config == nil {
		return nil, fmt.Errorf("client config is required")
	}

	c := &RawHTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: observability.NopLogger(),
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
func (c *RawHTTPClient) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		c.metrics.RecordError(TransportRawHTTP.String(), "invalid_request")
		return nil, fmt.Errorf("failed to marshal check request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.checkURL(req.Path), bytes.NewReader(body))
	if err != nil {
		c.metrics.RecordError(TransportRawHTTP.String(), "invalid_request")
		return nil, fmt.Errorf("failed to create check request: %w", err)
	}

	httpReq.Header.Set(HeaderContentType, ContentTypeJSON)
	if req.ID != "" {
		httpReq.Header.Set(HeaderCheckID, req.ID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordError(TransportRawHTTP.String(), errorReason(err))
		return nil, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}
	defer resp.Body.Close()

	result, err := c.parseResponse(resp)
	if err != nil {
		c.metrics.RecordError(TransportRawHTTP.String(), "invalid_response")
		return nil, err
	}

	c.metrics.RecordRequest(TransportRawHTTP.String(), decision(result.Allowed), time.Since(start))
	c.logger.Debug("authorization check completed",
		observability.String("transport", TransportRawHTTP.String()),
		observability.Bool("allowed", result.Allowed),
		observability.String("check_id", req.ID),
	)

	return result, nil
}

// checkURL joins the server URI, the path prefix, and the client
// request path.
func (c *RawHTTPClient) checkURL(path string) string {
	return strings.TrimSuffix(c.config.ServerURI, "/") + c.config.PathPrefix + path
}

// parseResponse maps an authorization server response to a decision. A
// 200 allows the request; any other status denies it and is propagated
// to the client together with the response headers and body.
func (c *RawHTTPClient) parseResponse(resp *http.Response) (*CheckResponse, error) {
	if resp.StatusCode == http.StatusOK {
		result := &CheckResponse{
			Allowed: true,
			Headers: make(map[string]string, len(resp.Header)),
		}
		for k, vv := range resp.Header {
			if len(vv) > 0 {
				result.Headers[k] = vv[0]
			}
		}
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDenyBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read deny response: %w", err)
	}

	result := &CheckResponse{
		Allowed:       false,
		Status:        resp.StatusCode,
		Body:          body,
		DeniedHeaders: make(map[string]string, len(resp.Header)),
	}
	for k, vv := range resp.Header {
		if k == "Content-Length" || k == "Transfer-Encoding" {
			continue
		}
		if len(vv) > 0 {
			result.DeniedHeaders[k] = vv[0]
		}
	}
	return result, nil
}

// Close releases client resources.
func (c *RawHTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// decision maps an allow flag to a metrics label.
func decision(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// errorReason maps a transport error to a metrics label.
func errorReason(err error) string {
	if err == nil {
		return "unknown"
	}
	if isTimeout(err) {
		return "timeout"
	}
	return "connection_error"
}

// isTimeout reports whether the error is a deadline or timeout error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var _ Client = (*RawHTTPClient)(nil)
