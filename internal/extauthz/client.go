package extauthz

import "context"

// CheckRequest is the authorization check submitted to the external
// service. The wire encoding is transport-specific; the fields are the
// shared contract.
type CheckRequest struct {
	// ID uniquely identifies this check for correlation.
	ID string `json:"id,omitempty"`

	// Method is the client request method.
	Method string `json:"method"`

	// Path is the client request path.
	Path string `json:"path"`

	// Host is the client request authority.
	Host string `json:"host,omitempty"`

	// Headers are the forwarded client request headers.
	Headers map[string]string `json:"headers,omitempty"`

	// ContextExtensions are route-level key/value pairs attached to the check.
	ContextExtensions map[string]string `json:"context_extensions,omitempty"`

	// Body is the buffered client request body, when enabled.
	Body []byte `json:"body,omitempty"`
}

// CheckResponse is the authorization decision delivered by the external
// service.
type CheckResponse struct {
	// Allowed reports the decision.
	Allowed bool `json:"allowed"`

	// Status is the HTTP status to return on deny; zero means 403.
	Status int `json:"status,omitempty"`

	// Body is the response body to return on deny.
	Body []byte `json:"body,omitempty"`

	// Headers are injected into the upstream request on allow.
	Headers map[string]string `json:"headers,omitempty"`

	// DeniedHeaders are returned to the client on deny.
	DeniedHeaders map[string]string `json:"denied_headers,omitempty"`
}

// Client is the uniform authorization client capability: submit a check
// with a bounded timeout and deliver a decision or failure. Every
// transport variant presents this same surface to the filter.
type Client interface {
	// Check submits an authorization check.
	Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error)

	// Close releases resources owned exclusively by this client. Closing
	// a client wrapping a shared connection never closes the connection.
	Close() error
}
