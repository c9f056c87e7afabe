package extauthz

import "time"

// DefaultTimeout is the check call deadline applied when the
// configuration does not set one.
const DefaultTimeout = 200 * time.Millisecond

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderCheckID carries the per-check ID to the authorization server.
	HeaderCheckID = "X-Authz-Check-Id"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// gRPC check method names by transport API version.
const (
	// GRPCCheckMethodV3 is the v3 check method.
	GRPCCheckMethodV3 = "/authz.v3.Authorization/Check"

	// GRPCCheckMethodV2 is the legacy v2 check method.
	GRPCCheckMethodV2 = "/authz.v2.Authorization/Check"
)
