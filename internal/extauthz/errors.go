package extauthz

import (
	"errors"
	"fmt"
)

// Common filter construction errors.
var (
	// ErrDeprecatedUseAlpha indicates the removed useAlpha option is set.
	ErrDeprecatedUseAlpha = errors.New("the useAlpha option is deprecated and is no longer supported")

	// ErrNoTransport indicates no authorization transport is configured.
	ErrNoTransport = errors.New("no authorization transport configured")

	// ErrCheckFailed indicates the authorization check could not be completed.
	ErrCheckFailed = errors.New("authorization check failed")
)

// ConfigurationError is a fatal configuration-load error. A block that
// produces one must never install a filter instance; loading aborts for
// that block before any client is constructed.
type ConfigurationError struct {
	// Field is the configuration field at fault, when known.
	Field string

	// Err is the underlying error.
	Err error
}

// Error returns the error message.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid ext_authz configuration: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid ext_authz configuration: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// newConfigurationError wraps err as a ConfigurationError.
func newConfigurationError(field string, err error) error {
	return &ConfigurationError{Field: field, Err: err}
}
