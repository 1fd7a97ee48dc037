package publish

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks an invalid endpoint configuration.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrDependency marks a transport that is not available in this build.
	ErrDependency = errors.New("missing dependency")
	// ErrTransport marks a delivery failure reported by a client.
	ErrTransport = errors.New("transport failure")
	// ErrClosed is returned when publishing through a closed client.
	ErrClosed = errors.New("client closed")
)

// ConfigurationError reports the offending entry of a configuration.
type ConfigurationError struct {
	Index  int
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DependencyError names the transport that could not be constructed.
type DependencyError struct {
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s support is not available", e.Dependency)
}

func (e *DependencyError) Unwrap() error { return ErrDependency }

// TransportError wraps the failure of one delivery attempt.
type TransportError struct {
	Endpoint string
	// Status is the HTTP status code, zero for non HTTP transports.
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("publish to %s: status %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("publish to %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }
