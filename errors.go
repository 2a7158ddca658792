package tractus

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios in span tracking and exporting

// ErrTrackerStopped is returned when an operation is attempted on a tracker
// whose sweep loop has already been stopped.
var ErrTrackerStopped = errors.New("tracker stopped")

// ErrExporterRunning is returned when starting a metrics exporter on an
// address/path pair that is already serving.
var ErrExporterRunning = errors.New("metrics exporter already running")

// ErrExporterNotFound is returned when stopping or querying a metrics
// exporter that was never started.
var ErrExporterNotFound = errors.New("metrics exporter not found")

// ExporterError represents a failure in the metrics exporter lifecycle.
type ExporterError struct {
	// Op is the operation that failed ("start", "stop", "listen").
	Op string
	// Addr is the host:port/path the exporter was bound to.
	Addr string
	// OriginalError is the underlying error that occurred.
	OriginalError error
}

// Error implements the error interface for ExporterError.
func (e *ExporterError) Error() string {
	return fmt.Sprintf("metrics exporter %s %q: %v", e.Op, e.Addr, e.OriginalError)
}

// Unwrap returns the underlying error for compatibility with errors.Is and errors.As.
func (e *ExporterError) Unwrap() error {
	return e.OriginalError
}

// NewExporterError creates a new ExporterError with the provided details.
func NewExporterError(op, addr string, err error) *ExporterError {
	return &ExporterError{
		Op:            op,
		Addr:          addr,
		OriginalError: err,
	}
}

// ProviderError represents a tracer provider that could not be constructed,
// typically an exporter endpoint that failed to initialize.
type ProviderError struct {
	// Protocol is the exporter protocol that was requested.
	Protocol string
	// OriginalError is the underlying error that occurred.
	OriginalError error
}

// Error implements the error interface for ProviderError.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("tracer provider %q: %v", e.Protocol, e.OriginalError)
}

// Unwrap returns the underlying error for compatibility with errors.Is and errors.As.
func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// NewProviderError creates a new ProviderError with the provided details.
func NewProviderError(protocol string, err error) *ProviderError {
	return &ProviderError{
		Protocol:      protocol,
		OriginalError: err,
	}
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	// Field is the configuration field that failed validation.
	Field string
	// OriginalError is the underlying validation error.
	OriginalError error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config field %q: %v", e.Field, e.OriginalError)
	}
	return fmt.Sprintf("config: %v", e.OriginalError)
}

// Unwrap returns the underlying error for compatibility with errors.Is and errors.As.
func (e *ConfigError) Unwrap() error {
	return e.OriginalError
}

// NewConfigError creates a new ConfigError with the provided details.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field:         field,
		OriginalError: err,
	}
}
