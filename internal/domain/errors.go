package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the harvester error taxonomy.
var (
	// ErrConfiguration indicates an invalid or incomplete run configuration.
	// Configuration errors are fatal and abort the run before any fetch.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport indicates that a page or item could not be fetched.
	ErrTransport = errors.New("transport error")

	// ErrExtraction indicates that a fetched page did not have the expected shape.
	ErrExtraction = errors.New("extraction error")

	// ErrStore indicates that persisting results or checkpoints failed.
	ErrStore = errors.New("store error")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ConfigurationError describes a problem with the run configuration.
type ConfigurationError struct {
	Field    string
	Message  string
	Expected []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := e.Message
	if len(e.Expected) > 0 {
		msg = fmt.Sprintf("%s (expected keys: %v)", msg, e.Expected)
	}
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", msg)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, msg)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// TransportError provides details about a failed fetch.
type TransportError struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error (status %d) fetching %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("transport error fetching %s: %s", e.URL, e.Message)
}

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap returns the underlying cause error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Temporary reports whether retrying the same request may succeed.
// Network failures, throttling and server errors are temporary; other
// client errors are not.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ExtractionError reports a page whose structure did not match what the
// provider adapter expects. Extraction errors are never retried.
type ExtractionError struct {
	Provider string
	Field    string
	Message  string
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction error: %s: %s", e.Provider, e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ExtractionError) Unwrap() error {
	return ErrExtraction
}

// StoreError provides details about a failed store operation.
type StoreError struct {
	Op    string
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s %s: %v", e.Op, e.Path, e.Cause)
}

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string, expected ...string) *ConfigurationError {
	return &ConfigurationError{
		Field:    field,
		Message:  message,
		Expected: expected,
	}
}

// NewTransportError creates a new TransportError.
func NewTransportError(url string, statusCode int, message string, cause error) *TransportError {
	return &TransportError{
		URL:        url,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewExtractionError creates a new ExtractionError.
func NewExtractionError(provider, field, message string) *ExtractionError {
	return &ExtractionError{
		Provider: provider,
		Field:    field,
		Message:  message,
	}
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, path string, cause error) *StoreError {
	return &StoreError{
		Op:    op,
		Path:  path,
		Cause: cause,
	}
}

// IsFatal reports whether err must abort the whole run.
// Only configuration and store errors are fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrStore)
}
