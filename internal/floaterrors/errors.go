// Package floaterrors provides sentinel and custom error types for the query pipeline.
package floaterrors

import "fmt"

// ErrValidation represents a validation error.
// Use when client input fails validation (e.g. missing query text).
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// Dependencies reported by UnavailableError.
const (
	DependencyEmbedder = "embedder"
	DependencyStore    = "store"
)

// ErrUnavailable is the sentinel for infrastructure failures that abort a request.
var ErrUnavailable = &UnavailableError{}

// UnavailableError reports that a required dependency (embedder, store) failed.
// Err carries the underlying cause for logs; it is never shown to API clients.
type UnavailableError struct {
	Dependency string
	Err        error
}

// NewUnavailableError wraps err as a failure of the named dependency.
func NewUnavailableError(dependency string, err error) *UnavailableError {
	return &UnavailableError{Dependency: dependency, Err: err}
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Dependency == "" {
		return "dependency unavailable"
	}

	if e.Err == nil {
		return e.Dependency + " unavailable"
	}

	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

// Unwrap returns the underlying cause.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is implements the error interface for error comparison.
func (e *UnavailableError) Is(target error) bool {
	_, ok := target.(*UnavailableError)

	return ok
}

// MalformedRecordError describes a stored record that cannot be used (wrong embedding dimension,
// missing coordinates, unreadable columns). It is logged and counted, never returned to clients.
type MalformedRecordError struct {
	ProfileID int64
	Reason    string
}

// Malformed record reasons (bounded set, used as metric attributes).
const (
	ReasonDimensionMismatch = "dimension_mismatch"
	ReasonMissingEmbedding  = "missing_embedding"
	ReasonInvalidEmbedding  = "invalid_embedding"
	ReasonInvalidLocation   = "invalid_location"
	ReasonInvalidTimestamp  = "invalid_timestamp"
	ReasonInvalidLevel      = "invalid_level"
)

// Error implements the error interface.
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed profile %d: %s", e.ProfileID, e.Reason)
}

// Is implements the error interface for error comparison.
func (e *MalformedRecordError) Is(target error) bool {
	_, ok := target.(*MalformedRecordError)

	return ok
}

// ErrNotFound represents a "not found" error.
// Use when a requested record doesn't exist (e.g. a profile deleted before its embedding job ran).
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for records that are not found.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "resource not found"
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}
