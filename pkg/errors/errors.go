// Package errors provides custom error types for the livesync system.
// These errors enable programmatic error checking across the transport,
// lock, and edit-session layers, and improve diagnostics in logs.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the livesync system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates that the credential was rejected or has expired
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable indicates that the server is temporarily unavailable
	ErrUnavailable = errors.New("server unavailable")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrLockConflict indicates that a record is locked by another identity
	ErrLockConflict = errors.New("record locked")

	// ErrUnsupported indicates that the server exposes no lock endpoint for a resource
	ErrUnsupported = errors.New("locking unsupported")

	// ErrSessionActive indicates that an edit session is already in progress
	ErrSessionActive = errors.New("edit session active")

	// ErrNoSession indicates that no edit session is open
	ErrNoSession = errors.New("no edit session")

	// ErrSaveInFlight indicates that a save must settle before the session can change
	ErrSaveInFlight = errors.New("save in flight")

	// ErrStopped indicates use of a component after teardown
	ErrStopped = errors.New("stopped")
)

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// APIError represents a non-success response from the REST API
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s %s (status %d): %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s %s: %s", e.Method, e.Endpoint, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return target == ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return target == ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return target == ErrLockConflict
	case e.StatusCode >= 500:
		return target == ErrUnavailable
	}
	return false
}

// NewAPIError creates a new APIError
func NewAPIError(method, endpoint string, statusCode int, message string) *APIError {
	return &APIError{
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    message,
	}
}

// ParseError represents an error when decoding wire data
type ParseError struct {
	Format  string // "json", "jwt", "url"
	Source  string // where the data came from, e.g. "frame" or "lock response"
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s parse error in %s: %s", e.Format, e.Source, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError
func NewParseError(format, source, message string, err error) *ParseError {
	return &ParseError{
		Format:  format,
		Source:  source,
		Message: message,
		Err:     err,
	}
}

// ResourceError represents an error during an operation on a record or component
type ResourceError struct {
	Operation string // "acquire", "release", "dial", "create"
	Resource  string // "lock", "channel", "session", "request"
	ID        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %s", e.Operation, e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Operation, e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// NewResourceError creates a new ResourceError
func NewResourceError(operation, resource, id string, err error) *ResourceError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ResourceError{
		Operation: operation,
		Resource:  resource,
		ID:        id,
		Message:   message,
		Err:       err,
	}
}

// AuthenticationError represents a rejected or expired credential
type AuthenticationError struct {
	Endpoint string
	Method   string // "bearer", "login"
	Message  string
	Err      error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("authentication error for %s (%s): %s", e.Endpoint, e.Method, e.Message)
	}
	return fmt.Sprintf("authentication error (%s): %s", e.Method, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// NewAuthenticationError creates a new AuthenticationError
func NewAuthenticationError(endpoint, method, message string, err error) *AuthenticationError {
	return &AuthenticationError{
		Endpoint: endpoint,
		Method:   method,
		Message:  message,
		Err:      err,
	}
}

// LockError describes a lock operation that did not grant ownership.
// Holder is the display name of the current holder, empty when unknown.
type LockError struct {
	Key         string
	Holder      string
	Unsupported bool
}

// Error implements the error interface
func (e *LockError) Error() string {
	if e.Unsupported {
		return fmt.Sprintf("locking unsupported for %s", e.Key)
	}
	if e.Holder != "" {
		return fmt.Sprintf("%s is locked by %s", e.Key, e.Holder)
	}
	return fmt.Sprintf("%s is locked", e.Key)
}

// Is implements errors.Is support
func (e *LockError) Is(target error) bool {
	if e.Unsupported {
		return target == ErrUnsupported
	}
	return target == ErrLockConflict
}

// NewLockError creates a new LockError
func NewLockError(key, holder string, unsupported bool) *LockError {
	return &LockError{Key: key, Holder: holder, Unsupported: unsupported}
}

// SessionError represents an edit-session operation that is invalid in the current state
type SessionError struct {
	Operation string
	State     string
	Err       error
}

// Error implements the error interface
func (e *SessionError) Error() string {
	return fmt.Sprintf("cannot %s in state %s: %v", e.Operation, e.State, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError
func NewSessionError(operation, state string, err error) *SessionError {
	return &SessionError{Operation: operation, State: state, Err: err}
}

// TimeoutError represents an operation timeout
type TimeoutError struct {
	Operation string
	Duration  string
	Message   string
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Duration != "" {
		return fmt.Sprintf("operation %s timed out after %s: %s", e.Operation, e.Duration, e.Message)
	}
	return fmt.Sprintf("operation %s timed out: %s", e.Operation, e.Message)
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation, duration, message string) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		Message:   message,
	}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnauthorized checks if an error reports a rejected credential
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsLockConflict checks if an error reports a record held by someone else
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Helper wrapping functions for common patterns

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapResource wraps an error as a ResourceError
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewResourceError(operation, resource, id, err)
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, source string, err error) error {
	if err == nil {
		return nil
	}
	return NewParseError(format, source, err.Error(), err)
}
