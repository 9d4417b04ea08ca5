package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrConnectionNotFound is returned when no connection matches a lookup.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrStaleConnection is returned when a conditional update loses a race
	// against a concurrent writer of the same connection.
	ErrStaleConnection = errors.New("connection was modified concurrently")
)

// ValidationError reports an inbound payload that does not satisfy the
// payload schema. It carries one message per violated rule.
type ValidationError struct {
	Messages []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "payload validation failed"
	}
	return "payload validation failed: " + strings.Join(e.Messages, "; ")
}

// PersistenceError reports a failed write of connection parameters.
type PersistenceError struct {
	// Flow is the name of the flow whose connection could not be updated.
	Flow string
	Err  error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("could not update %s parameters: %v", e.Flow, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Code returns the error code reported to the caller of a flow.
func (e *PersistenceError) Code() int { return http.StatusInternalServerError }

// WebhookError is returned by the webhook client for any non-2xx response.
// Whether it is fatal is decided by the job that made the call.
type WebhookError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *WebhookError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError is returned when a 2xx webhook response carries a
// body that is not a JSON object.
type MalformedResponseError struct {
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed webhook response (status %d): %v", e.StatusCode, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsPersistence returns true if err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsWebhook returns true if err is or wraps a WebhookError.
func IsWebhook(err error) bool {
	var target *WebhookError
	return errors.As(err, &target)
}

// IsMalformedResponse returns true if err is or wraps a MalformedResponseError.
func IsMalformedResponse(err error) bool {
	var target *MalformedResponseError
	return errors.As(err, &target)
}

// IsNotFound returns true if err wraps ErrConnectionNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound)
}

// IsStale returns true if err wraps ErrStaleConnection.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleConnection)
}
