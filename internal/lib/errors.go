package lib

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError rejects a submission before any work starts. It is the
// only error surfaced synchronously from the run endpoint.
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError wraps a request validation failure.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError marks a lookup miss: an unknown execution id, project id, or
// an appointment the remote system has no record of.
type NotFoundError struct {
	Kind string // "execution", "project", "appointment", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

// NewNotFoundError creates a lookup-miss error.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// RemoteAPIError is a non-2xx response from the remote health-records API.
// Transient errors are retried with backoff; non-transient ones fail the
// operation immediately.
type RemoteAPIError struct {
	Operation  string
	StatusCode int
	Body       string
	Transient  bool
}

func (e *RemoteAPIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s failed with HTTP %d: %s", e.Operation, e.StatusCode, body)
}

// NewRemoteAPIError classifies a non-2xx remote response.
func NewRemoteAPIError(operation string, statusCode int, body string) *RemoteAPIError {
	return &RemoteAPIError{
		Operation:  operation,
		StatusCode: statusCode,
		Body:       body,
		Transient:  IsTransientHTTPStatus(statusCode),
	}
}

// ConflictError signals a write collision in the result store, such as a
// concurrent insert for the same project id. The store retries it as an
// update.
type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s '%s' already exists", e.Kind, e.ID)
}

// NewConflictError creates a write-collision error.
func NewConflictError(kind, id string) *ConflictError {
	return &ConflictError{Kind: kind, ID: id}
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// RuleExecutionError wraps a failure inside one rule's evaluation for one
// patient. It never aborts the run; it becomes an error-status outcome.
type RuleExecutionError struct {
	RuleID    int
	PatientID string
	Cause     error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %d failed for patient %s: %v", e.RuleID, e.PatientID, e.Cause)
}

func (e *RuleExecutionError) Unwrap() error {
	return e.Cause
}

// IsTransientHTTPStatus determines if an HTTP status warrants a retry.
// Server errors, timeouts, and rate limits are transient; everything in
// 4xx (including 403 from an expired token misconfiguration) is not.
func IsTransientHTTPStatus(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}
	switch statusCode {
	case 408, 429:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether an error should be retried: transient remote
// errors and network-level failures qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteAPIError
	if errors.As(err, &re) {
		return re.Transient
	}
	return IsNetworkError(err)
}

// IsNetworkError checks if an error is likely a network-level issue. These
// are typically transient and should be retried.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"deadline exceeded",
		"eof",
	}

	for _, pattern := range networkErrors {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}
