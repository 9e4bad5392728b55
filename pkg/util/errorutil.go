package util

import (
	"errors"
	"fmt"
)

// ClientError standardizes failures surfaced by the tracker client.
type ClientError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// NewClientError constructs a ClientError.
func NewClientError(code, message string, status int, details map[string]any) *ClientError {
	return &ClientError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewClientError("VALIDATION_FAILED", message, 0, details)
}

func NewUnauthorized(message string) error {
	return NewClientError("UNAUTHORIZED", message, 0, nil)
}

func NewFormNotFound(path string) error {
	return &ClientError{
		Code:    "FORM_NOT_FOUND",
		Message: fmt.Sprintf("expected form not found on %s", path),
		Details: map[string]any{"path": path},
	}
}

func NewParseError(page string, err error) error {
	return &ClientError{
		Code:    "PARSE_FAILED",
		Message: fmt.Sprintf("failed to parse %s page", page),
		Details: map[string]any{"page": page},
		Err:     err,
	}
}

func NewSubmissionRejected(status int, title string) error {
	return &ClientError{
		Code:       "SUBMISSION_REJECTED",
		Message:    "tracker rejected the submission",
		HTTPStatus: status,
		Details:    map[string]any{"title": title},
	}
}

func NewRemoteError(status int, path string) error {
	return &ClientError{
		Code:       "REMOTE_ERROR",
		Message:    fmt.Sprintf("tracker returned status %d for %s", status, path),
		HTTPStatus: status,
		Details:    map[string]any{"path": path},
	}
}

func NewInternalError(err error) error {
	return &ClientError{
		Code:    "INTERNAL_ERROR",
		Message: "internal client error",
		Err:     err,
	}
}

// ToClientError converts generic errors to ClientError.
func ToClientError(err error) *ClientError {
	if err == nil {
		return nil
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}
	return &ClientError{
		Code:    "INTERNAL_ERROR",
		Message: "internal client error",
		Err:     err,
	}
}

// IsCode reports whether err carries the given ClientError code.
func IsCode(err error, code string) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Code == code
	}
	return false
}
