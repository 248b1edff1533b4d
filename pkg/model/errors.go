package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced session, alert, share or report does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an operation would violate a state invariant
	ErrConflict = errors.New("conflict")
	// ErrForbidden is returned when the caller does not own the resource
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports malformed input, rejected before any storage call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StorageError wraps a persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DispatchError wraps a notification delivery failure
type DispatchError struct {
	UserID  string
	AlertID string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of alert %s to user %s failed: %v", e.AlertID, e.UserID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NotFound wraps ErrNotFound with the resource kind and id
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is a StorageError
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
