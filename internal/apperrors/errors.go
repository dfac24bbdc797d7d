// Package apperrors defines the error taxonomy shared by services and handlers.
package apperrors

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to clients.
const (
	CodeValidation   = "validation_error"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeStorageError = "storage_error"
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string { return CodeValidation }

// AuthorizationError reports an entity that exists but is owned by someone else.
type AuthorizationError struct {
	Resource string
	ID       any
}

func NewAuthorizationError(resource string, id any) *AuthorizationError {
	return &AuthorizationError{Resource: resource, ID: id}
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to access %s %v", e.Resource, e.ID)
}

func (e *AuthorizationError) Code() string { return CodeForbidden }

// NotFoundError reports an entity that does not exist for the caller.
type NotFoundError struct {
	Resource string
	ID       any
}

func NewNotFoundError(resource string, id any) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// ConflictError reports a write that clashes with existing state.
type ConflictError struct {
	Message string
}

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Code() string { return CodeConflict }

// StorageError wraps a persistence failure. Its detail is never shown to clients.
type StorageError struct {
	Op  string
	Err error
}

// Storage wraps err as a StorageError unless it already belongs to the taxonomy.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Code() string { return CodeStorageError }

// Coded is implemented by every error of the taxonomy.
type Coded interface {
	error
	Code() string
}

// IsDomain reports whether err is (or wraps) one of the taxonomy's errors.
func IsDomain(err error) bool {
	var coded Coded
	return errors.As(err, &coded)
}
