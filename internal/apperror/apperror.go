// Package apperror defines the domain error kinds shared by the service and
// HTTP layers.
//
// Services return *AppError values wrapping one of the sentinels below.
// Handlers never inspect messages; they map the sentinel to a status code
// with errors.Is (see handler.writeError).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrDependency   = errors.New("dependency failure")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type AppError struct {
	Err     error        // sentinel kind
	Message string       // Human-readable error message
	Field   string       // Optional: single field causing the error
	Fields  []FieldError // Optional: every rejected field, for multi-field validation
	Detail  string       // Optional: underlying cause surfaced to admins (dependency failures)
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

// Invalid bundles several field errors into one validation error.
// The message names the first failing field so single-line clients still get
// something useful.
func Invalid(fields []FieldError) *AppError {
	msg := "validation failed"
	if len(fields) > 0 {
		msg = fmt.Sprintf("validation failed: %s", fields[0].Message)
		if len(fields) > 1 {
			msg = fmt.Sprintf("%s (and %d more)", msg, len(fields)-1)
		}
	}
	return &AppError{
		Err:     ErrValidation,
		Message: msg,
		Fields:  fields,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// AlreadyExists is a conflict with a caller-facing message, e.g. a duplicate
// email or a second survey submission.
func AlreadyExists(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is used for bad credentials and invalid or expired tokens.
// Messages stay deliberately vague.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// DependencyFailed reports a failing collaborator (mail transport, storage).
// The cause is kept both in the chain and as Detail for the admin caller.
func DependencyFailed(message string, cause error) *AppError {
	e := &AppError{
		Err:     errors.Join(ErrDependency, cause),
		Message: message,
	}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}
