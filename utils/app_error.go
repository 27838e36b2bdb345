package utils

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindSession
	KindUnauthorized
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSession:
		return "session"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// AppError is an expected, caller-facing failure. Anything else reaching
// the HTTP layer is treated as internal.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewSessionError(msg string) *AppError {
	return &AppError{Kind: KindSession, Message: msg}
}

func NewUnauthorizedError(msg string) *AppError {
	return &AppError{Kind: KindUnauthorized, Message: msg}
}

func NewConflictError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
