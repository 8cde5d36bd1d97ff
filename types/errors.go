package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindAuthorization  ErrorKind = "authorization"
	ErrorKindNotFound       ErrorKind = "not_found"
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindInternal       ErrorKind = "internal"
)

const internalErrorMessage = "internal error"

// Error is an operational error that is reported to the client that caused it.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewAuthenticationError(err error, format string, args ...interface{}) *Error {
	return newError(ErrorKindAuthentication, err, format, args...)
}

func NewAuthorizationError(format string, args ...interface{}) *Error {
	return newError(ErrorKindAuthorization, nil, format, args...)
}

func NewNotFoundError(format string, args ...interface{}) *Error {
	return newError(ErrorKindNotFound, nil, format, args...)
}

func NewValidationError(format string, args ...interface{}) *Error {
	return newError(ErrorKindValidation, nil, format, args...)
}

// KindOf returns the kind of err, anything that is not an *Error is internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindInternal
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ToPayload converts err into what the client gets to see. Internal errors are never described in detail.
func ToPayload(err error) ErrorPayload {
	var e *Error
	if errors.As(err, &e) && e.Kind != ErrorKindInternal {
		return ErrorPayload{Kind: e.Kind, Message: e.Message}
	}
	return ErrorPayload{Kind: ErrorKindInternal, Message: internalErrorMessage}
}
