// Package core implements the admission engine, configuration resolver,
// token accountant, and mock generator client for the distributed rate
// limiter.
package core

import "errors"

// ErrorCode represents a typed error code, mapped onto HTTP status by the
// transport layer.
type ErrorCode string

const (
	CodeInvalidInput            ErrorCode = "INVALID_INPUT"
	CodeUnauthorized            ErrorCode = "UNAUTHORIZED"
	CodeRateLimited             ErrorCode = "RATE_LIMITED"
	CodeCoordinationUnavailable ErrorCode = "COORDINATION_UNAVAILABLE"
	CodeOverloaded              ErrorCode = "OVERLOADED"
	CodeGeneratorFailed         ErrorCode = "GENERATOR_FAILED"
)

// AppError is a typed application error.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap creates a new AppError.
func Wrap(code ErrorCode, msg string, err error) error {
	return &AppError{Code: code, Message: msg, Err: err}
}

// CodeOf returns the ErrorCode for an error.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ErrInvalidInput indicates a malformed or missing request field.
var ErrInvalidInput = &AppError{Code: CodeInvalidInput, Message: "invalid input"}

// ErrUnauthorized indicates a missing or malformed bearer token.
var ErrUnauthorized = &AppError{Code: CodeUnauthorized, Message: "unauthorized"}

// ErrCoordinationUnavailable indicates the coordination store could not be
// reached or its atomic script errored. Callers must never admit when this
// error is returned.
var ErrCoordinationUnavailable = &AppError{Code: CodeCoordinationUnavailable, Message: "coordination store unavailable"}

// ErrOverloaded indicates the node's in-flight request ceiling was reached.
var ErrOverloaded = &AppError{Code: CodeOverloaded, Message: "node overloaded"}

// ErrGeneratorFailed indicates the mock generator call failed or timed out.
var ErrGeneratorFailed = &AppError{Code: CodeGeneratorFailed, Message: "generator failed"}
