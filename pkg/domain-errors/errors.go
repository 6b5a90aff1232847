// Package domainerrors provides coded errors for the service layer.
//
// Stores return sentinel errors (pkg/platform/sentinel) describing
// infrastructure facts; services translate those into coded domain errors that
// handlers map onto HTTP statuses. A coded error optionally carries a list of
// field names so validation failures can report every missing field at once.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and retry decisions.
type Code string

const (
	CodeValidation         Code = "validation_failed"
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeIntegrity          Code = "integrity_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error. Fields is populated for validation errors
// that need to name every offending field, not just the first.
type Error struct {
	Code    Code
	Message string
	Fields  []string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while preserving the chain.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, wrapped: err}
}

// WithFields creates a coded error carrying the offending field names.
func WithFields(code Code, message string, fields ...string) error {
	return &Error{Code: code, Message: message, Fields: fields}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	for errors.As(err, &domainErr) {
		if domainErr.Code == code {
			return true
		}
		err = domainErr.wrapped
		domainErr = nil
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal when err is
// not a coded error.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// FieldsOf returns the field list of the outermost coded error, if any.
func FieldsOf(err error) []string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Fields
	}
	return nil
}

// MessageOf returns the outermost message, or an empty string for non-coded errors.
func MessageOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}
