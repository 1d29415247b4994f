// Package errors provides structured error types for portkeeper.
//
// This package defines error codes and types that enable:
//   - Telling fatal load-time failures apart from per-item recoverable ones
//   - Machine-readable error codes for programmatic handling
//   - User-friendly error messages
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Fatal codes abort the operation that raised them:
//   - MALFORMED_STORE, MISSING_MANDATORY_FIELD: the record store cannot be loaded
//   - STALE_CACHE: an atom has no live candidates and no cached fallback
//
// Recoverable codes are caught at the per-item boundary and turned into a flag
// or a logged skip:
//   - PROTECTED_PATH: a filesystem mutation targeted a path outside the tree
//   - INSPECTION_FAILURE: a package could not be inspected (recorded as broken)
//   - AUX_SPEC_PARSE: an auxiliary spec document was skipped
//
// # Usage
//
//	err := errors.New(errors.ErrCodeProtectedPath, "outside of %s: %s", root, path)
//	if errors.Is(err, errors.ErrCodeProtectedPath) {
//	    // skip this file
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeMalformedStore, origErr, "load %s", path)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidAtom   Code = "INVALID_ATOM"
	ErrCodeInvalidPath   Code = "INVALID_PATH"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"

	// Record store errors (fatal at load time)
	ErrCodeMalformedStore        Code = "MALFORMED_STORE"
	ErrCodeMissingMandatoryField Code = "MISSING_MANDATORY_FIELD"

	// Tree errors
	ErrCodeProtectedPath Code = "PROTECTED_PATH"
	ErrCodeStaleCache    Code = "STALE_CACHE"

	// Per-item recoverable errors
	ErrCodeInspectionFailure Code = "INSPECTION_FAILURE"
	ErrCodeAuxSpecParse      Code = "AUX_SPEC_PARSE"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code,
// including errors joined with errors.Join.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		if e.Cause == nil {
			return false
		}
		err = e.Cause
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if Is(inner, code) {
					return true
				}
			}
			return false
		}
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsRecoverable reports whether err carries one of the per-item codes that
// callers convert into a flag or a logged skip instead of aborting.
func IsRecoverable(err error) bool {
	switch GetCode(err) {
	case ErrCodeProtectedPath, ErrCodeInspectionFailure, ErrCodeAuxSpecParse:
		return true
	}
	return false
}
