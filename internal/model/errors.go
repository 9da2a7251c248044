package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorises Loom errors. Resourcing shortfalls are not errors
// and have no code here; they travel as result fields.
type ErrorCode string

const (
	// ErrCodeValidation marks malformed input rejected before any side effect.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound marks a missing instance, row or entity.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConsistency marks a violated storage invariant, such as a
	// duplicate (rule, date) instance. Always rolls back the unit of work.
	ErrCodeConsistency ErrorCode = "CONSISTENCY"

	// ErrCodeConflict marks an illegal state transition.
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Error is a classified Loom error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// NewConsistencyError wraps err as a consistency violation.
func NewConsistencyError(message string, err error) *Error {
	return &Error{Code: ErrCodeConsistency, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsConsistency reports whether err is a consistency violation.
func IsConsistency(err error) bool { return CodeOf(err) == ErrCodeConsistency }

// IsConflict reports whether err is an illegal transition.
func IsConflict(err error) bool { return CodeOf(err) == ErrCodeConflict }
