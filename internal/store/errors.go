package store

import (
	"errors"
	"fmt"
)

// Error is returned for every failure the store reports through an error
// event or a direct call.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Name is the store name the failure relates to, if any.
	Name string

	// Err is the underlying cause (SQLite error, I/O error), if any.
	Err error
}

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeVersion indicates a request for a version lower than the one on disk.
	ErrCodeVersion ErrorCode = "VERSION"

	// ErrCodeAborted indicates a transaction was aborted before it could commit.
	ErrCodeAborted ErrorCode = "ABORTED"

	// ErrCodeInvalidState indicates an operation on a closed connection or finished transaction.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeNotFound indicates a container or record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidName indicates a store or container name that cannot be used.
	ErrCodeInvalidName ErrorCode = "INVALID_NAME"

	// ErrCodeInvalidVersion indicates a requested version outside 1..MaxVersion.
	ErrCodeInvalidVersion ErrorCode = "INVALID_VERSION"

	// ErrCodeReadOnly indicates a write attempted in a read-only transaction.
	ErrCodeReadOnly ErrorCode = "READ_ONLY"

	// ErrCodeUnknown wraps SQLite or filesystem failures.
	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Name != "" {
		msg = fmt.Sprintf("%s (store=%s)", msg, e.Name)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, name, message string, err error) *Error {
	return &Error{Code: code, Message: message, Name: name, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsVersionError returns true if err reports a version downgrade attempt.
func IsVersionError(err error) bool {
	return CodeOf(err) == ErrCodeVersion
}

// IsAborted returns true if err reports an aborted transaction.
func IsAborted(err error) bool {
	return CodeOf(err) == ErrCodeAborted
}

// IsInvalidState returns true if err reports use of a closed connection or
// finished transaction.
func IsInvalidState(err error) bool {
	return CodeOf(err) == ErrCodeInvalidState
}

// IsNotFound returns true if err reports a missing container or record.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
