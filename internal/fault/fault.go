package fault

import (
	"errors"
	"fmt"
)

// Kind sentinels. Callers classify failures with errors.Is against these.
var (
	// ErrNotFound indicates the referenced entity does not exist among live rows.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a uniqueness constraint would be violated.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnauthorized indicates the acting user does not own the mutated entity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation indicates malformed input reached a service boundary.
	ErrValidation = errors.New("validation failed")
	// ErrInternal wraps unexpected store failures; never exposes the raw error kind.
	ErrInternal = errors.New("internal error")
)

// Error carries a kind sentinel plus an operation.reason code and optional cause.
type Error struct {
	kind error
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Is(target error) bool {
	return target == e.kind
}

// Code returns the operation.reason identifier attached at the raise site.
func (e *Error) Code() string {
	return e.code
}

func newError(kind error, operation, reason string, cause error) error {
	return &Error{kind: kind, code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// NotFound raises an ErrNotFound with an operation.reason code.
func NotFound(operation, reason string, cause error) error {
	return newError(ErrNotFound, operation, reason, cause)
}

// AlreadyExists raises an ErrAlreadyExists with an operation.reason code.
func AlreadyExists(operation, reason string, cause error) error {
	return newError(ErrAlreadyExists, operation, reason, cause)
}

// Unauthorized raises an ErrUnauthorized with an operation.reason code.
func Unauthorized(operation, reason string, cause error) error {
	return newError(ErrUnauthorized, operation, reason, cause)
}

// Validation raises an ErrValidation with an operation.reason code.
func Validation(operation, reason string, cause error) error {
	return newError(ErrValidation, operation, reason, cause)
}

// Internal wraps an unexpected store or infrastructure failure.
func Internal(operation, reason string, cause error) error {
	return newError(ErrInternal, operation, reason, cause)
}
