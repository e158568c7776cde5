package session

import (
	"errors"
	"fmt"
)

// Error taxonomy for the session core. Callers branch with errors.Is; the
// HTTP layer maps each sentinel to a status code.
var (
	// ErrValidation indicates a malformed request: unknown operation kind,
	// bad payload shape, or an out-of-bounds value. Nothing is persisted.
	ErrValidation = errors.New("session: validation failed")
	// ErrPermission indicates the session lacks the edit permission
	// required for a mutating call.
	ErrPermission = errors.New("session: permission denied")
	// ErrNotFound indicates the session, operation, or image does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrState indicates the session is in the wrong lifecycle state for
	// the requested transition (e.g. commit on a non-active session).
	ErrState = errors.New("session: invalid state")
	// ErrExpired indicates the session's expiry has passed. The expired
	// status is persisted before this error is returned.
	ErrExpired = errors.New("session: expired")
)

// ServiceError wraps a failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
