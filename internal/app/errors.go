package app

import (
	"errors"
	"fmt"
)

// Sentinel errors map to stable HTTP statuses in the server layer.
var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("object storage is not configured")
)

// ValidationError rejects a request the caller can fix. The detail text
// is safe to return to clients verbatim.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// NotificationError reports a mandatory email that could not be
// delivered. Order placement has no durable record, so this surfaces
// as a server error instead of being swallowed.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification failed: %v", e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
