package backend

import (
	"errors"
	"fmt"
)

// ValidationError is bad input detected before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// AuthError means the caller is not signed in or the session is invalid.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// RemoteError is a backend call that failed after retries.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string { return fmt.Sprintf("remote %s: %v", e.Op, e.Err) }
func (e *RemoteError) Unwrap() error { return e.Err }

// UploadError is a failed blob-store phase of an upload.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Path, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// SubscriptionError is a dropped realtime channel. It is recovered by
// reconnecting and only ever logged.
type SubscriptionError struct {
	Channel string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Channel, e.Err)
}
func (e *SubscriptionError) Unwrap() error { return e.Err }

var errUnknownConnection = errors.New("backend: unknown connection state")

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
