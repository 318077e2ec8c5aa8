package accesskit

import (
	"errors"
	"fmt"
)

// Custom errors
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("resource not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrNotLoggedIn      = errors.New("no active session")
	ErrSessionExpired   = errors.New("session expired")
)

// ImpersonationError reports a failed impersonation-token request. The session
// may still be viewing as the requested user through the staff-directory
// fallback, so callers must surface this error rather than swallow it.
type ImpersonationError struct {
	UserID string
	Err    error
}

func (e *ImpersonationError) Error() string {
	return fmt.Sprintf("impersonation token request for user %s failed: %v", e.UserID, e.Err)
}

func (e *ImpersonationError) Unwrap() error {
	return e.Err
}
