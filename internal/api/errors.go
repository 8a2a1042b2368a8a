package api

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the client-side limiter refuses to wait.
var ErrRateLimited = errors.New("request rate limited")

// AuthError means the credentials were rejected or are missing. Callers clear the
// stored token and send the user back to login.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return "auth: " + e.Message
	}
	return fmt.Sprintf("auth: HTTP %d: %s", e.Status, e.Message)
}

// NetworkError covers transport failures, non-success statuses, and bodies that
// fail validation. State is never mutated on a NetworkError.
type NetworkError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsAuth reports whether err is or wraps an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
