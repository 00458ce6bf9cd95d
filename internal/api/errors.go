package api

import (
	"errors"
	"fmt"
)

// ErrAuthFailure indicates the session token was rejected. The caller is
// expected to log out and tear down all derived state.
var ErrAuthFailure = errors.New("session not authenticated")

// TransportError wraps a network or server-side failure on a request.
// These are surfaced to the user as transient notices and never retried
// automatically.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// APIError is a request the backend answered with success=false.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: request failed", e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}
