// Package errors provides structured error types for permbot.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the permission and command subsystem.
var (
	// ErrRateLimited is transient; the caller may retry after the window resets.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrForbidden is terminal for the invocation; never retried.
	ErrForbidden = errors.New("permission denied")
	// ErrUnauthorized signals an admin-only operation without sufficient privilege.
	ErrUnauthorized = errors.New("administrative permission required")
	// ErrNotFound signals a missing grant or record.
	ErrNotFound = errors.New("not found")
	// ErrUnknownCommand and ErrDuplicateCommand are configuration-time faults.
	ErrUnknownCommand   = errors.New("unknown command")
	ErrDuplicateCommand = errors.New("duplicate command")
	// ErrCyclicHierarchy is a fatal configuration fault detected at startup.
	ErrCyclicHierarchy = errors.New("cyclic role hierarchy")
	// ErrUnavailable signals a transient backing-store fault.
	ErrUnavailable = errors.New("store unavailable")
)

// StoreError wraps a failure from the grant store backend.
type StoreError struct {
	Op   string // "grant", "revoke", "list"
	User string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("grant store %s for user %s: %v", e.Op, e.User, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a StoreError.
func NewStoreError(op, user string, err error) *StoreError {
	return &StoreError{Op: op, User: user, Err: err}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return true
	}
	return errors.Is(err, ErrUnavailable)
}
