package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StoreError wraps a backend error with the operation that failed.
type StoreError struct {
	Backend   string // "sqlite", "postgres", "memory"
	Op        string // "open", "count", "increment", "reset"
	Err       error
	Retryable bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// newStoreError builds a StoreError and classifies whether it is worth retrying.
func newStoreError(backend, op string, err error) *StoreError {
	return &StoreError{
		Backend:   backend,
		Op:        op,
		Err:       err,
		Retryable: isTransient(err),
	}
}

// isTransient reports whether err looks like a condition that may clear on
// its own: a locked sqlite file, a dropped connection, a network timeout.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"database is locked",
		"sqlite_busy",
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"too many clients",
		"try again",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
