// Package errors provides structured error types for tabcleaner.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrTabGone      = errors.New("tab no longer exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrTimeout      = errors.New("operation timed out")
	ErrUnavailable  = errors.New("service unavailable")
	ErrNotConnected = errors.New("browser not connected")
)

// BridgeError is an error reported by the browser extension for a bridge request.
type BridgeError struct {
	Method  string
	Code    string
	Message string
	Err     error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge %s failed (%s): %s: %v", e.Method, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge %s failed (%s): %s", e.Method, e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// NewBridgeError creates a bridge error. Well-known codes are mapped onto
// sentinels so callers can use errors.Is.
func NewBridgeError(method, code, message string) *BridgeError {
	e := &BridgeError{Method: method, Code: code, Message: message}
	switch code {
	case "no_tab", "not_found":
		e.Err = ErrTabGone
	case "timeout":
		e.Err = ErrTimeout
	case "busy":
		e.Err = ErrUnavailable
	}
	return e
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// IsTransient reports whether err is a per-operation platform failure that
// should be logged and skipped rather than aborting the surrounding work.
func IsTransient(err error) bool {
	return IsRetryable(err) || errors.Is(err, ErrTabGone) || errors.Is(err, ErrNotConnected)
}
