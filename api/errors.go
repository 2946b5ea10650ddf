// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-rudp.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrSocketClosed          = errors.New("socket is closed")
	ErrSocketRunning         = errors.New("socket is already running")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidChannel        = errors.New("invalid channel")
	ErrNotConnected          = errors.New("connection is not connected")
	ErrResourceExhausted     = errors.New("resource exhausted")
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrPayloadTooLarge       = errors.New("payload too large")
	ErrUnconnectedNotAllowed = errors.New("unconnected messages are disabled")
	ErrBroadcastNotAllowed   = errors.New("broadcasts are disabled")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeInvalidArgument ErrorCode = iota + 1
	ErrCodeResourceExhausted
	ErrCodeMemory
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel the error was built from, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error that matches cause under errors.Is.
func WrapError(code ErrorCode, cause error, message string) *Error {
	e := NewError(code, message)
	e.cause = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Memory fault kinds. These are raised with panic because they always
// indicate misuse of pooled objects inside the engine.
var (
	ErrMemoryDead       = errors.New("memory object is dead")
	ErrDoubleDeAlloc    = errors.New("memory object deallocated twice")
	ErrMergeShrink      = errors.New("merge buffer cannot shrink")
	ErrChannelAssigned  = errors.New("channel is already assigned")
	ErrNegativeCapacity = errors.New("negative capacity")
)

// MemoryError is the panic value for pooled resource lifecycle violations.
type MemoryError struct {
	Code   ErrorCode
	Kind   error
	Object string
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Object, e.Kind)
}

func (e *MemoryError) Unwrap() error { return e.Kind }

// NewMemoryError builds a lifecycle fault for the named object kind.
func NewMemoryError(kind error, object string) *MemoryError {
	return &MemoryError{Code: ErrCodeMemory, Kind: kind, Object: object}
}
