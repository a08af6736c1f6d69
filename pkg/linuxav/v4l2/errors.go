//go:build linux

package v4l2

import (
	"errors"
	"fmt"
)

// Error codes for streaming operations.
const (
	ErrCodeAllocation    = "ALLOCATION_FAILED"
	ErrCodeMap           = "MAP_FAILED"
	ErrCodeQueue         = "QUEUE_FAILED"
	ErrCodeStreamControl = "STREAM_CONTROL_FAILED"
	ErrCodeState         = "INVALID_STATE"
)

// Error is a streaming error carrying a code and the underlying cause,
// usually a unix.Errno from the driver.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so callers can test
// errors.Is(err, v4l2.ErrQueue) without caring about the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Code-only sentinels for errors.Is.
var (
	ErrAllocation    = &Error{Code: ErrCodeAllocation}
	ErrMap           = &Error{Code: ErrCodeMap}
	ErrQueue         = &Error{Code: ErrCodeQueue}
	ErrStreamControl = &Error{Code: ErrCodeStreamControl}
	ErrState         = &Error{Code: ErrCodeState}
)

var (
	// ErrNoBuffers is returned when the driver grants zero buffers.
	ErrNoBuffers = errors.New("v4l2: driver granted no buffers")

	// ErrStreamClosed is returned by operations on a closed stream.
	ErrStreamClosed = errors.New("v4l2: stream closed")

	// ErrStreamBusy is returned when a stream is used re-entrantly from a
	// buffer callback or from two goroutines at once.
	ErrStreamBusy = errors.New("v4l2: stream in use")

	// ErrHandleConsumed is returned when a device or format handle is used
	// after ownership of its file descriptor moved elsewhere.
	ErrHandleConsumed = errors.New("v4l2: handle already consumed")
)
