// Package panerr defines the error kinds shared by the transfer, listing and
// sync layers. Every kind supports errors.Is / errors.As through the usual
// wrapping chain.
package panerr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the remote rejects the session. It is never retried.
	ErrAuth = errors.New("pan: authentication failed")

	// ErrNotFound matches every *NotFoundError
	ErrNotFound = errors.New("pan: not found")

	// ErrConflict matches every *ConflictError
	ErrConflict = errors.New("pan: conflict")
)

// IoError is a local file access failure.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func NewIoError(op, path string, err error) *IoError {
	return &IoError{Op: op, Path: path, Err: err}
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// TransportError is a network or HTTP level failure.
type TransportError struct {
	Op  string
	Err error
}

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteAPIError is a well-formed request the remote answered with a
// non-zero status code.
type RemoteAPIError struct {
	Op      string
	Errno   int
	Message string
	Payload map[string]any
}

func NewRemoteAPIError(op string, errno int, message string) *RemoteAPIError {
	return &RemoteAPIError{Op: op, Errno: errno, Message: message}
}

func (e *RemoteAPIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %s errno=%d", e.Op, e.Errno)
	}
	return fmt.Sprintf("api error: %s errno=%d - %s", e.Op, e.Errno, e.Message)
}

// ConflictError is a file/directory type mismatch between source and destination.
type ConflictError struct {
	Path   string
	Reason string
}

func NewConflictError(path, reason string) *ConflictError {
	return &ConflictError{Path: path, Reason: reason}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s: %s", e.Path, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError is a meta lookup on a path that does not exist.
type NotFoundError struct {
	Path string
}

func NewNotFoundError(path string) *NotFoundError {
	return &NotFoundError{Path: path}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether a failed remote call may be re-issued.
// Only transport failures and remote API errors qualify; auth failures,
// missing paths, conflicts, local I/O and cancellation do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return false
	}

	var ioErr *IoError
	if errors.As(err, &ioErr) {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var apiErr *RemoteAPIError
	return errors.As(err, &apiErr)
}
