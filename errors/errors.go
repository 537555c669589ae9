// Package errors provides typed error handling for the nk container runtime.
//
// This package defines domain-specific error types that enable better error
// classification, debugging, and user feedback. All errors support the standard
// errors.Is() and errors.As() functions for error inspection.
package errors

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of an error.
type ErrorKind int

const (
	// ErrInvalidArgs indicates a missing container id, an incompatible flag
	// combination, or an unknown subcommand.
	ErrInvalidArgs ErrorKind = iota
	// ErrNotFound indicates a state record was missing on load.
	ErrNotFound
	// ErrAlreadyExists indicates a duplicate id on create.
	ErrAlreadyExists
	// ErrBadState indicates the record's state is wrong for the requested
	// operation (e.g. start on a non-created record).
	ErrBadState
	// ErrSpecInvalid indicates the config document is missing, unparseable,
	// or missing required fields.
	ErrSpecInvalid
	// ErrSyscallFailed indicates a kernel operation was rejected (clone,
	// mount, pivot_root, setns, mknod, cgroup write).
	ErrSyscallFailed
	// ErrChildInitFailed indicates the child did not signal readiness (a
	// zero byte) during the process spawn handshake: the pipe closed
	// without data, or the child wrote a failure message instead.
	ErrChildInitFailed
	// ErrRuntimeUnsupported indicates vm mode was requested.
	ErrRuntimeUnsupported
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidArgs:
		return "invalid arguments"
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrBadState:
		return "bad state"
	case ErrSpecInvalid:
		return "invalid spec"
	case ErrSyscallFailed:
		return "syscall failed"
	case ErrChildInitFailed:
		return "child init failed"
	case ErrRuntimeUnsupported:
		return "runtime unsupported"
	default:
		return "unknown error"
	}
}

// ContainerError represents an error that occurred during a container operation.
type ContainerError struct {
	// Op is the operation that failed (e.g., "create", "start", "exec").
	Op string
	// Container is the container ID, if applicable.
	Container string
	// Err is the underlying error.
	Err error
	// Kind is the error classification.
	Kind ErrorKind
	// Detail provides additional context about the error.
	Detail string
}

// Error returns the error message.
func (e *ContainerError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var msg string
	if e.Container != "" {
		msg = fmt.Sprintf("container %s: ", e.Container)
	}
	if e.Op != "" {
		msg += fmt.Sprintf("%s: ", e.Op)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ContainerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target.
// It matches if the target is a *ContainerError with the same Kind,
// or if the underlying error matches.
func (e *ContainerError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*ContainerError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new ContainerError with the given kind.
func New(kind ErrorKind, op string, detail string) *ContainerError {
	return &ContainerError{
		Op:     op,
		Kind:   kind,
		Detail: detail,
	}
}

// Wrap wraps an error with container context.
func Wrap(err error, kind ErrorKind, op string) *ContainerError {
	return &ContainerError{
		Op:   op,
		Err:  err,
		Kind: kind,
	}
}

// WrapWithContainer wraps an error with container context and ID.
func WrapWithContainer(err error, kind ErrorKind, op string, containerID string) *ContainerError {
	return &ContainerError{
		Op:        op,
		Container: containerID,
		Err:       err,
		Kind:      kind,
	}
}

// WrapWithDetail wraps an error with additional detail.
func WrapWithDetail(err error, kind ErrorKind, op string, detail string) *ContainerError {
	return &ContainerError{
		Op:     op,
		Err:    err,
		Kind:   kind,
		Detail: detail,
	}
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind ErrorKind) bool {
	var cerr *ContainerError
	if errors.As(err, &cerr) {
		return cerr.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is a ContainerError.
func GetKind(err error) (ErrorKind, bool) {
	var cerr *ContainerError
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}
	return 0, false
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
