// Package errs defines coded errors for conditions that are expected at
// runtime: session limits, missing binaries, absent directories. Callers
// branch on the code with Is; anything not expressible as a code is a plain
// wrapped error. Panics are reserved for programmer errors.
package errs

import (
	"fmt"
)

// Code identifies a specific expected error condition.
type Code string

const (
	// Session lifecycle
	CodeLimitReached    Code = "SESSION_LIMIT_REACHED"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeInvalidState    Code = "SESSION_INVALID_STATE"

	// Environment
	CodeBinaryMissing   Code = "BINARY_MISSING"
	CodeWorkdirMissing  Code = "WORKDIR_MISSING"
	CodeTmuxUnavailable Code = "TMUX_UNAVAILABLE"

	// Workspace
	CodeWorktreeFailed Code = "WORKTREE_FAILED"
	CodeNotARepo       Code = "NOT_A_GIT_REPO"

	// Persistence
	CodeStateSaveFailed Code = "STATE_SAVE_FAILED"
)

// Error is a coded error with an optional hint for the user.
type Error struct {
	Code    Code
	Message string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// WithHint returns the error with a user-facing hint attached.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	for err != nil {
		if coded, ok := err.(*Error); ok && coded.Code == code {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// CodeOf extracts the code from an error, or "" if it has none.
func CodeOf(err error) Code {
	for err != nil {
		if coded, ok := err.(*Error); ok {
			return coded.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
