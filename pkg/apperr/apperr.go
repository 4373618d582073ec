// Package apperr classifies domain errors so transport layers can map them to responses.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced room, question or user that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an action the current state precludes (closed room, duplicate report).
	ErrConflict = errors.New("conflict")
	// ErrForbidden marks a requester who does not own the room.
	ErrForbidden = errors.New("forbidden")
	// ErrUnavailable marks an optional backend (S3, Redis) that is not configured.
	ErrUnavailable = errors.New("unavailable")
)

// Error carries a user-facing message and unwraps to one of the sentinel kinds.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

func newError(kind error, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Validation returns an ErrValidation with the given message.
func Validation(format string, args ...interface{}) error {
	return newError(ErrValidation, format, args...)
}

// NotFound returns an ErrNotFound with the given message.
func NotFound(format string, args ...interface{}) error {
	return newError(ErrNotFound, format, args...)
}

// Conflict returns an ErrConflict with the given message.
func Conflict(format string, args ...interface{}) error {
	return newError(ErrConflict, format, args...)
}

// Forbidden returns an ErrForbidden with the given message.
func Forbidden(format string, args ...interface{}) error {
	return newError(ErrForbidden, format, args...)
}

// Unavailable returns an ErrUnavailable with the given message.
func Unavailable(format string, args ...interface{}) error {
	return newError(ErrUnavailable, format, args...)
}

// Message returns the user-facing message when err is an *Error, or "" otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.msg
	}
	return ""
}
