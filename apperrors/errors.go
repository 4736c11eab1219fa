// Package apperrors holds the error kinds shared by the import pipeline and
// the donor list review flow.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindValidation is bad caller input, rejected before any work starts.
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	// KindStateConflict is an operation the current state does not allow.
	KindStateConflict Kind = "state_conflict"
	// KindJobFatal is an infrastructure failure that ends a background job.
	KindJobFatal Kind = "job_fatal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so package level
// sentinels work with errors.Is after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func StateConflict(format string, args ...interface{}) error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

// JobFatal wraps an infrastructure error with a message for the poller.
func JobFatal(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindJobFatal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsStateConflict(err error) bool { return KindOf(err) == KindStateConflict }
func IsJobFatal(err error) bool      { return KindOf(err) == KindJobFatal }
