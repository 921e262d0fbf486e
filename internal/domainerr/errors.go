// Package domainerr is the typed error taxonomy returned across the
// collaboration core boundary.
package domainerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflictState       Kind = "conflict_state"
	KindPermissionDenied    Kind = "permission_denied"
	KindBusy                Kind = "busy"
	KindTransformDivergence Kind = "transform_divergence"
	KindInternal            Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinels compare equal
// to their derived copies.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// With returns a copy carrying details.
func (e *Error) With(details any) *Error {
	next := *e
	next.Details = details
	return &next
}

// Wrap returns a copy wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	next := *e
	next.Err = cause
	return &next
}

// Withf returns a copy with a formatted message.
func (e *Error) Withf(format string, args ...any) *Error {
	next := *e
	next.Message = fmt.Sprintf(format, args...)
	return &next
}

// KindOf reports the kind of the first *Error in err's chain, or
// KindInternal for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindBusy
}
