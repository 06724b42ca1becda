package services

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindInvalidState ErrorKind = "invalid_state"
	KindInvalidInput ErrorKind = "invalid_input"
	KindConflict     ErrorKind = "conflict"
	KindForbidden    ErrorKind = "forbidden"
)

// Error is a domain failure reported to callers. It carries a kind that
// handlers map to a status code and a message safe to show to users.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is makes every *Error match the sentinel of its kind, so
// errors.Is(err, ErrNotFound) works for any not-found message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrForbidden    = &Error{Kind: KindForbidden}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func invalidState(format string, args ...any) error {
	return newError(KindInvalidState, format, args...)
}

func invalidInput(format string, args ...any) error {
	return newError(KindInvalidInput, format, args...)
}

func conflict(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

func forbidden(format string, args ...any) error {
	return newError(KindForbidden, format, args...)
}

// KindOf returns the kind of a domain error, or "" for infrastructure
// failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
