package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindAuthRequired ErrorKind = "auth_required"
	KindForbidden    ErrorKind = "forbidden"
	KindTransient    ErrorKind = "transient"
	KindFatal        ErrorKind = "fatal"
)

// Error carries a kind so the HTTP boundary can map it to a status code
// without string matching.
type Error struct {
	Kind   ErrorKind
	Msg    string
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Ef(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

func ValidationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Msg: "validation failed", Fields: fields}
}

// KindOf reports the kind of err, defaulting to fatal for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

var (
	ErrOutOfInventory    = E(KindConflict, "not enough seats available")
	ErrIllegalTransition = E(KindConflict, "illegal booking status transition")
	ErrAccessDenied      = E(KindForbidden, "access denied")
	ErrNotFound          = E(KindNotFound, "not found")
)
