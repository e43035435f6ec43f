package common

import (
	"errors"
	"fmt"
)

// Failure kinds. Callers should match them with errors.Is; the transport edge
// maps each kind to exactly one status code.
var (
	// Client input errors.
	ErrorBadRequest    = errors.New("bad request")
	ErrorUnprocessable = errors.New("unprocessable entity")
	ErrorInvalidPath   = errors.New("invalid path")

	// Lookup and namespace errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// Auth errors.
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	// Everything the client cannot fix.
	ErrorInternal = errors.New("internal error")
)

// Error pairs a failure kind with the plain-text message shown to the caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message returns the caller-facing text of err. Errors that are not an
// *Error fall back to the kind's text when a kind matches, or to the
// generic internal message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	for _, kind := range []error{ErrorBadRequest, ErrorUnprocessable, ErrorInvalidPath,
		ErrorNotFound, ErrorConflict, ErrorUnauthorized, ErrInvalidToken, ErrTokenExpired} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ErrorInternal.Error()
}
