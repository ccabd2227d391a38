package errors

import (
	"errors"
	"fmt"
)

// Kind tags every error the client surfaces so callers can branch on the
// failure class without string matching.
type Kind string

const (
	// KindNetwork means no response reached the server (offline, DNS,
	// timeout, cancelled transport).
	KindNetwork Kind = "network"

	// KindServer means the backend answered with a failure envelope or a
	// non-success HTTP status.
	KindServer Kind = "server"

	// KindNoRefreshToken means a refresh was attempted with nothing stored.
	KindNoRefreshToken Kind = "no_refresh_token"

	// KindStorage means a secure-storage write failed. Reads never produce
	// this kind; they degrade to "absent".
	KindStorage Kind = "storage"

	// KindCancelled means the operation was cancelled before completion.
	KindCancelled Kind = "cancelled"

	// KindValidation means the request was rejected client-side before any
	// network activity.
	KindValidation Kind = "validation"
)

// Error is the uniform failure shape surfaced by the client: a human-readable
// message, an optional form field and server code, and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Field   string // form field the failure relates to, when the server says
	Code    string // machine-readable server code, when present
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("%s error", e.Kind)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.cause.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches by Kind, so errors.Is(err, ErrNetwork) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrServer         = &Error{Kind: KindServer}
	ErrNoRefreshToken = &Error{Kind: KindNoRefreshToken}
	ErrStorage        = &Error{Kind: KindStorage}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrValidation     = &Error{Kind: KindValidation}
)

// New creates a tagged error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an underlying error. Returns nil when err is nil.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: err}
}

// Server builds a server-rejection error carrying the backend's message and
// optional field/code hints.
func Server(message, field, code string) *Error {
	return &Error{Kind: KindServer, Message: message, Field: field, Code: code}
}

// KindOf reports the Kind of err, or "" when err carries no taxonomy tag.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
