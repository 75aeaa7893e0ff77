// Package errs defines the error taxonomy shared by the store, the schedule
// table, the runner and the CLI.
//
// Every error that crosses a component boundary is an *Error carrying a Kind.
// Callers test kinds with errors.Is against the sentinel values:
//
//	if errors.Is(err, errs.ErrNotFound) { ... }
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPersistence
	KindActionFailure
	KindActionTimeout
)

// Sentinels for errors.Is. They compare by kind, not by message.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrPersistence   = &Error{Kind: KindPersistence}
	ErrActionFailure = &Error{Kind: KindActionFailure}
	ErrActionTimeout = &Error{Kind: KindActionTimeout}
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFoundError"
	case KindConflict:
		return "ConflictError"
	case KindPersistence:
		return "PersistenceError"
	case KindActionFailure:
		return "ActionFailure"
	case KindActionTimeout:
		return "ActionTimeout"
	default:
		return "InternalError"
	}
}

// Code is the stable, machine-readable form printed by the CLI.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND_ERROR"
	case KindConflict:
		return "CONFLICT_ERROR"
	case KindPersistence:
		return "PERSISTENCE_ERROR"
	case KindActionFailure:
		return "ACTION_FAILURE"
	case KindActionTimeout:
		return "ACTION_TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// ExitCode maps a kind to the process exit status used by the CLI.
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation:
		return 2
	case KindNotFound:
		return 3
	case KindConflict:
		return 4
	case KindPersistence:
		return 5
	case KindActionFailure:
		return 6
	case KindActionTimeout:
		return 7
	default:
		return 1
	}
}

// Error is a classified error. Op names the operation that failed
// (e.g. "accounts.create"), Msg is the human-readable cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) ErrCode() string { return e.Kind.Code() }

func newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return newf(KindConflict, op, format, args...)
}

// Persistence wraps an I/O failure. A nil err yields nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

func ActionFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindActionFailure, Op: op, Err: err}
}

func ActionTimeout(op string, err error) error {
	return &Error{Kind: KindActionTimeout, Op: op, Err: err}
}

// Wrap classifies err under kind unless it is already classified.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Code(err error) string { return KindOf(err).Code() }

func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
