// Package errs defines the error kinds returned by the lifecycle engine.
//
// Every error handed to the interaction layer wraps exactly one kind, so
// callers switch on errors.Is(err, errs.ErrNotFound) and friends to pick a
// user-facing message. The wrapped cause (if any) stays reachable through
// errors.Unwrap for logging.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyTerminal = errors.New("already terminal")
	ErrWindowExpired   = errors.New("window expired")
	ErrPastTime        = errors.New("time is in the past")
	ErrBlocked         = errors.New("scheduling blocked")
	ErrStore           = errors.New("record store failure")
	ErrDelivery        = errors.New("notification delivery failed")
)

// Error carries the operation that failed, its kind and an optional cause.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches both the kind and the wrapped cause.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an error of the given kind without a cause.
func E(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around err. It returns nil for a nil err.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Store wraps a record store failure.
func Store(op string, err error) error { return Wrap(op, ErrStore, err) }

// KindOf returns the taxonomy kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, k := range []error{
		ErrValidation, ErrNotFound, ErrForbidden, ErrAlreadyTerminal,
		ErrWindowExpired, ErrPastTime, ErrBlocked, ErrStore, ErrDelivery,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
