// Package apperr classifies infrastructure failures of a validation run.
// A reconciliation mismatch is never an error; it is a failed outcome.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind string

const (
	KindConnection Kind = "connection"
	KindExecution  Kind = "execution"
	KindJobFailed  Kind = "job_failed"
	KindSource     Kind = "source"
)

// Error wraps a failure with its kind and the operation that raised it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrExecution  = &Error{Kind: KindExecution}
	ErrJobFailed  = &Error{Kind: KindJobFailed}
	ErrSource     = &Error{Kind: KindSource}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Wrap returns err tagged with kind and op. A nil err yields a bare error of that kind.
func Wrap(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Connection tags a failure to reach a remote host or data source.
func Connection(op string, err error) error { return Wrap(KindConnection, op, err) }

// Execution tags a failure raised mid-flight by a remote command or query.
func Execution(op string, err error) error { return Wrap(KindExecution, op, err) }

// Source tags a malformed or unreadable dataset.
func Source(op string, err error) error { return Wrap(KindSource, op, err) }

// JobFailed tags a job that ran without producing its completion marker.
func JobFailed(op string, reason string) error {
	return Wrap(KindJobFailed, op, errors.New(reason))
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
