package secret

import (
	"errors"
	"fmt"
)

// Kind classifies a vault failure. There is no "not found" kind: a
// missing secret is a normal outcome, never an error.
type Kind int

const (
	// KindUnavailable means the platform API or backing file could not be
	// opened at all.
	KindUnavailable Kind = iota + 1
	// KindIO covers read, write and serialization failures.
	KindIO
	// KindLockPoisoned means a panic happened while a vault lock was held and
	// the guarded state can no longer be trusted.
	KindLockPoisoned
	// KindMalformed means a stored payload is not valid JSON or UTF-8.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindIO:
		return "io"
	case KindLockPoisoned:
		return "lock-poisoned"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrUnavailable  = errors.New("secret store unavailable")
	ErrIO           = errors.New("secret store io failure")
	ErrLockPoisoned = errors.New("secret store lock poisoned")
	ErrMalformed    = errors.New("secret store payload malformed")
)

// Error is the error type returned by every backend. It never carries the
// secret value itself.
type Error struct {
	Kind    Kind
	Op      string // get, set, delete, open
	Backend string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Backend + " " + e.Op
	if e.Key != "" {
		msg += " " + fmt.Sprintf("%q", e.Key)
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrIO:
		return e.Kind == KindIO
	case ErrLockPoisoned:
		return e.Kind == KindLockPoisoned
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func newError(kind Kind, backend, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Backend: backend, Key: key, Err: err}
}
