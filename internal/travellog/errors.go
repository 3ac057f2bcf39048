package travellog

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures of a single owner's flow.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAlreadyInFlight
	KindInvalidInput
	KindRemoteUnavailable
	KindRemoteRejected
	KindTimeout
	// KindStaleDataServed is a warning: it accompanies a degraded refresh
	// result and is never returned as the error of an operation.
	KindStaleDataServed
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyInFlight:
		return "already in flight"
	case KindInvalidInput:
		return "invalid input"
	case KindRemoteUnavailable:
		return "remote unavailable"
	case KindRemoteRejected:
		return "remote rejected"
	case KindTimeout:
		return "timeout"
	case KindStaleDataServed:
		return "stale data served"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown error"
	}
}

// Error is the error type returned by the synchronizer and its collaborators.
type Error struct {
	Kind  ErrorKind
	Op    string
	Owner OwnerKey
	Err   error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrAlreadyInFlight   = &Error{Kind: KindAlreadyInFlight}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrRemoteUnavailable = &Error{Kind: KindRemoteUnavailable}
	ErrRemoteRejected    = &Error{Kind: KindRemoteRejected}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrStaleDataServed   = &Error{Kind: KindStaleDataServed}
	ErrCanceled          = &Error{Kind: KindCanceled}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if !e.Owner.IsZero() {
		b.WriteString(" (owner ")
		b.WriteString(string(e.Owner))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Owner == "" && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Unavailable wraps err as a RemoteUnavailable error. Remote implementations
// use it so the synchronizer can tell outages from rejections.
func Unavailable(op string, err error) error {
	return &Error{Kind: KindRemoteUnavailable, Op: op, Err: err}
}

// Rejected wraps err as a RemoteRejected error.
func Rejected(op string, err error) error {
	return &Error{Kind: KindRemoteRejected, Op: op, Err: err}
}
