// Package gerr defines the stable error kinds shared by every layer of
// the system, from the object store up to the HTTP API. Leaf operations
// return one of these kinds wrapped with github.com/pkg/errors; callers
// further up the stack switch on Kind to pick exit codes, HTTP statuses,
// or protocol-abort behaviour.
package gerr

import (
	"github.com/pkg/errors"
)

// Kind identifies the stable category of a failure. Surface naming
// (messages, wire text) may differ from Kind.String(); Kind itself is
// what callers should switch on.
type Kind int

const (
	// Unknown is the zero value; Of returns it for errors with no Kind.
	Unknown Kind = iota
	NotFound
	AlreadyExists
	InvalidArgument
	Corrupt
	ConflictingRef
	LockFailed
	IOError
	ProtocolError
	DatabaseError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case InvalidArgument:
		return "InvalidArgument"
	case Corrupt:
		return "Corrupt"
	case ConflictingRef:
		return "ConflictingRef"
	case LockFailed:
		return "LockFailed"
	case IOError:
		return "IOError"
	case ProtocolError:
		return "ProtocolError"
	case DatabaseError:
		return "DatabaseError"
	default:
		return "Unknown"
	}
}

// kinded is the concrete error type carrying a Kind alongside a message.
// It is never exported directly; callers interact through New, Wrap and Of.
type kinded struct {
	kind Kind
	msg  string
}

func (e *kinded) Error() string { return e.msg }

// New creates an error of the given kind with the given message.
func New(kind Kind, msg string) error {
	return &kinded{kind: kind, msg: msg}
}

// Wrap attaches a kind to an existing error. The result's message is
// msg followed by the original error's message, joined the way
// github.com/pkg/errors does; only that text is kept, not the original
// error value or its stack, so Of reports the new kind.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kinded{kind: kind, msg: errors.Wrap(err, msg).Error()}
}

// Of extracts the Kind from err, walking wrapped causes via errors.Cause.
// Returns Unknown if err carries no Kind.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if k, ok := e.(*kinded); ok {
			return k.kind
		}
	}
	if k, ok := errors.Cause(err).(*kinded); ok {
		return k.kind
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
