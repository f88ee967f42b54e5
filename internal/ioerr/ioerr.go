// Package ioerr defines the error-kind scheme used across the dispatcher,
// the handle layer, and the platform backends.
package ioerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec.md §7 enumerates them. Platform
// backends attach the OS-specific cause; callers switch on Kind rather than
// on the underlying syscall errno.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	AlreadyExists
	NotADirectory
	NotEmpty
	PermissionDenied
	IoError
	AlignmentError
	InvalidArgument
	CancelledAtShutdown
	InternalInvariant
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case NotADirectory:
		return "NotADirectory"
	case NotEmpty:
		return "NotEmpty"
	case PermissionDenied:
		return "PermissionDenied"
	case IoError:
		return "IoError"
	case AlignmentError:
		return "AlignmentError"
	case InvalidArgument:
		return "InvalidArgument"
	case CancelledAtShutdown:
		return "CancelledAtShutdown"
	case InternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error pairs a Kind with an optional underlying OS cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no attached cause.
func New(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap attaches cause to kind, unless cause is nil (in which case Wrap
// returns nil, so it composes at call sites like fmt.Errorf would).
func Wrap(kind Kind, op, path string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// KindOf extracts the Kind of err, or Unknown if err isn't (or doesn't wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
