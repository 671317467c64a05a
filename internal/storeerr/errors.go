// Package storeerr defines the error taxonomy shared by the mapper, planner and
// mutation engine.
package storeerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindConfiguration marks an inconsistent schema declaration, detected once at setup.
	KindConfiguration Kind = iota + 1
	// KindProgrammer marks a malformed call: unknown record or attribute path,
	// malformed match expression, or writes to reserved attributes.
	KindProgrammer
	// KindConflict marks a rejected relation write, such as a duplicate link.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProgrammer:
		return "programmer"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by the storage subsystem.
type Error struct {
	Kind    Kind
	Op      string
	Record  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Record != "" {
		b.WriteString(" (")
		b.WriteString(e.Record)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind whose message is empty or equal,
// which lets sentinels like ErrLinkExists work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// ErrLinkExists is returned when a relation instance already connects the pair.
var ErrLinkExists = &Error{Kind: KindConflict, Message: "link already exists"}

// Configf builds a configuration error.
func Configf(record, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Record: record, Message: fmt.Sprintf(format, args...)}
}

// Programmerf builds a programmer error.
func Programmerf(record, format string, args ...any) *Error {
	return &Error{Kind: KindProgrammer, Record: record, Message: fmt.Sprintf(format, args...)}
}

// WithOp returns a copy of err annotated with op when err is an *Error.
func WithOp(err error, op string) error {
	var se *Error
	if !errors.As(err, &se) || se.Op != "" {
		return err
	}
	clone := *se
	clone.Op = op
	return &clone
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return hasKind(err, KindConfiguration)
}

// IsProgrammer reports whether err is a programmer error.
func IsProgrammer(err error) bool {
	return hasKind(err, KindProgrammer)
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return hasKind(err, KindConflict)
}

func hasKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
