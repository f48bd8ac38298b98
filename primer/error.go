package primer

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error: structured error record with context accumulation
// ---------------------------------------------------------------------------

// ErrorKind classifies a call failure.
type ErrorKind int

const (
	// KindRuntime: the callable raised an error during execution. The
	// message includes the VM-side traceback.
	KindRuntime ErrorKind = iota
	// KindEnvGone: the owning environment has been destroyed; the VM was
	// never touched.
	KindEnvGone
	// KindInsufficientStack: the capacity reservation failed; the VM
	// stack was never touched.
	KindInsufficientStack
	// KindConversion: a value did not match the expected host type. The
	// message carries positional or field context.
	KindConversion
	// KindAlloc: a host-side allocation failed while marshalling a
	// reference. Reported, not fatal.
	KindAlloc
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindRuntime:
		return "runtime error"
	case KindEnvGone:
		return "environment unavailable"
	case KindInsufficientStack:
		return "insufficient stack space"
	case KindConversion:
		return "conversion error"
	case KindAlloc:
		return "allocation failure"
	}
	return "unknown error"
}

// Error is the error record carried by every failed Result. It holds a
// kind and one or more message lines; outer layers prepend context lines
// as the failure propagates, so the final message reads outer-to-inner.
type Error struct {
	kind  ErrorKind
	lines []string
}

// NewError creates an error record with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{kind: kind, lines: []string{fmt.Sprintf(format, args...)}}
}

// Kind returns the failure classification.
func (e *Error) Kind() ErrorKind {
	return e.kind
}

// Error renders all message lines, outermost context first.
func (e *Error) Error() string {
	return strings.Join(e.lines, "\n")
}

// Lines returns the message lines, outermost first.
func (e *Error) Lines() []string {
	return e.lines
}

// PrependLine adds a context line in front of the existing message without
// losing it, and returns the record for chaining.
func (e *Error) PrependLine(format string, args ...any) *Error {
	line := fmt.Sprintf(format, args...)
	e.lines = append([]string{line}, e.lines...)
	return e
}
