package cfg

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes graph errors.
type ErrorKind string

const (
	// ErrStructuralMismatch indicates two routine bodies disagree beyond the
	// tolerated fall-through variance. Fatal: aborts the merge.
	ErrStructuralMismatch ErrorKind = "STRUCTURAL_MISMATCH"

	// ErrUnknownReference indicates an edge or remap names a routine or node
	// absent from both graphs. Recoverable: the edge is dropped.
	ErrUnknownReference ErrorKind = "UNKNOWN_REFERENCE"

	// ErrFormat indicates a malformed dataset or run file. Fatal at load.
	ErrFormat ErrorKind = "FORMAT_ERROR"

	// ErrConfiguration indicates an operation unsupported by the chosen
	// merge mode. Fatal: signals misuse rather than bad data.
	ErrConfiguration ErrorKind = "CONFIGURATION_ERROR"
)

// Error is the error type returned by graph, merge and codec operations.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Routine identifies the affected routine, if any.
	Routine *RoutineKey

	// Node is the affected node index within Routine (-1 if not applicable).
	Node int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Routine != nil && e.Node >= 0 {
		return fmt.Sprintf("%s: %s (routine=%s, node=%d)", e.Kind, e.Message, e.Routine, e.Node)
	}
	if e.Routine != nil {
		return fmt.Sprintf("%s: %s (routine=%s)", e.Kind, e.Message, e.Routine)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Node: -1}
}

// At attaches a routine and node position to the error and returns it.
func (e *Error) At(key RoutineKey, node int) *Error {
	e.Routine = &key
	e.Node = node
	return e
}

// NewMismatchError creates a StructuralMismatch error for a node position.
func NewMismatchError(key RoutineKey, node int, format string, args ...any) *Error {
	return Errorf(ErrStructuralMismatch, format, args...).At(key, node)
}

// NewUnknownReferenceError creates an UnknownReference error.
func NewUnknownReferenceError(format string, args ...any) *Error {
	return Errorf(ErrUnknownReference, format, args...)
}

// NewFormatError creates a FormatError.
func NewFormatError(format string, args ...any) *Error {
	return Errorf(ErrFormat, format, args...)
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(format string, args ...any) *Error {
	return Errorf(ErrConfiguration, format, args...)
}

// KindOf returns the ErrorKind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// IsStructuralMismatch returns true if err is a StructuralMismatch error.
func IsStructuralMismatch(err error) bool {
	return KindOf(err) == ErrStructuralMismatch
}

// IsUnknownReference returns true if err is an UnknownReference error.
func IsUnknownReference(err error) bool {
	return KindOf(err) == ErrUnknownReference
}

// IsFormatError returns true if err is a FormatError.
func IsFormatError(err error) bool {
	return KindOf(err) == ErrFormat
}

// IsConfigurationError returns true if err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	return KindOf(err) == ErrConfiguration
}
