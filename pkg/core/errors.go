package core

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a captured failure. The set is closed: every error
// recorded in an audit carries exactly one of these kinds.
type ErrorKind string

// Error kind constants.
const (
	// ErrorKindMissingField marks a required column absent from the table.
	ErrorKindMissingField ErrorKind = "missing_field"
	// ErrorKindInvalidValue marks a value that fails a step's semantic checks.
	ErrorKindInvalidValue ErrorKind = "invalid_value"
	// ErrorKindTypeMismatch marks a value whose type differs from what the
	// step expects.
	ErrorKindTypeMismatch ErrorKind = "type_mismatch"
	// ErrorKindDivisionByZero marks an arithmetic step dividing by zero.
	ErrorKindDivisionByZero ErrorKind = "division_by_zero"
	// ErrorKindTimeout marks a row abandoned when a step deadline expired.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindFatal marks a step that cannot execute at all. Fatal errors
	// abort the remaining run; every other kind is row-scoped.
	ErrorKindFatal ErrorKind = "fatal"
)

// Error describes one failure captured during a run. All fields except Kind
// and Message are optional: step and row are stamped by the executor when it
// records the error, and Column is set when the failure is attributable to a
// single column.
type Error struct {
	Step    string
	RowID   string
	Column  string
	Kind    ErrorKind
	Message string
}

// NewError creates an Error with the given kind and message. Step and row
// are filled in by the executor at record time.
func NewError(kind ErrorKind, column, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Column:  column,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Step != "" {
		fmt.Fprintf(&b, " in step %q", e.Step)
	}
	if e.RowID != "" {
		fmt.Fprintf(&b, " for row %s", e.RowID)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " (column %q)", e.Column)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsFatal reports whether the error aborts the remaining run.
func (e *Error) IsFatal() bool {
	return e.Kind == ErrorKindFatal
}
