// Package step defines the transformation step contract and the built-in
// steps (aggregate, explode, validate, sort) plus adapters for plain
// functions. Steps are pure: they read the rows they are given and describe
// new columns or new tables, never mutating their input.
package step

import (
	"context"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// Step is the common surface every transformation declares: a name for
// logging and lineage tagging, and the columns it requires on the incoming
// table. The executor checks Requires before applying the step and records
// a missing-field error per row when a column is absent from the whole
// table.
type Step interface {
	Name() string
	Requires() []string
}

// RowStep transforms one row at a time. Apply returns the new columns for
// the row (nil or empty for none). Applications are independent across rows
// and may run concurrently; implementations should honor ctx cancellation
// in long computations.
type RowStep interface {
	Step
	Apply(ctx context.Context, row table.Row) (table.Delta, error)
}

// FilterStep decides row by row whether the row stays in the table. Removal
// is intentional, recorded as a filtered outcome, never as an error. A
// predicate error is a row error: the row is kept and marked failed.
type FilterStep interface {
	Step
	Keep(ctx context.Context, row table.Row) (bool, error)
}

// TableStep transforms the whole table at once and may change row
// cardinality. The returned provenance slice is parallel to the output
// table's rows: the zero value marks a row carried over from the input
// (same identifier), SourceRowIDs marks a row combined from several inputs,
// ParentRowID marks a row fanned out from one input. A TableStep error is
// fatal since no output table exists to continue with.
type TableStep interface {
	Step
	Transform(ctx context.Context, tbl *table.Table) (*table.Table, []Provenance, error)
}

// Provenance links an output row of a shape-changing step back to the input
// rows that produced it.
type Provenance struct {
	SourceRowIDs []string
	ParentRowID  string
}

// IsZero reports whether the provenance marks a carried-over row.
func (p Provenance) IsZero() bool {
	return len(p.SourceRowIDs) == 0 && p.ParentRowID == ""
}

// FallbackProvider is an optional interface for row steps that declare a
// default delta to merge when an application fails. The executor still
// records the error descriptor, but the row proceeds with the fallback
// columns instead of unchanged.
type FallbackProvider interface {
	Fallback() (table.Delta, bool)
}

// ReasonProvider is an optional interface for filter steps that declare why
// removed rows were dropped. Without it, removals are attributed to the
// step name.
type ReasonProvider interface {
	Reason() string
}
