// Package table provides the tabular data model for pipeline execution:
// ordered tables of rows with stable identifiers and copy-on-write
// semantics. Tables are never mutated in place; every transformation
// produces a new Table so earlier stages stay inspectable.
package table

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrColumnExists is returned when a delta would overwrite an existing
// column. Original columns are never overwritten, only added to.
var ErrColumnExists = errors.New("column already exists")

// Delta is the set of new columns a step produced for one row.
type Delta map[string]any

// Columns returns the delta's column names, sorted.
func (d Delta) Columns() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Row is one logical record. The identifier is assigned once at creation
// and survives every non-shape-changing transformation. Values returned by
// Get are shared, not copied; callers must treat them as read-only.
type Row struct {
	id   string
	cols map[string]any
}

// NewRow creates a row with a freshly generated identifier. The column
// values are deep-copied so later mutation of the input map cannot leak in.
func NewRow(cols map[string]any) Row {
	return NewRowWithID(generateID(), cols)
}

// NewRowWithID creates a row with the given identifier. Used when loading
// data that already carries stable ids.
func NewRowWithID(id string, cols map[string]any) Row {
	copied := make(map[string]any, len(cols))
	for name, v := range cols {
		copied[name] = copyValue(v)
	}
	return Row{id: id, cols: copied}
}

// ID returns the row's stable identifier.
func (r Row) ID() string {
	return r.id
}

// Get returns the value of one column.
func (r Row) Get(name string) (any, bool) {
	v, ok := r.cols[name]
	return v, ok
}

// Has reports whether the column is present.
func (r Row) Has(name string) bool {
	_, ok := r.cols[name]
	return ok
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.cols)
}

// Columns returns the column names, sorted.
func (r Row) Columns() []string {
	names := make([]string, 0, len(r.cols))
	for name := range r.cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns a deep copy of the row's column mapping.
func (r Row) Values() map[string]any {
	out := make(map[string]any, len(r.cols))
	for name, v := range r.cols {
		out[name] = copyValue(v)
	}
	return out
}

// With returns a new row with the delta's columns added, keeping the same
// identifier. A delta naming an existing column fails with ErrColumnExists.
func (r Row) With(d Delta) (Row, error) {
	for name := range d {
		if _, ok := r.cols[name]; ok {
			return Row{}, fmt.Errorf("column %q: %w", name, ErrColumnExists)
		}
	}
	cols := make(map[string]any, len(r.cols)+len(d))
	for name, v := range r.cols {
		cols[name] = v
	}
	for name, v := range d {
		cols[name] = copyValue(v)
	}
	return Row{id: r.id, cols: cols}, nil
}

// Clone returns a deep copy of the row with the same identifier.
func (r Row) Clone() Row {
	return Row{id: r.id, cols: r.Values()}
}

// generateID creates a unique identifier for rows, runs, and events.
func generateID() string {
	return uuid.New().String()
}

// copyValue deep-copies the container types a row value can hold. Scalars
// are returned as-is.
func copyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case []float64:
		out := make([]float64, len(vv))
		copy(out, vv)
		return out
	default:
		return v
	}
}
