package step

import (
	"context"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// Explode turns a list-valued column into one row per element. Children
// receive fresh identifiers and reference the originating row via
// ParentRowID; the exploded column holds the single element in each child.
// Rows whose value is not a list (or lack the column) are carried over
// unchanged; an empty list produces one child with a nil value so the row's
// lineage does not dead-end.
type Explode struct {
	StepName string
	Column   string
}

// Name implements Step.
func (e *Explode) Name() string {
	return e.StepName
}

// Requires implements Step.
func (e *Explode) Requires() []string {
	return []string{e.Column}
}

// Transform implements TableStep.
func (e *Explode) Transform(_ context.Context, tbl *table.Table) (*table.Table, []Provenance, error) {
	var rows []table.Row
	var prov []Provenance

	for _, row := range tbl.Rows() {
		v, ok := row.Get(e.Column)
		if !ok {
			rows = append(rows, row)
			prov = append(prov, Provenance{})
			continue
		}

		elems, isList := asList(v)
		if !isList {
			rows = append(rows, row)
			prov = append(prov, Provenance{})
			continue
		}
		if len(elems) == 0 {
			elems = []any{nil}
		}

		for _, elem := range elems {
			cols := row.Values()
			cols[e.Column] = elem
			rows = append(rows, table.NewRow(cols))
			prov = append(prov, Provenance{ParentRowID: row.ID()})
		}
	}

	return table.New(rows...), prov, nil
}
