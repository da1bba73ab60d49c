package table

// Table is an ordered sequence of rows. A Table is immutable: every
// operation returns a new Table and the receiver is left untouched. Row
// identifiers are expected to be unique within a table.
type Table struct {
	rows []Row
}

// New creates a table from the given rows.
func New(rows ...Row) *Table {
	out := make([]Row, len(rows))
	copy(out, rows)
	return &Table{rows: out}
}

// FromRecords creates a table from plain column mappings, assigning a fresh
// identifier to every row.
func FromRecords(records []map[string]any) *Table {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, NewRow(rec))
	}
	return &Table{rows: rows}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the row at position i.
func (t *Table) Row(i int) Row {
	return t.rows[i]
}

// Rows returns a copy of the row sequence.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// ByID returns the row with the given identifier.
func (t *Table) ByID(id string) (Row, bool) {
	for _, r := range t.rows {
		if r.id == id {
			return r, true
		}
	}
	return Row{}, false
}

// IDs returns the row identifiers in table order.
func (t *Table) IDs() []string {
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.id
	}
	return out
}

// Columns returns the union of all column names, ordered by first
// appearance across rows (each row contributes its columns sorted).
func (t *Table) Columns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.rows {
		for _, name := range r.Columns() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// HasColumn reports whether any row carries the column.
func (t *Table) HasColumn(name string) bool {
	for _, r := range t.rows {
		if r.Has(name) {
			return true
		}
	}
	return false
}

// MissingColumns returns the subset of names absent from every row, in the
// order given.
func (t *Table) MissingColumns(names []string) []string {
	var missing []string
	for _, name := range names {
		if !t.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Append returns a new table with the rows added at the end.
func (t *Table) Append(rows ...Row) *Table {
	out := make([]Row, 0, len(t.rows)+len(rows))
	out = append(out, t.rows...)
	out = append(out, rows...)
	return &Table{rows: out}
}
