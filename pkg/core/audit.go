package core

// Audit is the append-only record of lineage, errors, removed rows, and
// step timings for one pipeline run. An Audit is owned by a single
// execution; it is not safe for concurrent mutation. Persisting it is the
// caller's decision, the executor never does.
type Audit struct {
	entries []LineageEntry
	removed []RemovedRow
	steps   []StepLog
}

// NewAudit creates an empty audit.
func NewAudit() *Audit {
	return &Audit{}
}

// AddEntry appends one lineage entry.
func (a *Audit) AddEntry(e LineageEntry) {
	a.entries = append(a.entries, e)
}

// AddRemoved appends one removed-row record.
func (a *Audit) AddRemoved(r RemovedRow) {
	a.removed = append(a.removed, r)
}

// AddStepLog appends one step summary.
func (a *Audit) AddStepLog(l StepLog) {
	a.steps = append(a.steps, l)
}

// Entries returns all lineage entries in append order.
func (a *Audit) Entries() []LineageEntry {
	out := make([]LineageEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Removed returns all removed-row records in append order.
func (a *Audit) Removed() []RemovedRow {
	out := make([]RemovedRow, len(a.removed))
	copy(out, a.removed)
	return out
}

// StepLogs returns all step summaries in execution order.
func (a *Audit) StepLogs() []StepLog {
	out := make([]StepLog, len(a.steps))
	copy(out, a.steps)
	return out
}

// Errors returns every captured error descriptor in append order.
func (a *Audit) Errors() []*Error {
	var out []*Error
	for _, e := range a.entries {
		if e.Err != nil {
			out = append(out, e.Err)
		}
	}
	return out
}

// RowHistory returns the lineage entries for one row in step order.
func (a *Audit) RowHistory(rowID string) []LineageEntry {
	var out []LineageEntry
	for _, e := range a.entries {
		if e.RowID == rowID {
			out = append(out, e)
		}
	}
	return out
}

// HasErrors reports whether any entry carries an error descriptor.
func (a *Audit) HasErrors() bool {
	for _, e := range a.entries {
		if e.Err != nil {
			return true
		}
	}
	return false
}

// Len returns the number of lineage entries.
func (a *Audit) Len() int {
	return len(a.entries)
}

// Merge appends all records from other, preserving their order. Entries
// join on row id, so merge order does not affect correctness. Used when a
// chunked input produces one audit per chunk.
func (a *Audit) Merge(other *Audit) {
	if other == nil {
		return
	}
	a.entries = append(a.entries, other.entries...)
	a.removed = append(a.removed, other.removed...)
	a.steps = append(a.steps, other.steps...)
}
