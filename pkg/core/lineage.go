package core

import "time"

// Outcome labels how one step treated one row.
type Outcome string

// Outcome constants.
const (
	// OutcomeApplied marks a step that ran for the row, adding zero or more
	// columns.
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed marks a row-level error; the row was carried forward
	// unchanged.
	OutcomeFailed Outcome = "failed"
	// OutcomeFiltered marks intentional removal by a filter step. Filtering
	// is not an error.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeAggregated marks an input row consumed by an aggregation. The
	// rows it contributed to reference it via SourceRowIDs.
	OutcomeAggregated Outcome = "aggregated"
	// OutcomeExploded marks an input row replaced by its children. The
	// children reference it via ParentRowID.
	OutcomeExploded Outcome = "exploded"
)

// LineageEntry records the outcome of one step for one row.
//
// For OutcomeApplied, Added lists the merged column names. For
// OutcomeFailed, Err carries the descriptor. Rows created by shape-changing
// steps carry SourceRowIDs (several inputs combined into this row) or
// ParentRowID (this row fanned out from one input). An entry may hold both
// an applied outcome and a non-nil Err when a step's fallback delta was
// merged after a failure.
type LineageEntry struct {
	Step         string
	StepIndex    int
	RowID        string
	Outcome      Outcome
	Added        []string
	SourceRowIDs []string
	ParentRowID  string
	Err          *Error
}

// RemovedRow preserves the full contents of a row dropped by a filter step,
// so intentional removal stays inspectable after the run.
type RemovedRow struct {
	Step    string
	RowID   string
	Reason  string
	Columns map[string]any
}

// StepLog summarizes one step's execution within a run.
type StepLog struct {
	Step      string
	StepIndex int
	Status    StepRunStatus
	RowsIn    int
	RowsOut   int
	Applied   int
	Failed    int
	Filtered  int
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}
