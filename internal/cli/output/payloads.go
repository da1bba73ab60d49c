package output

// JSON payload types shared by commands. Field sets mirror what the state
// store records so scripted callers see the same facts the tables show.

// RunEvent is one NDJSON line emitted by `run --output json`. Per-pipeline
// events carry pipeline fields; the final summary event carries totals.
type RunEvent struct {
	Event       string `json:"event"` // "run_start", "pipeline_complete", "run_complete"
	RunID       string `json:"run_id,omitempty"`
	Pipeline    string `json:"pipeline,omitempty"`
	Status      string `json:"status,omitempty"`
	RowsIn      int64  `json:"rows_in,omitempty"`
	RowsOut     int64  `json:"rows_out,omitempty"`
	ExecutionMS int64  `json:"execution_ms,omitempty"`
	Error       string `json:"error,omitempty"`

	// run_start fields
	Pipelines []string `json:"pipelines,omitempty"`

	// run_complete fields
	TotalPipelines int    `json:"total_pipelines,omitempty"`
	Successful     int    `json:"successful,omitempty"`
	Failed         int    `json:"failed,omitempty"`
	Skipped        int    `json:"skipped,omitempty"`
	TotalMS        int64  `json:"total_ms,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// RunInfo describes one persisted run.
type RunInfo struct {
	ID          string        `json:"id"`
	Pipeline    string        `json:"pipeline"`
	Environment string        `json:"environment"`
	Status      string        `json:"status"`
	RowsIn      int64         `json:"rows_in"`
	RowsOut     int64         `json:"rows_out"`
	StartedAt   string        `json:"started_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
	DurationMS  int64         `json:"duration_ms,omitempty"`
	Error       *string       `json:"error,omitempty"`
	Steps       []StepRunInfo `json:"steps,omitempty"`
}

// RunsOutput is the JSON output of the runs command.
type RunsOutput struct {
	Runs  []RunInfo `json:"runs"`
	Total int       `json:"total"`
}

// StepRunInfo describes one step's execution within a run.
type StepRunInfo struct {
	Step        string  `json:"step"`
	StepIndex   int     `json:"step_index"`
	Status      string  `json:"status"`
	RowsIn      int64   `json:"rows_in"`
	RowsOut     int64   `json:"rows_out"`
	Applied     int64   `json:"applied"`
	Failed      int64   `json:"failed"`
	Filtered    int64   `json:"filtered"`
	ExecutionMS int64   `json:"execution_ms"`
	Error       *string `json:"error,omitempty"`
}

// TraceEvent is one lineage entry along a row's journey through a run.
type TraceEvent struct {
	Step         string   `json:"step"`
	StepIndex    int      `json:"step_index"`
	Outcome      string   `json:"outcome"`
	Added        []string `json:"added,omitempty"`
	SourceRowIDs []string `json:"source_row_ids,omitempty"`
	ParentRowID  string   `json:"parent_row_id,omitempty"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	ErrorColumn  string   `json:"error_column,omitempty"`
	Error        string   `json:"error,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

// TraceRemoval describes where and why a traced row left the pipeline.
type TraceRemoval struct {
	Step    string         `json:"step"`
	Reason  string         `json:"reason"`
	Columns map[string]any `json:"columns,omitempty"`
}

// TraceRun groups a traced row's events within one run. The same row id
// can appear in several runs when a pipeline output feeds a downstream
// pipeline in the same invocation.
type TraceRun struct {
	RunID    string        `json:"run_id"`
	Pipeline string        `json:"pipeline"`
	Events   []TraceEvent  `json:"events"`
	Removed  *TraceRemoval `json:"removed,omitempty"`
}

// TraceOutput is the JSON output of the trace command.
type TraceOutput struct {
	RowID string     `json:"row_id"`
	Runs  []TraceRun `json:"runs"`
}

// DAGNode is one pipeline in the dependency graph output.
type DAGNode struct {
	Name      string   `json:"name"`
	Input     string   `json:"input,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	UsedBy    []string `json:"used_by,omitempty"`
}

// DAGLevel groups pipelines that can execute in parallel.
type DAGLevel struct {
	Level     int       `json:"level"`
	Pipelines []DAGNode `json:"pipelines"`
}

// DAGOutput is the JSON output of the dag command.
type DAGOutput struct {
	Levels         []DAGLevel `json:"levels"`
	TotalPipelines int        `json:"total_pipelines"`
	TotalEdges     int        `json:"total_edges"`
}
