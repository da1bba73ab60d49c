package core

import "time"

// Store defines the interface for run state persistence.
type Store interface {
	Close() error

	// Run operations
	CreateRun(pipeline, env string) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, rowsIn, rowsOut int64, errMsg string) error
	ListRuns(limit int) ([]*Run, error)
	GetLatestRun(pipeline string) (*Run, error)

	// Step run operations
	RecordStepRun(stepRun *StepRun) error
	UpdateStepRun(id string, status StepRunStatus, errMsg string) error
	GetStepRunsForRun(runID string) ([]*StepRun, error)

	// Row event operations
	SaveRowEvents(runID string, entries []LineageEntry) error
	SaveRemovedRows(runID string, removed []RemovedRow) error
	TraceRow(rowID, runID string) ([]*RowEvent, error)
	GetRemovedRowsForRun(runID string) ([]*RemovedRow, error)
}

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusSkipped marks a run that never executed because an upstream
	// pipeline failed in the same invocation.
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one pipeline execution session.
type Run struct {
	ID          string
	Pipeline    string
	Environment string
	Status      RunStatus
	RowsIn      int64
	RowsOut     int64
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// StepRunStatus represents the status of an individual step execution.
type StepRunStatus string

// Step run status constants.
const (
	StepRunStatusPending StepRunStatus = "pending"
	StepRunStatusRunning StepRunStatus = "running"
	StepRunStatusSuccess StepRunStatus = "success"
	StepRunStatusFailed  StepRunStatus = "failed"
	StepRunStatusSkipped StepRunStatus = "skipped"
)

// StepRun represents a single step execution within a run.
type StepRun struct {
	ID          string
	RunID       string
	Step        string
	StepIndex   int
	Status      StepRunStatus
	RowsIn      int64
	RowsOut     int64
	Applied     int64
	Failed      int64
	Filtered    int64
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	ExecutionMS int64
}

// RowEvent is a persisted lineage entry scoped to a run.
type RowEvent struct {
	LineageEntry
	ID        string
	RunID     string
	Pipeline  string
	CreatedAt time.Time
}
