package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/leapstack-labs/leaptrace/pkg/core"
)

// RecordStepRun records one step execution within a run. The caller may
// supply a complete record; missing identifiers and timestamps are
// stamped here.
func (s *SQLiteStore) RecordStepRun(stepRun *core.StepRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if stepRun.ID == "" {
		stepRun.ID = generateID()
	}
	if stepRun.StartedAt.IsZero() {
		stepRun.StartedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO step_runs (id, run_id, step, step_index, status, rows_in, rows_out, applied, failed, filtered, started_at, completed_at, error, execution_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stepRun.ID, stepRun.RunID, stepRun.Step, stepRun.StepIndex, string(stepRun.Status),
		stepRun.RowsIn, stepRun.RowsOut, stepRun.Applied, stepRun.Failed, stepRun.Filtered,
		stepRun.StartedAt, stepRun.CompletedAt, nullableString(stepRun.Error), stepRun.ExecutionMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record step run: %w", err)
	}
	return nil
}

// UpdateStepRun updates the status of a step run, computing its execution
// time from the recorded start.
func (s *SQLiteStore) UpdateStepRun(id string, status core.StepRunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var startedAt time.Time
	if err := s.db.QueryRow(`SELECT started_at FROM step_runs WHERE id = ?`, id).Scan(&startedAt); err != nil {
		return fmt.Errorf("failed to get step run start time: %w", err)
	}

	now := time.Now().UTC()
	executionMS := now.Sub(startedAt).Milliseconds()

	result, err := s.db.Exec(
		`UPDATE step_runs SET status = ?, completed_at = ?, error = ?, execution_ms = ? WHERE id = ?`,
		string(status), now, nullableString(errMsg), executionMS, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update step run: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("step run not found: %s", id)
	}
	return nil
}

// GetStepRunsForRun retrieves all step runs for a run in step order.
func (s *SQLiteStore) GetStepRunsForRun(runID string) ([]*core.StepRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, step, step_index, status, rows_in, rows_out, applied, failed, filtered, started_at, completed_at, error, execution_ms
		 FROM step_runs WHERE run_id = ? ORDER BY step_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get step runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stepRuns []*core.StepRun
	for rows.Next() {
		sr := &core.StepRun{}
		var status string
		var completedAt sql.NullTime
		var errMsg sql.NullString

		err := rows.Scan(&sr.ID, &sr.RunID, &sr.Step, &sr.StepIndex, &status,
			&sr.RowsIn, &sr.RowsOut, &sr.Applied, &sr.Failed, &sr.Filtered,
			&sr.StartedAt, &completedAt, &errMsg, &sr.ExecutionMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}

		sr.Status = core.StepRunStatus(status)
		if completedAt.Valid {
			sr.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			sr.Error = errMsg.String
		}
		stepRuns = append(stepRuns, sr)
	}
	return stepRuns, rows.Err()
}
