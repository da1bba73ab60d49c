package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leapstack-labs/leaptrace/pkg/core"
)

// SaveRowEvents persists one run's lineage entries in a single
// transaction.
func (s *SQLiteStore) SaveRowEvents(runID string, entries []core.LineageEntry) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, entry := range entries {
		var errKind, errColumn, errMessage *string
		if entry.Err != nil {
			kind := string(entry.Err.Kind)
			errKind = &kind
			errColumn = nullableString(entry.Err.Column)
			errMessage = nullableString(entry.Err.Message)
		}

		_, err := tx.Exec(
			`INSERT INTO row_events (id, run_id, row_id, step, step_index, outcome, added, source_row_ids, parent_row_id, error_kind, error_column, error_message, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			generateID(), runID, entry.RowID, entry.Step, entry.StepIndex, string(entry.Outcome),
			marshalStrings(entry.Added), marshalStrings(entry.SourceRowIDs), nullableString(entry.ParentRowID),
			errKind, errColumn, errMessage, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row event: %w", err)
		}
	}

	return tx.Commit()
}

// SaveRemovedRows persists the rows a run's filter steps dropped.
func (s *SQLiteStore) SaveRemovedRows(runID string, removed []core.RemovedRow) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if len(removed) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rr := range removed {
		columnsJSON, _ := json.Marshal(rr.Columns)
		_, err := tx.Exec(
			`INSERT INTO removed_rows (run_id, row_id, step, reason, columns) VALUES (?, ?, ?, ?, ?)`,
			runID, rr.RowID, rr.Step, rr.Reason, string(columnsJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert removed row: %w", err)
		}
	}

	return tx.Commit()
}

// TraceRow retrieves the lineage events for one row, oldest run first and
// in step order within a run. An empty runID traces across all runs.
func (s *SQLiteStore) TraceRow(rowID, runID string) ([]*core.RowEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT e.id, e.run_id, r.pipeline, e.row_id, e.step, e.step_index, e.outcome,
	                 e.added, e.source_row_ids, e.parent_row_id,
	                 e.error_kind, e.error_column, e.error_message, e.created_at
	          FROM row_events e
	          JOIN runs r ON r.id = e.run_id
	          WHERE e.row_id = ?`
	args := []any{rowID}
	if runID != "" {
		query += ` AND e.run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY r.started_at, e.step_index`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to trace row: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*core.RowEvent
	for rows.Next() {
		event, err := scanRowEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetRemovedRowsForRun retrieves the rows filtered out during a run.
func (s *SQLiteStore) GetRemovedRowsForRun(runID string) ([]*core.RemovedRow, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT row_id, step, reason, columns FROM removed_rows WHERE run_id = ? ORDER BY step, row_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get removed rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var removed []*core.RemovedRow
	for rows.Next() {
		rr := &core.RemovedRow{}
		var columnsJSON string
		if err := rows.Scan(&rr.RowID, &rr.Step, &rr.Reason, &columnsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan removed row: %w", err)
		}
		if err := json.Unmarshal([]byte(columnsJSON), &rr.Columns); err != nil {
			return nil, fmt.Errorf("failed to decode removed row columns: %w", err)
		}
		removed = append(removed, rr)
	}
	return removed, rows.Err()
}

func scanRowEvent(rows *sql.Rows) (*core.RowEvent, error) {
	event := &core.RowEvent{}
	var outcome string
	var added, sourceRowIDs, parentRowID sql.NullString
	var errKind, errColumn, errMessage sql.NullString

	err := rows.Scan(&event.ID, &event.RunID, &event.Pipeline, &event.RowID, &event.Step, &event.StepIndex,
		&outcome, &added, &sourceRowIDs, &parentRowID, &errKind, &errColumn, &errMessage, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	event.Outcome = core.Outcome(outcome)
	event.Added = unmarshalStrings(added)
	event.SourceRowIDs = unmarshalStrings(sourceRowIDs)
	if parentRowID.Valid {
		event.ParentRowID = parentRowID.String
	}
	if errKind.Valid {
		event.Err = &core.Error{
			Step:    event.Step,
			RowID:   event.RowID,
			Column:  errColumn.String,
			Kind:    core.ErrorKind(errKind.String),
			Message: errMessage.String,
		}
	}
	return event, nil
}

// marshalStrings renders a string slice as JSON. Empty slices store as
// NULL.
func marshalStrings(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	b, _ := json.Marshal(values)
	s := string(b)
	return &s
}

func unmarshalStrings(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}
