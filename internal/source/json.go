package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// ReadJSON reads a JSON file holding an array of objects into a table.
// Values keep their JSON types; numbers decode as float64.
func ReadJSON(path string) (*table.Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from project config
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &ReadError{
			File:    filepath.Base(path),
			Message: fmt.Sprintf("expected an array of objects: %v", err),
		}
	}
	return table.FromRecords(records), nil
}

// WriteJSON writes the table to path as an indented array of objects,
// creating parent directories as needed.
func WriteJSON(path string, t *table.Table) error {
	records := make([]map[string]any, 0, t.Len())
	for _, row := range t.Rows() {
		records = append(records, row.Values())
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
