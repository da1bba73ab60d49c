// Package source reads seed files into tables and writes pipeline
// outputs back out. Seeds may be CSV, JSON, or XLSX; outputs are
// written as CSV or JSON.
package source

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// ReadError describes a seed file that could not be loaded.
type ReadError struct {
	File    string
	Message string
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Read loads a seed file into a table, dispatching on the file extension.
func Read(path string) (*table.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(path)
	case ".json":
		return ReadJSON(path)
	case ".xlsx":
		return ReadXLSX(path)
	default:
		return nil, &ReadError{
			File:    filepath.Base(path),
			Message: fmt.Sprintf("unsupported seed format %q", filepath.Ext(path)),
		}
	}
}

// Write renders the table to path in the given format ("csv" or "json"),
// creating parent directories as needed.
func Write(path, format string, t *table.Table) error {
	switch format {
	case "csv":
		return WriteCSV(path, t)
	case "json":
		return WriteJSON(path, t)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// inferValue converts one raw cell into a typed value. Empty cells become
// nil, integers int64, other numbers float64, and the literals true/false
// become bools. Everything else stays a string.
func inferValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

// recordsToTable pairs a header with raw data rows. Short records omit
// their trailing columns rather than padding them with nulls.
func recordsToTable(header []string, records [][]string) *table.Table {
	names := make([]string, len(header))
	for i, name := range header {
		names[i] = strings.TrimSpace(name)
	}

	rows := make([]table.Row, 0, len(records))
	for _, rec := range records {
		cols := make(map[string]any, len(names))
		for i, name := range names {
			if i < len(rec) {
				cols[name] = inferValue(rec[i])
			}
		}
		rows = append(rows, table.NewRow(cols))
	}
	return table.New(rows...)
}
