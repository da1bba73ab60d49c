package source

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// ReadXLSX reads the first sheet of a workbook into a table. The first
// row is the header; fully empty rows are skipped. Cell values come back
// from the workbook as strings, so the same per-cell inference applies
// as for CSV.
func ReadXLSX(path string) (*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ReadError{File: filepath.Base(path), Message: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	var header []string
	var records [][]string
	for _, rec := range rows {
		if emptyRecord(rec) {
			continue
		}
		if header == nil {
			header = rec
			continue
		}
		records = append(records, rec)
	}
	if header == nil {
		return nil, &ReadError{File: filepath.Base(path), Message: "sheet has no header row"}
	}
	return recordsToTable(header, records), nil
}

func emptyRecord(rec []string) bool {
	for _, cell := range rec {
		if cell != "" {
			return false
		}
	}
	return true
}
