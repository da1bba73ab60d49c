package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// ReadCSV reads a CSV file with a header row into a table. A byte order
// mark before the header is skipped and cell types are inferred per cell.
func ReadCSV(path string) (*table.Table, error) {
	file, err := os.Open(path) //nolint:gosec // path comes from project config
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := newCSVReader(file)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ReadError{File: filepath.Base(path), Message: "file is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return recordsToTable(header, records), nil
}

// ReadCSVChunks reads a CSV file in chunks of at most size rows and calls
// fn with each chunk's table. An error from fn stops the read.
func ReadCSVChunks(path string, size int, fn func(*table.Table) error) error {
	if size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", size)
	}

	file, err := os.Open(path) //nolint:gosec // path comes from project config
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := newCSVReader(file)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &ReadError{File: filepath.Base(path), Message: "file is empty"}
	}
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	batch := make([][]string, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(recordsToTable(header, batch)); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		batch = append(batch, rec)
		if len(batch) == size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// WriteCSV writes the table to path with one header row, creating parent
// directories as needed. Columns appear in table column order.
func WriteCSV(path string, t *table.Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	cols := t.Columns()
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range t.Rows() {
		rec := make([]string, len(cols))
		for i, name := range cols {
			v, _ := row.Get(name)
			rec[i] = formatCell(v)
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// newCSVReader wraps r, skipping a UTF-8 byte order mark when present.
func newCSVReader(r io.Reader) *csv.Reader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	return cr
}

// formatCell renders one value for CSV output. Containers are encoded as
// JSON so the value survives a later re-read.
func formatCell(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case []any, []string, []float64, map[string]any:
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprintf("%v", vv)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", vv)
	}
}
