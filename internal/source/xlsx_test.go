package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeTempWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}

	path := filepath.Join(t.TempDir(), "seed.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := writeTempWorkbook(t, [][]any{
		{"name", "count", "rate", "active"},
		{"alpha", 10, 0.5, true},
		{"beta", 3, 2.5, false},
	})

	tbl, err := ReadXLSX(path)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	first := tbl.Row(0)
	name, _ := first.Get("name")
	assert.Equal(t, "alpha", name)
	count, _ := first.Get("count")
	assert.Equal(t, int64(10), count)
	rate, _ := first.Get("rate")
	assert.Equal(t, 0.5, rate)
	active, _ := first.Get("active")
	assert.Equal(t, true, active, "native boolean cells round-trip through inference")
}

func TestReadXLSX_SkipsEmptyRows(t *testing.T) {
	path := writeTempWorkbook(t, [][]any{
		{"name"},
		{"alpha"},
		{},
		{"beta"},
	})

	tbl, err := ReadXLSX(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
}

func TestReadXLSX_EmptySheet(t *testing.T) {
	path := writeTempWorkbook(t, nil)

	_, err := ReadXLSX(path)
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Contains(t, readErr.Message, "no header row")
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	path := writeTempFile(t, "seed.xlsx", "not a zip archive")

	_, err := ReadXLSX(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open workbook")
}
