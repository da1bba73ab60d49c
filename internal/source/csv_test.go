package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadCSV_InfersTypes(t *testing.T) {
	path := writeTempFile(t, "accounts.csv", strings.Join([]string{
		"name,count,rate,active,notes",
		"alpha,10,0.5,true,hello",
		"beta,,2.5,false,",
		"gamma,1",
	}, "\n")+"\n")

	tbl, err := ReadCSV(path)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	first := tbl.Row(0)
	name, _ := first.Get("name")
	assert.Equal(t, "alpha", name)
	count, _ := first.Get("count")
	assert.Equal(t, int64(10), count)
	rate, _ := first.Get("rate")
	assert.Equal(t, 0.5, rate)
	active, _ := first.Get("active")
	assert.Equal(t, true, active)

	second := tbl.Row(1)
	count, ok := second.Get("count")
	assert.True(t, ok, "empty cell should be present")
	assert.Nil(t, count, "empty cell should be null")

	third := tbl.Row(2)
	assert.False(t, third.Has("rate"), "short record should omit trailing columns")
	assert.True(t, third.Has("count"))
}

func TestReadCSV_ByteOrderMark(t *testing.T) {
	path := writeTempFile(t, "bom.csv", "\xef\xbb\xbfname\nalpha\n")

	tbl, err := ReadCSV(path)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.True(t, tbl.Row(0).Has("name"), "BOM should not leak into the header")
}

func TestReadCSV_Empty(t *testing.T) {
	path := writeTempFile(t, "empty.csv", "")

	_, err := ReadCSV(path)
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "empty.csv", readErr.File)
	assert.Contains(t, readErr.Error(), "file is empty")
}

func TestReadCSV_Missing(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open seed file")
}

func TestReadCSVChunks(t *testing.T) {
	lines := []string{"n"}
	for _, n := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		lines = append(lines, n)
	}
	path := writeTempFile(t, "chunky.csv", strings.Join(lines, "\n")+"\n")

	var sizes []int
	var values []int64
	err := ReadCSVChunks(path, 3, func(chunk *table.Table) error {
		sizes = append(sizes, chunk.Len())
		for _, row := range chunk.Rows() {
			v, _ := row.Get("n")
			values = append(values, v.(int64))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, values, "rows should arrive in file order")
}

func TestReadCSVChunks_CallbackError(t *testing.T) {
	path := writeTempFile(t, "chunky.csv", "n\n1\n2\n3\n4\n")

	calls := 0
	err := ReadCSVChunks(path, 2, func(*table.Table) error {
		calls++
		return errors.New("stop here")
	})
	require.EqualError(t, err, "stop here")
	assert.Equal(t, 1, calls, "a callback error should stop the read")
}

func TestReadCSVChunks_BadSize(t *testing.T) {
	path := writeTempFile(t, "chunky.csv", "n\n1\n")

	err := ReadCSVChunks(path, 0, func(*table.Table) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk size must be positive")
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"name": "alpha", "rate": 0.5, "active": true, "notes": nil},
		{"name": "beta", "rate": 2.5, "active": false, "notes": "fine"},
	})

	path := filepath.Join(t.TempDir(), "target", "out.csv")
	require.NoError(t, WriteCSV(path, tbl), "writer should create the parent directory")

	got, err := ReadCSV(path)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	first := got.Row(0)
	rate, _ := first.Get("rate")
	assert.Equal(t, 0.5, rate)
	active, _ := first.Get("active")
	assert.Equal(t, true, active)
	notes, ok := first.Get("notes")
	assert.True(t, ok)
	assert.Nil(t, notes)
}

func TestWriteCSV_EncodesContainers(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"name": "alpha", "tags": []string{"a", "b"}},
	})

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, tbl))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "name,tags")
	assert.Contains(t, content, `[""a"",""b""]`, "list cells should be JSON inside CSV quoting")
}
