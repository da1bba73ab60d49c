package step

import (
	"context"
	"testing"

	"github.com/leapstack-labs/leaptrace/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortedColumn(t *testing.T, tbl *table.Table, col string) []any {
	t.Helper()
	out := make([]any, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		out[i], _ = tbl.Row(i).Get(col)
	}
	return out
}

func TestSortNumeric(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"value": 3.0}, {"value": 1}, {"value": 2.5},
	})

	s := &Sort{StepName: "order_by_value", By: []string{"value"}}
	out, prov, err := s.Transform(context.Background(), tbl)
	require.NoError(t, err)

	assert.Equal(t, []any{1, 2.5, 3.0}, sortedColumn(t, out, "value"))

	// A sort never changes identifiers or cardinality.
	require.Len(t, prov, 3)
	for _, p := range prov {
		assert.True(t, p.IsZero())
	}
	assert.ElementsMatch(t, tbl.IDs(), out.IDs())
}

func TestSortStrings(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"name": "gamma"}, {"name": "alpha"}, {"name": "beta"},
	})

	s := &Sort{StepName: "order_by_name", By: []string{"name"}}
	out, _, err := s.Transform(context.Background(), tbl)
	require.NoError(t, err)

	assert.Equal(t, []any{"alpha", "beta", "gamma"}, sortedColumn(t, out, "name"))
}

func TestSortDescending(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"v": 1}, {"v": 3}, {"v": 2},
	})

	s := &Sort{StepName: "order", By: []string{"v"}, Desc: true}
	out, _, err := s.Transform(context.Background(), tbl)
	require.NoError(t, err)

	assert.Equal(t, []any{3, 2, 1}, sortedColumn(t, out, "v"))
}

func TestSortMissingColumnOrdersFirst(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"v": 1, "extra": true}, {},
	})

	s := &Sort{StepName: "order", By: []string{"v"}}
	out, _, err := s.Transform(context.Background(), tbl)
	require.NoError(t, err)

	_, ok := out.Row(0).Get("v")
	assert.False(t, ok)
}

func TestSortInvalidLocale(t *testing.T) {
	s := &Sort{StepName: "order", By: []string{"v"}, Locale: "no-such-locale-!!"}
	_, _, err := s.Transform(context.Background(), table.FromRecords(nil))
	require.Error(t, err)
}
