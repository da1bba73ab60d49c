package step

import (
	"context"
	"testing"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateGroupsAndReduces(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"region": "east", "revenue": 100.0, "growth": 0.1},
		{"region": "west", "revenue": 50.0, "growth": 0.3},
		{"region": "east", "revenue": 200.0, "growth": 0.2},
	})

	agg := &Aggregate{
		StepName:    "by_region",
		GroupBy:     []string{"region"},
		Columns:     map[string]AggFunc{"revenue": AggSum, "growth": AggMean},
		CountColumn: "contribution_count",
	}

	out, prov, err := agg.Transform(context.Background(), tbl)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	require.Len(t, prov, 2)

	// Group order follows first appearance in the input.
	east := out.Row(0)
	revenue, _ := east.Get("revenue")
	assert.Equal(t, 300.0, revenue)
	growth, _ := east.Get("growth")
	assert.InDelta(t, 0.15, growth.(float64), 1e-9)
	count, _ := east.Get("contribution_count")
	assert.Equal(t, 2, count)

	// Output rows get fresh identifiers; sources point at the inputs.
	for _, id := range tbl.IDs() {
		assert.NotEqual(t, id, east.ID())
	}
	assert.Equal(t, []string{tbl.Row(0).ID(), tbl.Row(2).ID()}, prov[0].SourceRowIDs)
	assert.Equal(t, []string{tbl.Row(1).ID()}, prov[1].SourceRowIDs)
}

func TestAggregateFunctions(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"g": "a", "v": 4.0},
		{"g": "a", "v": 1.0},
		{"g": "a", "v": nil},
	})

	tests := []struct {
		fn   AggFunc
		want any
	}{
		{AggSum, 5.0},
		{AggMean, 2.5},
		{AggMin, 1.0},
		{AggMax, 4.0},
		{AggCount, 2},
		{AggFirst, 4.0},
	}

	for _, tt := range tests {
		t.Run(string(tt.fn), func(t *testing.T) {
			agg := &Aggregate{
				StepName: "reduce",
				GroupBy:  []string{"g"},
				Columns:  map[string]AggFunc{"v": tt.fn},
			}
			out, _, err := agg.Transform(context.Background(), tbl)
			require.NoError(t, err)
			require.Equal(t, 1, out.Len())

			v, ok := out.Row(0).Get("v")
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestAggregateUnknownFunctionIsFatal(t *testing.T) {
	agg := &Aggregate{
		StepName: "bad",
		GroupBy:  []string{"g"},
		Columns:  map[string]AggFunc{"v": "median"},
	}

	_, _, err := agg.Transform(context.Background(), table.FromRecords([]map[string]any{{"g": 1, "v": 2}}))
	require.Error(t, err)

	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.ErrorKindFatal, ce.Kind)
}

func TestAggregateNonNumericIsFatal(t *testing.T) {
	agg := &Aggregate{
		StepName: "sum_names",
		GroupBy:  []string{"g"},
		Columns:  map[string]AggFunc{"name": AggSum},
	}

	tbl := table.FromRecords([]map[string]any{{"g": 1, "name": "alpha"}})
	_, _, err := agg.Transform(context.Background(), tbl)

	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.ErrorKindFatal, ce.Kind)
	assert.Equal(t, "name", ce.Column)
}

func TestAggregateRequires(t *testing.T) {
	agg := &Aggregate{
		StepName: "by_region",
		GroupBy:  []string{"region"},
		Columns:  map[string]AggFunc{"revenue": AggSum, "region": AggCount},
	}

	assert.Equal(t, []string{"region", "revenue"}, agg.Requires())
}
