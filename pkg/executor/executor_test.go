package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/step"
	"github.com/leapstack-labs/leaptrace/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(row table.Row, col string) float64 {
	v, _ := row.Get(col)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func growthRateStep() step.RowStep {
	return step.Func("calculate_growth_rate", []string{"growth"}, func(row table.Row) (table.Delta, error) {
		return table.Delta{"growth_rate": num(row, "growth") / 100}, nil
	})
}

func positiveGrowthFilter() step.FilterStep {
	return step.Filter("filter_positive_growth", []string{"growth_rate"}, func(row table.Row) (bool, error) {
		return num(row, "growth_rate") > 0, nil
	})
}

func ratioStep() step.RowStep {
	return step.Func("compute_ratio", []string{"total", "count"}, func(row table.Row) (table.Delta, error) {
		if num(row, "count") == 0 {
			return nil, core.NewError(core.ErrorKindDivisionByZero, "count", "count is zero")
		}
		return table.Delta{"ratio": num(row, "total") / num(row, "count")}, nil
	})
}

func entriesFor(audit *core.Audit, stepName string) []core.LineageEntry {
	var out []core.LineageEntry
	for _, e := range audit.Entries() {
		if e.Step == stepName {
			out = append(out, e)
		}
	}
	return out
}

func TestExecuteEmptySteps(t *testing.T) {
	input := table.FromRecords([]map[string]any{{"x": 1}})

	out, audit, err := Execute(context.Background(), nil, input)
	require.NoError(t, err)
	assert.Same(t, input, out)
	assert.Equal(t, 0, audit.Len())
	assert.Empty(t, audit.StepLogs())
}

func TestExecuteGrowthScenario(t *testing.T) {
	input := table.FromRecords([]map[string]any{
		{"account": 1, "growth": 5},
		{"account": 2, "growth": -3},
	})
	keptID := input.Row(0).ID()
	droppedID := input.Row(1).ID()

	out, audit, err := Execute(context.Background(),
		[]step.Step{growthRateStep(), positiveGrowthFilter()}, input)
	require.NoError(t, err)

	require.Equal(t, 1, out.Len())
	assert.Equal(t, keptID, out.Row(0).ID())
	rate, ok := out.Row(0).Get("growth_rate")
	require.True(t, ok)
	assert.InDelta(t, 0.05, rate.(float64), 1e-9)

	// The dropped row was applied by the first step and filtered, not
	// failed, by the second.
	history := audit.RowHistory(droppedID)
	require.Len(t, history, 2)
	assert.Equal(t, core.OutcomeApplied, history[0].Outcome)
	assert.Equal(t, []string{"growth_rate"}, history[0].Added)
	assert.Equal(t, core.OutcomeFiltered, history[1].Outcome)
	assert.Nil(t, history[1].Err)

	removed := audit.Removed()
	require.Len(t, removed, 1)
	assert.Equal(t, droppedID, removed[0].RowID)
	assert.Equal(t, "filter_positive_growth", removed[0].Reason)
	assert.Contains(t, removed[0].Columns, "growth_rate")
}

func TestExecuteMissingRequiredColumn(t *testing.T) {
	input := table.FromRecords([]map[string]any{
		{"name": "a"},
		{"name": "b"},
	})

	needsPrice := step.Func("discount", []string{"price"}, func(row table.Row) (table.Delta, error) {
		return table.Delta{"discounted": num(row, "price") * 0.9}, nil
	})
	renameStep := step.Func("tag", nil, func(row table.Row) (table.Delta, error) {
		return table.Delta{"tagged": true}, nil
	})

	out, audit, err := Execute(context.Background(), []step.Step{needsPrice, renameStep}, input)
	require.NoError(t, err, "a missing required column must not abort the run")

	// Table passes through the skipped step unmodified, and the next step
	// still applies.
	require.Equal(t, 2, out.Len())
	assert.False(t, out.HasColumn("discounted"))
	assert.True(t, out.HasColumn("tagged"))

	discount := entriesFor(audit, "discount")
	require.Len(t, discount, 2)
	for _, e := range discount {
		assert.Equal(t, core.OutcomeFailed, e.Outcome)
		require.NotNil(t, e.Err)
		assert.Equal(t, core.ErrorKindMissingField, e.Err.Kind)
		assert.Equal(t, "price", e.Err.Column)
	}

	logs := audit.StepLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, core.StepRunStatusFailed, logs[0].Status)
	assert.Equal(t, core.StepRunStatusSuccess, logs[1].Status)
}

func TestExecuteDivisionByZero(t *testing.T) {
	input := table.FromRecords([]map[string]any{
		{"total": 10.0, "count": 2.0},
		{"total": 7.0, "count": 0.0},
	})
	okID := input.Row(0).ID()
	badID := input.Row(1).ID()

	out, audit, err := Execute(context.Background(), []step.Step{ratioStep()}, input)
	require.NoError(t, err)

	require.Equal(t, 2, out.Len())
	ratio, ok := out.Row(0).Get("ratio")
	require.True(t, ok)
	assert.Equal(t, 5.0, ratio)

	// The zero-count row is carried forward without the new column.
	bad, ok := out.ByID(badID)
	require.True(t, ok)
	assert.False(t, bad.Has("ratio"))

	history := audit.RowHistory(badID)
	require.Len(t, history, 1)
	assert.Equal(t, core.OutcomeFailed, history[0].Outcome)
	assert.Equal(t, core.ErrorKindDivisionByZero, history[0].Err.Kind)

	assert.Equal(t, core.OutcomeApplied, audit.RowHistory(okID)[0].Outcome)
}

func TestExecuteIdempotence(t *testing.T) {
	records := []map[string]any{
		{"growth": 10},
		{"growth": 20},
	}

	run := func() *table.Table {
		out, _, err := Execute(context.Background(), []step.Step{growthRateStep()}, table.FromRecords(records))
		require.NoError(t, err)
		return out
	}

	first, second := run(), run()
	require.Equal(t, first.Len(), second.Len())
	for i := 0; i < first.Len(); i++ {
		assert.Equal(t, first.Row(i).Values(), second.Row(i).Values())
	}
}

func TestExecuteLineageCompleteness(t *testing.T) {
	input := table.FromRecords([]map[string]any{
		{"growth": 1}, {"growth": 2}, {"growth": 3},
	})

	steps := []step.Step{
		growthRateStep(),
		step.Func("flag", nil, func(table.Row) (table.Delta, error) {
			return table.Delta{"flagged": true}, nil
		}),
	}

	out, audit, err := Execute(context.Background(), steps, input)
	require.NoError(t, err)

	// Every surviving row has exactly one entry per step, in declaration
	// order.
	for _, id := range out.IDs() {
		history := audit.RowHistory(id)
		require.Len(t, history, len(steps))
		for i, e := range history {
			assert.Equal(t, steps[i].Name(), e.Step)
			assert.Equal(t, i, e.StepIndex)
		}
	}
}

func TestExecuteErrorNonInterruption(t *testing.T) {
	input := table.FromRecords([]map[string]any{
		{"total": 10.0, "count": 5.0},
		{"total": 10.0, "count": 0.0},
	})
	badID := input.Row(1).ID()

	steps := []step.Step{
		ratioStep(),
		step.Func("flag", nil, func(table.Row) (table.Delta, error) {
			return table.Delta{"flagged": true}, nil
		}),
	}

	out, audit, err := Execute(context.Background(), steps, input)
	require.NoError(t, err)

	// The failing row still went through the following step.
	history := audit.RowHistory(badID)
	require.Len(t, history, 2)
	assert.Equal(t, core.OutcomeFailed, history[0].Outcome)
	assert.Equal(t, core.OutcomeApplied, history[1].Outcome)

	bad, ok := out.ByID(badID)
	require.True(t, ok)
	assert.True(t, bad.Has("flagged"))

	// And the healthy row has an entry for the step that failed elsewhere.
	entries := entriesFor(audit, "compute_ratio")
	assert.Len(t, entries, 2)
}

func TestExecuteFatalAborts(t *testing.T) {
	input := table.FromRecords([]map[string]any{{"growth": 5}})

	fatal := step.Func("broken", nil, func(table.Row) (table.Delta, error) {
		return nil, core.NewError(core.ErrorKindFatal, "", "step cannot run")
	})
	after := step.Func("after", nil, func(table.Row) (table.Delta, error) {
		return table.Delta{"later": true}, nil
	})

	out, audit, err := Execute(context.Background(),
		[]step.Step{growthRateStep(), fatal, after}, input)

	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.ErrorKindFatal, ce.Kind)
	assert.Equal(t, "broken", ce.Step)

	// Accumulated state from before the fatal step is returned.
	require.Equal(t, 1, out.Len())
	assert.True(t, out.Row(0).Has("growth_rate"))
	assert.False(t, out.Row(0).Has("later"))

	logs := audit.StepLogs()
	require.Len(t, logs, 2, "no step log after the aborting step")
	assert.Equal(t, core.StepRunStatusFailed, logs[1].Status)
}

func TestExecuteOverwriteIsRejected(t *testing.T) {
	input := table.FromRecords([]map[string]any{{"price": 1.0}})

	overwrite := step.Func("clobber", []string{"price"}, func(table.Row) (table.Delta, error) {
		return table.Delta{"price": 2.0}, nil
	})

	out, audit, err := Execute(context.Background(), []step.Step{overwrite}, input)
	require.NoError(t, err)

	v, _ := out.Row(0).Get("price")
	assert.Equal(t, 1.0, v, "original column value must survive")

	history := audit.RowHistory(input.Row(0).ID())
	require.Len(t, history, 1)
	assert.Equal(t, core.OutcomeFailed, history[0].Outcome)
	assert.Equal(t, core.ErrorKindInvalidValue, history[0].Err.Kind)
}

func TestExecuteFallback(t *testing.T) {
	input := table.FromRecords([]map[string]any{{"count": 0.0, "total": 1.0}})

	withFallback := step.Func("ratio_or_zero", []string{"total", "count"},
		func(row table.Row) (table.Delta, error) {
			if num(row, "count") == 0 {
				return nil, core.NewError(core.ErrorKindDivisionByZero, "count", "count is zero")
			}
			return table.Delta{"ratio": num(row, "total") / num(row, "count")}, nil
		},
		step.WithFallback(table.Delta{"ratio": 0.0}))

	out, audit, err := Execute(context.Background(), []step.Step{withFallback}, input)
	require.NoError(t, err)

	ratio, ok := out.Row(0).Get("ratio")
	require.True(t, ok)
	assert.Equal(t, 0.0, ratio)

	// Fallback keeps the error visible while the row proceeds with the
	// default columns.
	history := audit.RowHistory(input.Row(0).ID())
	require.Len(t, history, 1)
	assert.Equal(t, core.OutcomeApplied, history[0].Outcome)
	require.NotNil(t, history[0].Err)
	assert.Equal(t, core.ErrorKindDivisionByZero, history[0].Err.Kind)
}

func TestExecuteFilterPredicateErrorKeepsRow(t *testing.T) {
	input := table.FromRecords([]map[string]any{{"v": "not-a-number"}})

	flaky := step.Filter("drop_negative", []string{"v"}, func(row table.Row) (bool, error) {
		return false, errors.New("cannot compare string")
	})

	out, audit, err := Execute(context.Background(), []step.Step{flaky}, input)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Len(), "a predicate error must not drop the row")
	history := audit.RowHistory(input.Row(0).ID())
	require.Len(t, history, 1)
	assert.Equal(t, core.OutcomeFailed, history[0].Outcome)
	assert.Empty(t, audit.Removed())
}

func TestExecuteAggregateLineage(t *testing.T) {
	input := table.FromRecords([]map[string]any{
		{"region": "east", "revenue": 1.0},
		{"region": "east", "revenue": 2.0},
		{"region": "west", "revenue": 5.0},
	})
	inputIDs := input.IDs()

	agg := &step.Aggregate{
		StepName: "by_region",
		GroupBy:  []string{"region"},
		Columns:  map[string]step.AggFunc{"revenue": step.AggSum},
	}

	out, audit, err := Execute(context.Background(), []step.Step{agg}, input)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	// Consumed inputs end with an aggregated outcome.
	for _, id := range inputIDs {
		history := audit.RowHistory(id)
		require.Len(t, history, 1)
		assert.Equal(t, core.OutcomeAggregated, history[0].Outcome)
	}

	// New rows carry their sources.
	for _, id := range out.IDs() {
		history := audit.RowHistory(id)
		require.Len(t, history, 1)
		assert.Equal(t, core.OutcomeApplied, history[0].Outcome)
		assert.NotEmpty(t, history[0].SourceRowIDs)
		for _, src := range history[0].SourceRowIDs {
			assert.Contains(t, inputIDs, src)
		}
	}
}

func TestExecuteExplodeParentResolution(t *testing.T) {
	input := table.FromRecords([]map[string]any{
		{"name": "a", "tags": []any{"x", "y"}},
	})

	steps := []step.Step{
		step.Func("flag", nil, func(table.Row) (table.Delta, error) {
			return table.Delta{"flagged": true}, nil
		}),
		&step.Explode{StepName: "split_tags", Column: "tags"},
	}

	out, audit, err := Execute(context.Background(), steps, input)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	// Each child's parent resolves to a row that existed in the table
	// immediately prior to the exploding step.
	for _, id := range out.IDs() {
		history := audit.RowHistory(id)
		require.Len(t, history, 1)
		parent := history[0].ParentRowID
		require.NotEmpty(t, parent)
		assert.Equal(t, input.Row(0).ID(), parent)
	}

	parentHistory := audit.RowHistory(input.Row(0).ID())
	require.Len(t, parentHistory, 2)
	assert.Equal(t, core.OutcomeExploded, parentHistory[1].Outcome)
}

func TestExecuteStepTimeout(t *testing.T) {
	records := make([]map[string]any, 4)
	for i := range records {
		records[i] = map[string]any{"v": i}
	}
	input := table.FromRecords(records)

	slow := step.Func("slow", nil, func(table.Row) (table.Delta, error) {
		time.Sleep(200 * time.Millisecond)
		return table.Delta{"done": true}, nil
	})
	after := step.Func("after", nil, func(table.Row) (table.Delta, error) {
		return table.Delta{"later": true}, nil
	})

	out, audit, err := Execute(context.Background(), []step.Step{slow, after}, input,
		WithWorkers(1), WithStepTimeout(20*time.Millisecond))
	require.NoError(t, err, "a step deadline must not abort the run")

	// The first row finished before the deadline check; the queued rows
	// were abandoned with a timeout error, and the next step still ran for
	// every row.
	var timedOut int
	for _, e := range entriesFor(audit, "slow") {
		if e.Outcome == core.OutcomeFailed {
			require.NotNil(t, e.Err)
			assert.Equal(t, core.ErrorKindTimeout, e.Err.Kind)
			timedOut++
		}
	}
	assert.GreaterOrEqual(t, timedOut, 1)

	assert.Len(t, entriesFor(audit, "after"), 4)
	assert.Equal(t, 4, out.Len())
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := table.FromRecords([]map[string]any{{"x": 1}})
	out, audit, err := Execute(ctx, []step.Step{growthRateStep()}, input)

	require.ErrorIs(t, err, context.Canceled)
	assert.Same(t, input, out)
	assert.Equal(t, 0, audit.Len())
}

func TestExecuteParallelRows(t *testing.T) {
	records := make([]map[string]any, 100)
	for i := range records {
		records[i] = map[string]any{"growth": i}
	}
	input := table.FromRecords(records)

	out, audit, err := Execute(context.Background(), []step.Step{growthRateStep()}, input,
		WithWorkers(8))
	require.NoError(t, err)

	require.Equal(t, 100, out.Len())
	assert.Equal(t, 100, audit.Len())

	// Output order and per-row values match the input regardless of worker
	// interleaving.
	for i := 0; i < out.Len(); i++ {
		assert.Equal(t, input.Row(i).ID(), out.Row(i).ID())
		rate, ok := out.Row(i).Get("growth_rate")
		require.True(t, ok)
		assert.InDelta(t, float64(i)/100, rate.(float64), 1e-9)
	}
}

func TestExecuteUnknownStepShapeIsFatal(t *testing.T) {
	input := table.FromRecords([]map[string]any{{"x": 1}})

	_, _, err := Execute(context.Background(), []step.Step{bareStep{}}, input)

	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.ErrorKindFatal, ce.Kind)
}

type bareStep struct{}

func (bareStep) Name() string       { return "bare" }
func (bareStep) Requires() []string { return nil }
