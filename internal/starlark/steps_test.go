package starlark

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestModule(t *testing.T, filename, content string) *Module {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	modules, err := NewLoader(dir).Load()
	require.NoError(t, err, "loading test module")
	require.Len(t, modules, 1, "expected one module")
	return modules[0]
}

func exprContext(t *testing.T) *ExecutionContext {
	t.Helper()
	ec, err := NewContext("dev")
	require.NoError(t, err, "NewContext() error")
	return ec
}

func TestExprStep_Apply(t *testing.T) {
	s := &ExprStep{
		Context:  exprContext(t),
		StepName: "growth",
		Columns:  []string{"start", "end"},
		Adds:     "growth_rate",
		Expr:     `(row["end"] - row["start"]) / row["start"]`,
		Site:     "sales:growth",
	}

	assert.Equal(t, "growth", s.Name())
	assert.Equal(t, []string{"start", "end"}, s.Requires())

	row := table.NewRowWithID("r1", map[string]any{"start": 100.0, "end": 105.0})
	delta, err := s.Apply(context.Background(), row)
	require.NoError(t, err, "Apply() error")
	assert.Equal(t, table.Delta{"growth_rate": 0.05}, delta, "delta")
}

func TestExprStep_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		expr       string
		row        map[string]any
		wantKind   core.ErrorKind
		wantColumn string
	}{
		{
			name:       "missing column",
			expr:       `row["price"] * 1.2`,
			row:        map[string]any{"qty": 2.0},
			wantKind:   core.ErrorKindMissingField,
			wantColumn: "price",
		},
		{
			name:     "division by zero",
			expr:     `row["end"] / row["start"]`,
			row:      map[string]any{"start": 0.0, "end": 105.0},
			wantKind: core.ErrorKindDivisionByZero,
		},
		{
			name:     "type mismatch",
			expr:     `row["region"] + row["end"]`,
			row:      map[string]any{"region": "emea", "end": 105.0},
			wantKind: core.ErrorKindTypeMismatch,
		},
		{
			name:     "unconvertible result",
			expr:     `math.floor`,
			row:      map[string]any{"end": 105.0},
			wantKind: core.ErrorKindTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &ExprStep{
				Context:  exprContext(t),
				StepName: "derive",
				Adds:     "out",
				Expr:     tt.expr,
				Site:     "test:derive",
			}

			_, err := s.Apply(context.Background(), table.NewRowWithID("r1", tt.row))
			require.Error(t, err, "expected error")

			var coreErr *core.Error
			require.ErrorAs(t, err, &coreErr, "expected *core.Error")
			assert.Equal(t, tt.wantKind, coreErr.Kind, "kind")
			if tt.wantColumn != "" {
				assert.Equal(t, tt.wantColumn, coreErr.Column, "column")
			}
		})
	}
}

func TestExprStep_Fallback(t *testing.T) {
	s := &ExprStep{OnError: table.Delta{"ratio": 0.0}}
	delta, ok := s.Fallback()
	assert.True(t, ok, "fallback present")
	assert.Equal(t, table.Delta{"ratio": 0.0}, delta, "fallback delta")

	bare := &ExprStep{}
	_, ok = bare.Fallback()
	assert.False(t, ok, "no fallback declared")
}

func TestExprFilter_Keep(t *testing.T) {
	s := &ExprFilter{
		Context:       exprContext(t),
		StepName:      "positive_growth",
		Columns:       []string{"growth"},
		Expr:          `row["growth"] > 0`,
		Site:          "sales:positive_growth",
		RemovalReason: "non-positive growth",
	}

	assert.Equal(t, "non-positive growth", s.Reason())

	keep, err := s.Keep(context.Background(), table.NewRowWithID("r1", map[string]any{"growth": 5.0}))
	require.NoError(t, err)
	assert.True(t, keep, "positive growth kept")

	keep, err = s.Keep(context.Background(), table.NewRowWithID("r2", map[string]any{"growth": -3.0}))
	require.NoError(t, err)
	assert.False(t, keep, "negative growth removed")
}

func TestExprFilter_Truthiness(t *testing.T) {
	s := &ExprFilter{
		Context:  exprContext(t),
		StepName: "has_tags",
		Expr:     `row["tags"]`,
		Site:     "test:has_tags",
	}

	keep, err := s.Keep(context.Background(), table.NewRowWithID("r1", map[string]any{"tags": []string{"a"}}))
	require.NoError(t, err)
	assert.True(t, keep, "non-empty list is truthy")

	keep, err = s.Keep(context.Background(), table.NewRowWithID("r2", map[string]any{"tags": []string{}}))
	require.NoError(t, err)
	assert.False(t, keep, "empty list is falsy")
}

func TestExprFilter_PredicateError(t *testing.T) {
	s := &ExprFilter{
		Context:  exprContext(t),
		StepName: "bad",
		Expr:     `row["missing"] > 0`,
		Site:     "test:bad",
	}

	_, err := s.Keep(context.Background(), table.NewRowWithID("r1", map[string]any{"n": 1.0}))
	require.Error(t, err, "expected error")

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, core.ErrorKindMissingField, coreErr.Kind, "kind")
	assert.Equal(t, "missing", coreErr.Column, "column")
}

func TestFuncStep_Apply(t *testing.T) {
	mod := loadTestModule(t, "metrics.star", `
def classify(row):
    """Adds a volume band column."""
    if row["qty"] >= 10:
        return {"band": "bulk"}
    return {"band": "retail"}

def noop(row):
    return None
`)

	ec, err := NewContext("dev", WithModules([]*Module{mod}))
	require.NoError(t, err, "NewContext() error")

	classify, err := ec.Resolve("metrics.classify")
	require.NoError(t, err, "Resolve() error")

	s := &FuncStep{
		Context:   ec,
		StepName:  "classify",
		Columns:   []string{"qty"},
		Fn:        classify,
		Qualified: "metrics.classify",
		Site:      "orders:classify",
	}

	delta, err := s.Apply(context.Background(), table.NewRowWithID("r1", map[string]any{"qty": 12.0}))
	require.NoError(t, err, "Apply() error")
	assert.Equal(t, table.Delta{"band": "bulk"}, delta, "delta")

	noop, err := ec.Resolve("metrics.noop")
	require.NoError(t, err)
	s.Fn = noop

	delta, err = s.Apply(context.Background(), table.NewRowWithID("r2", map[string]any{"qty": 1.0}))
	require.NoError(t, err, "Apply() error")
	assert.Nil(t, delta, "None means no delta")
}

func TestFuncStep_ErrorMapping(t *testing.T) {
	mod := loadTestModule(t, "bad.star", `
def needs_price(row):
    return {"x": row["price"]}

def wrong_shape(row):
    return 5
`)

	ec, err := NewContext("dev", WithModules([]*Module{mod}))
	require.NoError(t, err, "NewContext() error")

	t.Run("missing key inside function", func(t *testing.T) {
		fn, err := ec.Resolve("bad.needs_price")
		require.NoError(t, err)

		s := &FuncStep{Context: ec, StepName: "p", Fn: fn, Qualified: "bad.needs_price", Site: "t:p"}
		_, err = s.Apply(context.Background(), table.NewRowWithID("r1", map[string]any{"qty": 1.0}))
		require.Error(t, err)

		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		assert.Equal(t, core.ErrorKindMissingField, coreErr.Kind, "kind")
		assert.Equal(t, "price", coreErr.Column, "column")
	})

	t.Run("non-dict return", func(t *testing.T) {
		fn, err := ec.Resolve("bad.wrong_shape")
		require.NoError(t, err)

		s := &FuncStep{Context: ec, StepName: "w", Fn: fn, Qualified: "bad.wrong_shape", Site: "t:w"}
		_, err = s.Apply(context.Background(), table.NewRowWithID("r1", map[string]any{"qty": 1.0}))
		require.Error(t, err)

		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		assert.Equal(t, core.ErrorKindTypeMismatch, coreErr.Kind, "kind")
		assert.Contains(t, coreErr.Message, "bad.wrong_shape", "message names the function")
	})
}

func TestFuncFilter_Keep(t *testing.T) {
	mod := loadTestModule(t, "filters.star", `
def keep_big(row):
    return row["n"] > 1
`)

	ec, err := NewContext("dev", WithModules([]*Module{mod}))
	require.NoError(t, err, "NewContext() error")

	fn, err := ec.Resolve("filters.keep_big")
	require.NoError(t, err)

	s := &FuncFilter{
		Context:       ec,
		StepName:      "keep_big",
		Fn:            fn,
		Qualified:     "filters.keep_big",
		Site:          "t:keep_big",
		RemovalReason: "too small",
	}

	keep, err := s.Keep(context.Background(), table.NewRowWithID("r1", map[string]any{"n": 2.0}))
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = s.Keep(context.Background(), table.NewRowWithID("r2", map[string]any{"n": 0.0}))
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestClassifyEval(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   core.ErrorKind
		wantColumn string
	}{
		{
			name:       "missing dict key",
			err:        &EvalError{Message: `key "price" not in dict`},
			wantKind:   core.ErrorKindMissingField,
			wantColumn: "price",
		},
		{
			name:     "float division by zero",
			err:      &EvalError{Message: "floating-point division by zero"},
			wantKind: core.ErrorKindDivisionByZero,
		},
		{
			name:     "floored division by zero",
			err:      &EvalError{Message: "floored division by zero"},
			wantKind: core.ErrorKindDivisionByZero,
		},
		{
			name:     "context deadline",
			err:      &EvalError{Message: "Starlark computation cancelled: context deadline exceeded", Cause: context.DeadlineExceeded},
			wantKind: core.ErrorKindTimeout,
		},
		{
			name:     "cancelled without cause",
			err:      &EvalError{Message: "Starlark computation cancelled: shutting down"},
			wantKind: core.ErrorKindTimeout,
		},
		{
			name:     "binary op mismatch",
			err:      &EvalError{Message: "unknown binary op: string + float"},
			wantKind: core.ErrorKindTypeMismatch,
		},
		{
			name:     "builtin argument mismatch",
			err:      &EvalError{Message: "floor: got string, want float"},
			wantKind: core.ErrorKindTypeMismatch,
		},
		{
			name:     "anything else",
			err:      &EvalError{Message: "local variable x referenced before assignment"},
			wantKind: core.ErrorKindInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coreErr := classifyEval(tt.err)
			require.NotNil(t, coreErr, "classifyEval() returned nil")
			assert.Equal(t, tt.wantKind, coreErr.Kind, "kind")
			assert.Equal(t, tt.wantColumn, coreErr.Column, "column")
		})
	}
}
