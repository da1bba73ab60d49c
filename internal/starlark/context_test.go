package starlark

import (
	"context"
	"testing"

	"github.com/leapstack-labs/leaptrace/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func testRow(t *testing.T, cols map[string]any) table.Row {
	t.Helper()
	return table.NewRowWithID("row-1", cols)
}

func TestNewContext(t *testing.T) {
	ec, err := NewContext("prod")
	require.NoError(t, err, "NewContext() error")

	globals := ec.Globals()

	expectedKeys := []string{"env", "math"}
	for _, key := range expectedKeys {
		_, ok := globals[key]
		assert.True(t, ok, "global %q not found", key)
	}
}

func TestExecutionContext_EvalRowExpr(t *testing.T) {
	ec, err := NewContext("prod")
	require.NoError(t, err, "NewContext() error")

	row := testRow(t, map[string]any{
		"start":  100.0,
		"end":    105.0,
		"region": "emea",
		"tags":   []string{"a", "b"},
	})

	tests := []struct {
		name    string
		expr    string
		want    starlark.Value
		wantErr bool
	}{
		{
			name: "column arithmetic",
			expr: `(row["end"] - row["start"]) / row["start"]`,
			want: starlark.Float(0.05),
		},
		{
			name: "env variable",
			expr: `env`,
			want: starlark.String("prod"),
		},
		{
			name: "conditional expression",
			expr: `"high" if row["end"] > 100 else "low"`,
			want: starlark.String("high"),
		},
		{
			name: "math module",
			expr: `math.floor(row["end"])`,
			want: starlark.MakeInt(105),
		},
		{
			name: "list column length",
			expr: `len(row["tags"])`,
			want: starlark.MakeInt(2),
		},
		{
			name:    "missing column",
			expr:    `row["price"] * 2`,
			wantErr: true,
		},
		{
			name:    "undefined variable",
			expr:    `undefined_var`,
			wantErr: true,
		},
		{
			name:    "syntax error",
			expr:    `if`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ec.EvalRowExpr(context.Background(), tt.expr, "test:step", row)

			if tt.wantErr {
				assert.Error(t, err, "expected error")
				var evalErr *EvalError
				assert.ErrorAs(t, err, &evalErr, "expected *EvalError")
				return
			}

			require.NoError(t, err, "unexpected error")
			assert.Equal(t, tt.want, result, "EvalRowExpr()")
		})
	}
}

func TestExecutionContext_RowIsNotShared(t *testing.T) {
	ec, err := NewContext("dev")
	require.NoError(t, err, "NewContext() error")

	row := testRow(t, map[string]any{"n": 1.0})

	// Expressions cannot assign, but they can call mutators. The dict is a
	// per-evaluation copy, so the row must be unaffected.
	_, err = ec.EvalRowExpr(context.Background(), `row.setdefault("extra", 99)`, "test:step", row)
	require.NoError(t, err, "unexpected error")

	assert.False(t, row.Has("extra"), "row gained a column through the eval dict")
	assert.Equal(t, 1, row.Len(), "row column count changed")
}

func TestNewContext_WithModules(t *testing.T) {
	mod := &Module{
		Namespace: "metrics",
		Path:      "/steps/metrics.star",
		Exports: starlark.StringDict{
			"rate": starlark.NewBuiltin("rate", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
				return starlark.Float(0.5), nil
			}),
		},
	}

	ec, err := NewContext("dev", WithModules([]*Module{mod}))
	require.NoError(t, err, "NewContext() error")

	globals := ec.Globals()
	nsVal, ok := globals["metrics"]
	require.True(t, ok, "metrics namespace not found in globals")

	hasAttrs, ok := nsVal.(starlark.HasAttrs)
	require.True(t, ok, "expected HasAttrs, got %T", nsVal)

	rate, err := hasAttrs.Attr("rate")
	require.NoError(t, err, "failed to get rate attr")
	require.NotNil(t, rate, "rate attr missing")

	row := testRow(t, map[string]any{"x": 1.0})
	result, err := ec.EvalRowExpr(context.Background(), `metrics.rate()`, "test:step", row)
	require.NoError(t, err, "unexpected error")
	assert.Equal(t, starlark.Float(0.5), result, "metrics.rate()")
}

func TestNewContext_NamespaceConflictsWithBuiltin(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
	}{
		{"env conflict", "env"},
		{"math conflict", "math"},
		{"row conflict", "row"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewContext("dev", WithNamespaces(starlark.StringDict{
				tt.namespace: starlark.String("conflict"),
			}))
			assert.Error(t, err, "expected error for conflicting namespace %q", tt.namespace)
		})
	}
}

func TestExecutionContext_Resolve(t *testing.T) {
	mod := &Module{
		Namespace: "clean",
		Exports: starlark.StringDict{
			"trim":    starlark.NewBuiltin("trim", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) { return starlark.None, nil }),
			"version": starlark.String("1.0"),
		},
	}

	ec, err := NewContext("dev", WithModules([]*Module{mod}))
	require.NoError(t, err, "NewContext() error")

	tests := []struct {
		name      string
		qualified string
		wantErr   string
	}{
		{name: "resolves function", qualified: "clean.trim"},
		{name: "unqualified reference", qualified: "trim", wantErr: "namespace.function"},
		{name: "unknown namespace", qualified: "nope.trim", wantErr: "unknown step namespace"},
		{name: "unknown function", qualified: "clean.nope", wantErr: "not found"},
		{name: "not a function", qualified: "clean.version", wantErr: "not a function"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := ec.Resolve(tt.qualified)

			if tt.wantErr != "" {
				require.Error(t, err, "expected error")
				assert.Contains(t, err.Error(), tt.wantErr, "error message")
				return
			}

			require.NoError(t, err, "unexpected error")
			assert.NotNil(t, fn, "expected callable")
		})
	}
}

func TestEvalError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  EvalError
		want string
	}{
		{
			name: "with line",
			err: EvalError{
				File:    "sales:growth",
				Line:    10,
				Expr:    "undefined",
				Message: "undefined variable",
			},
			want: `sales:growth:10: error evaluating "undefined": undefined variable`,
		},
		{
			name: "without line",
			err: EvalError{
				File:    "sales:growth",
				Expr:    "bad",
				Message: "syntax error",
			},
			want: `sales:growth: error evaluating "bad": syntax error`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error(), "Error()")
		})
	}
}
