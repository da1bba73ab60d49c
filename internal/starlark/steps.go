package starlark

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/table"
	"go.starlark.net/starlark"
)

// ExprStep derives one new column per row from an inline expression.
// The expression sees the row as `row`, e.g.
//
//	(row["end"] - row["start"]) / row["start"]
type ExprStep struct {
	// Context evaluates the expression.
	Context *ExecutionContext

	// StepName tags lineage entries and log lines.
	StepName string

	// Columns lists the input columns the expression reads.
	Columns []string

	// Adds is the name of the produced column.
	Adds string

	// Expr is the Starlark expression source.
	Expr string

	// Site names the evaluation site in errors, typically "pipeline:step".
	Site string

	// OnError, when non-nil, is merged into the row instead of the
	// expression result when evaluation fails.
	OnError table.Delta
}

func (s *ExprStep) Name() string { return s.StepName }

func (s *ExprStep) Requires() []string { return s.Columns }

func (s *ExprStep) Fallback() (table.Delta, bool) {
	if s.OnError == nil {
		return nil, false
	}
	return s.OnError, true
}

func (s *ExprStep) Apply(ctx context.Context, row table.Row) (table.Delta, error) {
	val, err := s.Context.EvalRowExpr(ctx, s.Expr, s.Site, row)
	if err != nil {
		return nil, classifyEval(err)
	}

	gv, err := toGo(val)
	if err != nil {
		return nil, core.NewError(core.ErrorKindTypeMismatch, s.Adds, "expression result: %v", err)
	}
	return table.Delta{s.Adds: gv}, nil
}

// ExprFilter keeps rows whose expression evaluates truthy. Removed rows are
// recorded with RemovalReason, or the step name when empty.
type ExprFilter struct {
	Context  *ExecutionContext
	StepName string
	Columns  []string
	Expr     string
	Site     string

	// RemovalReason explains removals in the run's removed-rows log.
	RemovalReason string
}

func (s *ExprFilter) Name() string { return s.StepName }

func (s *ExprFilter) Requires() []string { return s.Columns }

func (s *ExprFilter) Reason() string { return s.RemovalReason }

func (s *ExprFilter) Keep(ctx context.Context, row table.Row) (bool, error) {
	val, err := s.Context.EvalRowExpr(ctx, s.Expr, s.Site, row)
	if err != nil {
		return false, classifyEval(err)
	}
	return bool(val.Truth()), nil
}

// FuncStep applies a function loaded from a .star file to each row. The
// function receives the row as a dict and returns a dict of new columns,
// or None for no change.
type FuncStep struct {
	Context  *ExecutionContext
	StepName string
	Columns  []string

	// Fn is the resolved step function.
	Fn starlark.Callable

	// Qualified is the "namespace.function" reference, used in errors.
	Qualified string

	// Site names the evaluation site in errors.
	Site string

	OnError table.Delta
}

func (s *FuncStep) Name() string { return s.StepName }

func (s *FuncStep) Requires() []string { return s.Columns }

func (s *FuncStep) Fallback() (table.Delta, bool) {
	if s.OnError == nil {
		return nil, false
	}
	return s.OnError, true
}

func (s *FuncStep) Apply(ctx context.Context, row table.Row) (table.Delta, error) {
	result, err := s.call(ctx, row)
	if err != nil {
		return nil, err
	}

	delta, err := deltaFromValue(result)
	if err != nil {
		return nil, core.NewError(core.ErrorKindTypeMismatch, "", "%s: %v", s.Qualified, err)
	}
	return delta, nil
}

func (s *FuncStep) call(ctx context.Context, row table.Row) (starlark.Value, error) {
	dict, err := rowToDict(row)
	if err != nil {
		return nil, core.NewError(core.ErrorKindInvalidValue, "", "%s: %v", s.Qualified, err)
	}

	result, err := s.Context.Call(ctx, s.Site, s.Fn, starlark.Tuple{dict})
	if err != nil {
		return nil, classifyEval(err)
	}
	return result, nil
}

// FuncFilter keeps rows for which a loaded function returns truthy.
type FuncFilter struct {
	Context       *ExecutionContext
	StepName      string
	Columns       []string
	Fn            starlark.Callable
	Qualified     string
	Site          string
	RemovalReason string
}

func (s *FuncFilter) Name() string { return s.StepName }

func (s *FuncFilter) Requires() []string { return s.Columns }

func (s *FuncFilter) Reason() string { return s.RemovalReason }

func (s *FuncFilter) Keep(ctx context.Context, row table.Row) (bool, error) {
	dict, err := rowToDict(row)
	if err != nil {
		return false, core.NewError(core.ErrorKindInvalidValue, "", "%s: %v", s.Qualified, err)
	}

	val, err := s.Context.Call(ctx, s.Site, s.Fn, starlark.Tuple{dict})
	if err != nil {
		return false, classifyEval(err)
	}
	return bool(val.Truth()), nil
}

// keyNotFound matches the interpreter's message for a missing dict key, so
// row["price"] on a row without price surfaces as a missing-field error
// naming the column.
var keyNotFound = regexp.MustCompile(`key "([^"]+)" not in dict`)

// classifyEval maps a Starlark evaluation error onto the error taxonomy.
// Interrupted evaluations become timeouts; everything unrecognized is an
// invalid value.
func classifyEval(err error) *core.Error {
	msg := err.Error()
	var ee *EvalError
	if errors.As(err, &ee) {
		msg = ee.Message
		if ee.Cause != nil {
			return core.NewError(core.ErrorKindTimeout, "", "%s", ee.Message)
		}
	}

	if m := keyNotFound.FindStringSubmatch(msg); m != nil {
		return core.NewError(core.ErrorKindMissingField, m[1], "%s", msg)
	}

	switch {
	case strings.Contains(msg, "division by zero"),
		strings.Contains(msg, "modulo by zero"):
		return core.NewError(core.ErrorKindDivisionByZero, "", "%s", msg)

	case strings.Contains(msg, "cancelled"):
		return core.NewError(core.ErrorKindTimeout, "", "%s", msg)

	case strings.Contains(msg, "unknown binary op"),
		strings.Contains(msg, "not comparable"),
		strings.Contains(msg, "unexpected keyword argument"),
		strings.Contains(msg, "got ") && strings.Contains(msg, ", want "):
		return core.NewError(core.ErrorKindTypeMismatch, "", "%s", msg)

	default:
		return core.NewError(core.ErrorKindInvalidValue, "", "%s", msg)
	}
}
