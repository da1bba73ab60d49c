package pipeline

import (
	"fmt"
	"regexp"

	"github.com/leapstack-labs/leaptrace/internal/starlark"
	"github.com/leapstack-labs/leaptrace/pkg/step"
	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// CompileError describes a step that could not be compiled.
type CompileError struct {
	Pipeline string
	Step     string
	Message  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: step %q: %s", e.Pipeline, e.Step, e.Message)
}

// Compile turns the spec's step list into executable steps. Starlark
// expressions and function references are resolved against ec, so errors
// in references surface here rather than mid-run.
func (s *Spec) Compile(ec *starlark.ExecutionContext) ([]step.Step, error) {
	steps := make([]step.Step, 0, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		compiled, err := s.compileStep(ec, st)
		if err != nil {
			return nil, err
		}
		steps = append(steps, compiled)
	}
	return steps, nil
}

func (s *Spec) compileStep(ec *starlark.ExecutionContext, st *StepSpec) (step.Step, error) {
	site := s.Name + ":" + st.Name

	switch st.Kind {
	case KindDerive:
		return &starlark.ExprStep{
			Context:  ec,
			StepName: st.Name,
			Columns:  st.Requires,
			Adds:     st.Adds,
			Expr:     st.Expr,
			Site:     site,
			OnError:  deltaFrom(st.OnError),
		}, nil

	case KindFilter:
		if st.Function != "" {
			fn, err := ec.Resolve(st.Function)
			if err != nil {
				return nil, s.compileErr(st, err)
			}
			return &starlark.FuncFilter{
				Context:       ec,
				StepName:      st.Name,
				Columns:       st.Requires,
				Fn:            fn,
				Qualified:     st.Function,
				Site:          site,
				RemovalReason: st.Reason,
			}, nil
		}
		return &starlark.ExprFilter{
			Context:       ec,
			StepName:      st.Name,
			Columns:       st.Requires,
			Expr:          st.Expr,
			Site:          site,
			RemovalReason: st.Reason,
		}, nil

	case KindApply:
		fn, err := ec.Resolve(st.Function)
		if err != nil {
			return nil, s.compileErr(st, err)
		}
		return &starlark.FuncStep{
			Context:   ec,
			StepName:  st.Name,
			Columns:   st.Requires,
			Fn:        fn,
			Qualified: st.Function,
			Site:      site,
			OnError:   deltaFrom(st.OnError),
		}, nil

	case KindValidate:
		return s.compileValidate(st)

	case KindAggregate:
		return s.compileAggregate(st)

	case KindExplode:
		return &step.Explode{StepName: st.Name, Column: st.Column}, nil

	case KindSort:
		return &step.Sort{
			StepName: st.Name,
			By:       st.By,
			Desc:     st.Desc,
			Locale:   st.Locale,
		}, nil

	default:
		return nil, s.compileErr(st, fmt.Errorf("unknown kind %q", st.Kind))
	}
}

func (s *Spec) compileValidate(st *StepSpec) (step.Step, error) {
	schema := make(map[string]step.ValueKind, len(st.Schema))
	for column, kind := range st.Schema {
		vk, err := valueKind(kind)
		if err != nil {
			return nil, s.compileErr(st, fmt.Errorf("column %q: %w", column, err))
		}
		schema[column] = vk
	}

	rules := make([]step.Rule, 0, len(st.Rules))
	for _, rs := range st.Rules {
		if rs.Column == "" {
			return nil, s.compileErr(st, fmt.Errorf("rule without a column"))
		}
		rule := step.Rule{
			Column: rs.Column,
			Min:    rs.Min,
			Max:    rs.Max,
			OneOf:  rs.OneOf,
		}
		if rs.Matches != "" {
			re, err := regexp.Compile(rs.Matches)
			if err != nil {
				return nil, s.compileErr(st, fmt.Errorf("column %q: invalid pattern: %v", rs.Column, err))
			}
			rule.Matches = re
		}
		rules = append(rules, rule)
	}

	return &step.Validate{StepName: st.Name, Schema: schema, Rules: rules}, nil
}

func (s *Spec) compileAggregate(st *StepSpec) (step.Step, error) {
	columns := make(map[string]step.AggFunc, len(st.Aggregate))
	for column, fn := range st.Aggregate {
		af, err := aggFunc(fn)
		if err != nil {
			return nil, s.compileErr(st, fmt.Errorf("column %q: %w", column, err))
		}
		columns[column] = af
	}

	return &step.Aggregate{
		StepName:    st.Name,
		GroupBy:     st.GroupBy,
		Columns:     columns,
		CountColumn: st.CountColumn,
	}, nil
}

func valueKind(kind string) (step.ValueKind, error) {
	switch kind {
	case "string":
		return step.KindString, nil
	case "number":
		return step.KindNumber, nil
	case "bool":
		return step.KindBool, nil
	case "list":
		return step.KindList, nil
	default:
		return "", fmt.Errorf("unknown type %q, must be one of: string, number, bool, list", kind)
	}
}

func aggFunc(fn string) (step.AggFunc, error) {
	switch fn {
	case "sum":
		return step.AggSum, nil
	case "mean":
		return step.AggMean, nil
	case "min":
		return step.AggMin, nil
	case "max":
		return step.AggMax, nil
	case "count":
		return step.AggCount, nil
	case "first":
		return step.AggFirst, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q, must be one of: sum, mean, min, max, count, first", fn)
	}
}

func deltaFrom(m map[string]any) table.Delta {
	if m == nil {
		return nil
	}
	delta := make(table.Delta, len(m))
	for k, v := range m {
		delta[k] = v
	}
	return delta
}

func (s *Spec) compileErr(st *StepSpec, err error) error {
	return &CompileError{Pipeline: s.Name, Step: st.Name, Message: err.Error()}
}
