package step

import (
	"context"
	"regexp"
	"slices"
	"sort"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// ValueKind names the value shapes the validate step can check.
type ValueKind string

// Value kind constants.
const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindList   ValueKind = "list"
)

// Rule constrains one column's value. Min and Max apply to numbers, OneOf
// and Matches to strings. Unset constraints are skipped.
type Rule struct {
	Column  string
	Min     *float64
	Max     *float64
	OneOf   []string
	Matches *regexp.Regexp
}

// Validate checks each row against a column type schema and a list of value
// rules. It adds no columns; a violation fails the row with a descriptor
// naming the offending column. Checks stop at the first violation per row.
type Validate struct {
	StepName string
	Schema   map[string]ValueKind
	Rules    []Rule
}

// Name implements Step.
func (v *Validate) Name() string {
	return v.StepName
}

// Requires implements Step.
func (v *Validate) Requires() []string {
	seen := make(map[string]bool)
	var out []string
	for col := range v.Schema {
		if !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	for _, r := range v.Rules {
		if !seen[r.Column] {
			seen[r.Column] = true
			out = append(out, r.Column)
		}
	}
	sort.Strings(out)
	return out
}

// Apply implements RowStep.
func (v *Validate) Apply(_ context.Context, row table.Row) (table.Delta, error) {
	for _, col := range v.schemaColumns() {
		if err := checkKind(row, col, v.Schema[col]); err != nil {
			return nil, err
		}
	}
	for _, r := range v.Rules {
		if err := checkRule(row, r); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (v *Validate) schemaColumns() []string {
	out := make([]string, 0, len(v.Schema))
	for col := range v.Schema {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}

func checkKind(row table.Row, col string, kind ValueKind) error {
	val, ok := row.Get(col)
	if !ok {
		return core.NewError(core.ErrorKindMissingField, col, "required column missing")
	}

	switch kind {
	case KindString:
		if _, ok := val.(string); !ok {
			return core.NewError(core.ErrorKindTypeMismatch, col, "expected string, got %T", val)
		}
	case KindNumber:
		if _, ok := asNumber(val); !ok {
			return core.NewError(core.ErrorKindTypeMismatch, col, "expected number, got %T", val)
		}
	case KindBool:
		if _, ok := val.(bool); !ok {
			return core.NewError(core.ErrorKindTypeMismatch, col, "expected bool, got %T", val)
		}
	case KindList:
		if _, ok := asList(val); !ok {
			return core.NewError(core.ErrorKindTypeMismatch, col, "expected list, got %T", val)
		}
	default:
		return core.NewError(core.ErrorKindFatal, col, "unknown value kind %q", kind)
	}
	return nil
}

func checkRule(row table.Row, r Rule) error {
	val, ok := row.Get(r.Column)
	if !ok {
		return core.NewError(core.ErrorKindMissingField, r.Column, "required column missing")
	}

	if r.Min != nil || r.Max != nil {
		n, ok := asNumber(val)
		if !ok {
			return core.NewError(core.ErrorKindTypeMismatch, r.Column, "expected number, got %T", val)
		}
		if r.Min != nil && n < *r.Min {
			return core.NewError(core.ErrorKindInvalidValue, r.Column, "value %v below minimum %v", n, *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			return core.NewError(core.ErrorKindInvalidValue, r.Column, "value %v above maximum %v", n, *r.Max)
		}
	}

	if len(r.OneOf) > 0 {
		s, ok := val.(string)
		if !ok {
			return core.NewError(core.ErrorKindTypeMismatch, r.Column, "expected string, got %T", val)
		}
		if !slices.Contains(r.OneOf, s) {
			return core.NewError(core.ErrorKindInvalidValue, r.Column, "value %q not in %v", s, r.OneOf)
		}
	}

	if r.Matches != nil {
		s, ok := val.(string)
		if !ok {
			return core.NewError(core.ErrorKindTypeMismatch, r.Column, "expected string, got %T", val)
		}
		if !r.Matches.MatchString(s) {
			return core.NewError(core.ErrorKindInvalidValue, r.Column, "value %q does not match %s", s, r.Matches)
		}
	}

	return nil
}
