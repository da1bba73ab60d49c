package step

import (
	"context"

	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// RowFunc is a pure per-row transformation supplied by a step author.
type RowFunc func(row table.Row) (table.Delta, error)

// Predicate is a pure per-row keep/remove decision.
type Predicate func(row table.Row) (bool, error)

// Option configures a function-backed row step.
type Option func(*funcStep)

// WithFallback sets the delta merged when the function fails for a row. The
// error is still recorded; the row continues with the fallback columns.
func WithFallback(d table.Delta) Option {
	return func(s *funcStep) {
		s.fallback = d
	}
}

type funcStep struct {
	name     string
	requires []string
	fn       RowFunc
	fallback table.Delta
}

// Func builds a RowStep from a plain function.
func Func(name string, requires []string, fn RowFunc, opts ...Option) RowStep {
	s := &funcStep{name: name, requires: requires, fn: fn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *funcStep) Name() string {
	return s.name
}

func (s *funcStep) Requires() []string {
	return s.requires
}

func (s *funcStep) Apply(_ context.Context, row table.Row) (table.Delta, error) {
	return s.fn(row)
}

func (s *funcStep) Fallback() (table.Delta, bool) {
	return s.fallback, s.fallback != nil
}

type filterStep struct {
	name     string
	requires []string
	pred     Predicate
	reason   string
}

// FilterOption configures a function-backed filter step.
type FilterOption func(*filterStep)

// WithReason sets the removal reason recorded for rows the filter drops.
func WithReason(reason string) FilterOption {
	return func(s *filterStep) {
		s.reason = reason
	}
}

// Filter builds a FilterStep from a plain predicate.
func Filter(name string, requires []string, pred Predicate, opts ...FilterOption) FilterStep {
	s := &filterStep{name: name, requires: requires, pred: pred}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *filterStep) Name() string {
	return s.name
}

func (s *filterStep) Requires() []string {
	return s.requires
}

func (s *filterStep) Keep(_ context.Context, row table.Row) (bool, error) {
	return s.pred(row)
}

func (s *filterStep) Reason() string {
	return s.reason
}
