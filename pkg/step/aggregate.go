package step

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// AggFunc identifies a built-in aggregation function.
type AggFunc string

// Aggregation function constants.
const (
	AggSum   AggFunc = "sum"
	AggMean  AggFunc = "mean"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggCount AggFunc = "count"
	AggFirst AggFunc = "first"
)

// Aggregate groups rows by the GroupBy columns and reduces every group to a
// single output row. Output rows receive fresh identifiers; the identifiers
// of the rows that contributed are reported as SourceRowIDs so lineage
// survives the cardinality change. CountColumn, when set, adds a column
// holding the number of contributing rows.
//
// Sum, mean, min, and max operate on numeric values; a non-numeric value is
// a configuration-level failure and aborts the run. Count tallies non-nil
// values and first takes the first non-nil value in input order.
type Aggregate struct {
	StepName    string
	GroupBy     []string
	Columns     map[string]AggFunc
	CountColumn string
}

// Name implements Step.
func (a *Aggregate) Name() string {
	return a.StepName
}

// Requires implements Step: the grouping columns plus every aggregated
// column.
func (a *Aggregate) Requires() []string {
	seen := make(map[string]bool, len(a.GroupBy))
	out := make([]string, 0, len(a.GroupBy)+len(a.Columns))
	for _, name := range a.GroupBy {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range a.aggColumns() {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Transform implements TableStep.
func (a *Aggregate) Transform(_ context.Context, tbl *table.Table) (*table.Table, []Provenance, error) {
	if len(a.GroupBy) == 0 {
		return nil, nil, core.NewError(core.ErrorKindFatal, "", "aggregate step %q has no group_by columns", a.StepName)
	}
	for col, fn := range a.Columns {
		switch fn {
		case AggSum, AggMean, AggMin, AggMax, AggCount, AggFirst:
		default:
			return nil, nil, core.NewError(core.ErrorKindFatal, col, "unknown aggregation %q", fn)
		}
	}

	// Group rows by their key, preserving first-seen group order.
	var keys []string
	groups := make(map[string][]table.Row)
	for _, row := range tbl.Rows() {
		key := a.groupKey(row)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], row)
	}

	rows := make([]table.Row, 0, len(keys))
	prov := make([]Provenance, 0, len(keys))
	for _, key := range keys {
		members := groups[key]

		cols := make(map[string]any, len(a.GroupBy)+len(a.Columns)+1)
		for _, name := range a.GroupBy {
			if v, ok := members[0].Get(name); ok {
				cols[name] = v
			}
		}
		for _, name := range a.aggColumns() {
			v, err := reduce(a.Columns[name], name, members)
			if err != nil {
				return nil, nil, err
			}
			cols[name] = v
		}
		if a.CountColumn != "" {
			cols[a.CountColumn] = len(members)
		}

		sources := make([]string, len(members))
		for i, m := range members {
			sources[i] = m.ID()
		}

		rows = append(rows, table.NewRow(cols))
		prov = append(prov, Provenance{SourceRowIDs: sources})
	}

	return table.New(rows...), prov, nil
}

// aggColumns returns the aggregated column names, sorted for deterministic
// iteration.
func (a *Aggregate) aggColumns() []string {
	out := make([]string, 0, len(a.Columns))
	for name := range a.Columns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// groupKey builds a composite key from the grouping column values.
func (a *Aggregate) groupKey(row table.Row) string {
	parts := make([]string, len(a.GroupBy))
	for i, name := range a.GroupBy {
		v, _ := row.Get(name)
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f")
}

// reduce applies one aggregation function over the group members' values
// for the column. Rows lacking the column contribute nothing.
func reduce(fn AggFunc, column string, members []table.Row) (any, error) {
	switch fn {
	case AggCount:
		n := 0
		for _, m := range members {
			if v, ok := m.Get(column); ok && v != nil {
				n++
			}
		}
		return n, nil

	case AggFirst:
		for _, m := range members {
			if v, ok := m.Get(column); ok && v != nil {
				return v, nil
			}
		}
		return nil, nil
	}

	var nums []float64
	for _, m := range members {
		v, ok := m.Get(column)
		if !ok || v == nil {
			continue
		}
		n, ok := asNumber(v)
		if !ok {
			return nil, core.NewError(core.ErrorKindFatal, column, "cannot %s non-numeric value %v (%T)", fn, v, v)
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return nil, nil
	}

	switch fn {
	case AggSum:
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum, nil
	case AggMean:
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum / float64(len(nums)), nil
	case AggMin:
		minV := nums[0]
		for _, n := range nums[1:] {
			if n < minV {
				minV = n
			}
		}
		return minV, nil
	case AggMax:
		maxV := nums[0]
		for _, n := range nums[1:] {
			if n > maxV {
				maxV = n
			}
		}
		return maxV, nil
	}

	return nil, core.NewError(core.ErrorKindFatal, column, "unknown aggregation %q", fn)
}
