package step

import (
	"context"
	"fmt"
	"sort"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/table"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Sort orders the table by the given columns. Numeric values compare
// numerically; everything else compares as collated strings under Locale (a
// BCP 47 tag, unspecified for the collation default). Rows lacking a sort
// column order first. The sort is stable and keeps every row and identifier
// unchanged.
type Sort struct {
	StepName string
	By       []string
	Desc     bool
	Locale   string
}

// Name implements Step.
func (s *Sort) Name() string {
	return s.StepName
}

// Requires implements Step.
func (s *Sort) Requires() []string {
	return s.By
}

// Transform implements TableStep.
func (s *Sort) Transform(_ context.Context, tbl *table.Table) (*table.Table, []Provenance, error) {
	if len(s.By) == 0 {
		return nil, nil, core.NewError(core.ErrorKindFatal, "", "sort step %q has no columns", s.StepName)
	}

	tag, err := language.Parse(s.Locale)
	if s.Locale != "" && err != nil {
		return nil, nil, core.NewError(core.ErrorKindFatal, "", "invalid locale %q: %v", s.Locale, err)
	}
	if s.Locale == "" {
		tag = language.Und
	}
	coll := collate.New(tag)

	rows := tbl.Rows()
	sort.SliceStable(rows, func(i, j int) bool {
		less := s.compare(coll, rows[i], rows[j]) < 0
		if s.Desc {
			return s.compare(coll, rows[j], rows[i]) < 0
		}
		return less
	})

	return table.New(rows...), make([]Provenance, len(rows)), nil
}

// compare orders two rows by the sort columns, first difference wins.
func (s *Sort) compare(coll *collate.Collator, a, b table.Row) int {
	for _, col := range s.By {
		av, aok := a.Get(col)
		bv, bok := b.Get(col)
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return -1
		case !bok:
			return 1
		}

		if an, ok := asNumber(av); ok {
			if bn, ok := asNumber(bv); ok {
				switch {
				case an < bn:
					return -1
				case an > bn:
					return 1
				default:
					continue
				}
			}
		}

		if c := coll.CompareString(fmt.Sprintf("%v", av), fmt.Sprintf("%v", bv)); c != 0 {
			return c
		}
	}
	return 0
}
