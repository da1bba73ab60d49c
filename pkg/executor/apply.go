package executor

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/step"
	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// rowOutcome is the result of applying one step to one row.
type rowOutcome struct {
	row   table.Row
	entry core.LineageEntry
}

// applyRowStep applies a per-row step across the table on a bounded worker
// pool. Outcomes land in a slice indexed by row position, so the audit
// merge is order-insensitive while the recorded order stays deterministic.
// A fatal row error aborts without committing the step.
func applyRowStep(ctx context.Context, cfg *config, s step.RowStep, index int, tbl *table.Table, audit *core.Audit, stepLog *core.StepLog) (*table.Table, error) {
	rows := tbl.Rows()
	outcomes := make([]rowOutcome, len(rows))

	stepCtx, cancel := stepContext(ctx, cfg)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(cfg.workers)
	for i := range rows {
		g.Go(func() error {
			outcomes[i] = applyOneRow(stepCtx, s, index, rows[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, oc := range outcomes {
		if oc.entry.Err != nil && oc.entry.Err.IsFatal() {
			return nil, oc.entry.Err
		}
	}

	next := make([]table.Row, len(rows))
	for i, oc := range outcomes {
		next[i] = oc.row
		audit.AddEntry(oc.entry)
		if oc.entry.Outcome == core.OutcomeFailed {
			stepLog.Failed++
		} else {
			stepLog.Applied++
		}
	}
	return table.New(next...), nil
}

// applyOneRow applies the step to a single row, converting any failure into
// a lineage entry. The row itself is never lost: on failure it is carried
// forward unchanged unless the step declares a fallback delta.
func applyOneRow(ctx context.Context, s step.RowStep, index int, row table.Row) rowOutcome {
	entry := core.LineageEntry{Step: s.Name(), StepIndex: index, RowID: row.ID()}

	if err := ctx.Err(); err != nil {
		entry.Outcome = core.OutcomeFailed
		entry.Err = &core.Error{
			Step:    s.Name(),
			RowID:   row.ID(),
			Kind:    core.ErrorKindTimeout,
			Message: "abandoned: " + err.Error(),
		}
		return rowOutcome{row: row, entry: entry}
	}

	delta, err := s.Apply(ctx, row)
	if err != nil {
		desc := classify(err)
		desc.Step = s.Name()
		desc.RowID = row.ID()

		if fb, ok := s.(step.FallbackProvider); ok && !desc.IsFatal() {
			if fallback, has := fb.Fallback(); has {
				if merged, mergeErr := row.With(fallback); mergeErr == nil {
					entry.Outcome = core.OutcomeApplied
					entry.Added = fallback.Columns()
					entry.Err = desc
					return rowOutcome{row: merged, entry: entry}
				}
			}
		}

		entry.Outcome = core.OutcomeFailed
		entry.Err = desc
		return rowOutcome{row: row, entry: entry}
	}

	if len(delta) == 0 {
		entry.Outcome = core.OutcomeApplied
		return rowOutcome{row: row, entry: entry}
	}

	merged, err := row.With(delta)
	if err != nil {
		desc := classify(err)
		desc.Step = s.Name()
		desc.RowID = row.ID()
		entry.Outcome = core.OutcomeFailed
		entry.Err = desc
		return rowOutcome{row: row, entry: entry}
	}

	entry.Outcome = core.OutcomeApplied
	entry.Added = delta.Columns()
	return rowOutcome{row: merged, entry: entry}
}

// applyFilterStep evaluates the predicate per row and splits the table into
// kept and removed rows. Removal is intentional: removed rows record a
// filtered outcome and their full contents are preserved in the audit. A
// predicate error keeps the row and marks it failed.
func applyFilterStep(ctx context.Context, cfg *config, s step.FilterStep, index int, tbl *table.Table, audit *core.Audit, stepLog *core.StepLog) (*table.Table, error) {
	rows := tbl.Rows()

	type decision struct {
		keep bool
		err  *core.Error
	}
	decisions := make([]decision, len(rows))

	stepCtx, cancel := stepContext(ctx, cfg)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(cfg.workers)
	for i := range rows {
		g.Go(func() error {
			if err := stepCtx.Err(); err != nil {
				decisions[i] = decision{keep: true, err: &core.Error{
					Step:    s.Name(),
					RowID:   rows[i].ID(),
					Kind:    core.ErrorKindTimeout,
					Message: "abandoned: " + err.Error(),
				}}
				return nil
			}
			keep, err := s.Keep(stepCtx, rows[i])
			if err != nil {
				desc := classify(err)
				desc.Step = s.Name()
				desc.RowID = rows[i].ID()
				decisions[i] = decision{keep: true, err: desc}
				return nil
			}
			decisions[i] = decision{keep: keep}
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range decisions {
		if d.err != nil && d.err.IsFatal() {
			return nil, d.err
		}
	}

	reason := s.Name()
	if rp, ok := s.(step.ReasonProvider); ok && rp.Reason() != "" {
		reason = rp.Reason()
	}

	kept := make([]table.Row, 0, len(rows))
	for i, row := range rows {
		entry := core.LineageEntry{Step: s.Name(), StepIndex: index, RowID: row.ID()}
		d := decisions[i]
		switch {
		case d.err != nil:
			entry.Outcome = core.OutcomeFailed
			entry.Err = d.err
			stepLog.Failed++
			kept = append(kept, row)
		case d.keep:
			entry.Outcome = core.OutcomeApplied
			stepLog.Applied++
			kept = append(kept, row)
		default:
			entry.Outcome = core.OutcomeFiltered
			stepLog.Filtered++
			audit.AddRemoved(core.RemovedRow{
				Step:    s.Name(),
				RowID:   row.ID(),
				Reason:  reason,
				Columns: row.Values(),
			})
		}
		audit.AddEntry(entry)
	}

	return table.New(kept...), nil
}

// applyTableStep runs a whole-table transformation and reconciles its
// provenance against the input so no row disappears silently. Any
// inconsistency is fatal.
func applyTableStep(ctx context.Context, cfg *config, s step.TableStep, index int, tbl *table.Table, audit *core.Audit, stepLog *core.StepLog) (*table.Table, error) {
	stepCtx, cancel := stepContext(ctx, cfg)
	defer cancel()

	out, prov, err := s.Transform(stepCtx, tbl)
	if err != nil {
		return nil, err
	}
	if out == nil || len(prov) != out.Len() {
		return nil, core.NewError(core.ErrorKindFatal, "",
			"step %q returned %d provenance records for %d rows", s.Name(), len(prov), out.Len())
	}

	inputIDs := make(map[string]bool, tbl.Len())
	for _, id := range tbl.IDs() {
		inputIDs[id] = true
	}

	carried := make(map[string]bool)
	consumed := make(map[string]core.Outcome)
	outEntries := make([]core.LineageEntry, 0, out.Len())

	for i := 0; i < out.Len(); i++ {
		row := out.Row(i)
		p := prov[i]
		entry := core.LineageEntry{Step: s.Name(), StepIndex: index, RowID: row.ID(), Outcome: core.OutcomeApplied}

		switch {
		case p.IsZero():
			if !inputIDs[row.ID()] {
				return nil, core.NewError(core.ErrorKindFatal, "",
					"step %q emitted row %s without provenance and it does not exist in the input", s.Name(), row.ID())
			}
			carried[row.ID()] = true

		case len(p.SourceRowIDs) > 0:
			for _, src := range p.SourceRowIDs {
				if !inputIDs[src] {
					return nil, core.NewError(core.ErrorKindFatal, "",
						"step %q references unknown source row %s", s.Name(), src)
				}
				consumed[src] = core.OutcomeAggregated
			}
			entry.SourceRowIDs = p.SourceRowIDs

		default:
			if !inputIDs[p.ParentRowID] {
				return nil, core.NewError(core.ErrorKindFatal, "",
					"step %q references unknown parent row %s", s.Name(), p.ParentRowID)
			}
			consumed[p.ParentRowID] = core.OutcomeExploded
			entry.ParentRowID = p.ParentRowID
		}

		outEntries = append(outEntries, entry)
	}

	// Every input row must be accounted for: carried over, or consumed by
	// the shape change.
	for _, id := range tbl.IDs() {
		if carried[id] {
			continue
		}
		if _, ok := consumed[id]; !ok {
			return nil, core.NewError(core.ErrorKindFatal, "",
				"step %q dropped row %s without provenance", s.Name(), id)
		}
	}

	for _, id := range tbl.IDs() {
		if outcome, ok := consumed[id]; ok && !carried[id] {
			audit.AddEntry(core.LineageEntry{Step: s.Name(), StepIndex: index, RowID: id, Outcome: outcome})
		}
	}
	for _, entry := range outEntries {
		audit.AddEntry(entry)
	}
	stepLog.Applied = out.Len()

	return out, nil
}

// stepContext derives the per-step deadline context.
func stepContext(ctx context.Context, cfg *config) (context.Context, context.CancelFunc) {
	if cfg.stepTimeout > 0 {
		return context.WithTimeout(ctx, cfg.stepTimeout)
	}
	return ctx, func() {}
}

// classify maps an arbitrary step error onto the closed error taxonomy. A
// typed descriptor passes through as a copy; everything else defaults to
// invalid_value with two exceptions recognized by shape: context errors
// become timeouts, and division-by-zero messages (as the Starlark runtime
// reports them) keep their arithmetic kind.
func classify(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		c := *ce
		return &c
	}

	kind := core.ErrorKindInvalidValue
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		kind = core.ErrorKindTimeout
	case strings.Contains(err.Error(), "division by zero"):
		kind = core.ErrorKindDivisionByZero
	}
	return &core.Error{Kind: kind, Message: err.Error()}
}

// asFatal forces an error into a fatal descriptor stamped with the step.
func asFatal(err error, stepName string) *core.Error {
	desc := classify(err)
	desc.Kind = core.ErrorKindFatal
	if desc.Step == "" {
		desc.Step = stepName
	}
	return desc
}
