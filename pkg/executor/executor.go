// Package executor runs an ordered sequence of transformation steps over a
// table, capturing per-row lineage and per-row errors without halting the
// run. Every execution returns the best-effort output table together with a
// complete audit explaining each row's deviation from full success.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/step"
	"github.com/leapstack-labs/leaptrace/pkg/table"
)

type config struct {
	workers     int
	stepTimeout time.Duration
	logger      *slog.Logger
}

// Option configures one execution.
type Option func(*config)

// WithWorkers bounds the number of rows processed concurrently within a
// step. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithStepTimeout sets a deadline per step. When it expires, rows not yet
// completed for that step are marked failed with a timeout error and the
// run proceeds to the next step.
func WithStepTimeout(d time.Duration) Option {
	return func(c *config) {
		c.stepTimeout = d
	}
}

// WithLogger sets the logger for step progress. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Execute runs the steps in declared order over the input table.
//
// Row-level failures never interrupt the run: the failing row is carried
// into the next step unchanged and the failure is captured in the audit. An
// empty step list returns the input unchanged with an empty audit. The
// error return is non-nil only for a fatal step error (misconfiguration)
// or cancellation of ctx; even then the accumulated table and audit are
// returned alongside it.
func Execute(ctx context.Context, steps []step.Step, input *table.Table, opts ...Option) (*table.Table, *core.Audit, error) {
	cfg := config{
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	audit := core.NewAudit()
	current := input

	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return current, audit, err
		}

		start := time.Now()
		cfg.logger.Info("applying step",
			"step", st.Name(),
			"index", i,
			"rows", current.Len())

		stepLog := core.StepLog{
			Step:      st.Name(),
			StepIndex: i,
			Status:    core.StepRunStatusSuccess,
			RowsIn:    current.Len(),
			StartedAt: start,
		}

		if missing := current.MissingColumns(st.Requires()); len(missing) > 0 {
			recordMissingColumns(audit, st.Name(), i, current, missing)
			stepLog.Status = core.StepRunStatusFailed
			stepLog.Error = fmt.Sprintf("required columns missing: %s", strings.Join(missing, ", "))
			stepLog.Failed = current.Len()
			stepLog.RowsOut = current.Len()
			stepLog.Duration = time.Since(start)
			audit.AddStepLog(stepLog)
			cfg.logger.Warn("step not applied, required columns missing",
				"step", st.Name(),
				"missing", missing)
			continue
		}

		var (
			next *table.Table
			err  error
		)
		switch s := st.(type) {
		case step.RowStep:
			next, err = applyRowStep(ctx, &cfg, s, i, current, audit, &stepLog)
		case step.FilterStep:
			next, err = applyFilterStep(ctx, &cfg, s, i, current, audit, &stepLog)
		case step.TableStep:
			next, err = applyTableStep(ctx, &cfg, s, i, current, audit, &stepLog)
		default:
			err = core.NewError(core.ErrorKindFatal, "",
				"step %q implements none of RowStep, FilterStep, TableStep", st.Name())
		}

		if err != nil {
			desc := asFatal(err, st.Name())
			stepLog.Status = core.StepRunStatusFailed
			stepLog.Error = desc.Message
			stepLog.Duration = time.Since(start)
			audit.AddStepLog(stepLog)
			cfg.logger.Error("run aborted by fatal step error",
				"step", st.Name(),
				"error", desc.Message)
			return current, audit, desc
		}

		current = next
		stepLog.RowsOut = current.Len()
		stepLog.Duration = time.Since(start)
		audit.AddStepLog(stepLog)
		cfg.logger.Info("step completed",
			"step", st.Name(),
			"rows_out", stepLog.RowsOut,
			"applied", stepLog.Applied,
			"failed", stepLog.Failed,
			"filtered", stepLog.Filtered,
			"duration_ms", stepLog.Duration.Milliseconds())
	}

	return current, audit, nil
}

// recordMissingColumns marks every row failed for a step whose required
// columns are absent from the whole table.
func recordMissingColumns(audit *core.Audit, stepName string, index int, tbl *table.Table, missing []string) {
	column := strings.Join(missing, ", ")
	for _, row := range tbl.Rows() {
		audit.AddEntry(core.LineageEntry{
			Step:      stepName,
			StepIndex: index,
			RowID:     row.ID(),
			Outcome:   core.OutcomeFailed,
			Err: &core.Error{
				Step:    stepName,
				RowID:   row.ID(),
				Column:  column,
				Kind:    core.ErrorKindMissingField,
				Message: fmt.Sprintf("required columns missing: %s", column),
			},
		})
	}
}
