package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leaptrace/internal/dag"
	"github.com/leapstack-labs/leaptrace/internal/pipeline"
	"github.com/leapstack-labs/leaptrace/internal/source"
	"github.com/leapstack-labs/leaptrace/internal/starlark"
	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/leapstack-labs/leaptrace/pkg/executor"
	"github.com/leapstack-labs/leaptrace/pkg/step"
	"github.com/leapstack-labs/leaptrace/pkg/table"
)

// preparedPipeline pairs a pipeline with its compiled steps and run record
// during an invocation.
type preparedPipeline struct {
	spec  *pipeline.Spec
	steps []step.Step
	run   *core.Run
	// failed is set when compilation failed; the pipeline is not executed.
	failed bool
}

// Select resolves selector expressions against the discovered graph into a
// deduplicated pipeline list. A bare name selects one pipeline, "+name"
// adds everything it reads from, "name+" adds everything that reads from
// it.
func (e *Engine) Select(selectors []string) ([]string, error) {
	selected := make(map[string]bool)

	for _, sel := range selectors {
		withUpstream := strings.HasPrefix(sel, "+")
		withDownstream := strings.HasSuffix(sel, "+")
		name := strings.Trim(sel, "+")
		if name == "" {
			return nil, fmt.Errorf("empty selector %q", sel)
		}
		if _, ok := e.graph.Pipeline(name); !ok {
			return nil, fmt.Errorf("unknown pipeline %q", name)
		}

		selected[name] = true
		if withUpstream {
			for _, up := range e.graph.Upstream(name) {
				selected[up] = true
			}
		}
		if withDownstream {
			for _, down := range e.graph.Affected([]string{name}) {
				selected[down] = true
			}
		}
	}

	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Run executes every discovered pipeline in dependency order.
func (e *Engine) Run(ctx context.Context) ([]*core.Run, error) {
	sorted, err := e.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	return e.runPipelines(ctx, sorted)
}

// RunSelected executes the named pipelines in dependency order. A selected
// pipeline whose upstream is not part of the selection reads the upstream's
// last written output instead of re-running it.
func (e *Engine) RunSelected(ctx context.Context, names []string) ([]*core.Run, error) {
	sorted, err := e.graph.Subgraph(names).TopologicalSort()
	if err != nil {
		return nil, err
	}
	return e.runPipelines(ctx, sorted)
}

// runPipelines drives one invocation: compile every selected pipeline,
// then execute them in order. A pipeline failure does not stop the
// invocation; its downstream pipelines are marked skipped and independent
// pipelines keep running.
func (e *Engine) runPipelines(ctx context.Context, sorted []*dag.Node) ([]*core.Run, error) {
	store, err := e.ensureStore()
	if err != nil {
		return nil, err
	}

	ec, err := starlark.NewContext(e.environment, starlark.WithModules(e.registry.Modules()))
	if err != nil {
		return nil, fmt.Errorf("failed to build execution context: %w", err)
	}

	var errs []error
	prepared := make([]*preparedPipeline, 0, len(sorted))
	blocked := make(map[string]string)

	// Phase 1: create run records and compile all step lists, so definition
	// errors surface before any data is read.
	for _, node := range sorted {
		spec := node.Spec

		run, err := store.CreateRun(spec.Name, e.environment)
		if err != nil {
			return e.refreshRuns(prepared), fmt.Errorf("failed to create run: %w", err)
		}
		p := &preparedPipeline{spec: spec, run: run}
		prepared = append(prepared, p)

		steps, err := spec.Compile(ec)
		if err != nil {
			e.logger.Error("pipeline compilation failed", "pipeline", spec.Name, "error", err)
			_ = store.CompleteRun(run.ID, core.RunStatusFailed, 0, 0, err.Error())
			p.failed = true
			errs = append(errs, err)
			e.blockDownstream(blocked, spec.Name)
			continue
		}
		p.steps = steps
	}

	// Phase 2: execute in dependency order.
	outputs := make(map[string]*table.Table, len(prepared))
	for _, p := range prepared {
		if p.failed {
			continue
		}
		if reason, ok := blocked[p.spec.Name]; ok {
			e.logger.Warn("skipping pipeline", "pipeline", p.spec.Name, "reason", reason)
			_ = store.CompleteRun(p.run.ID, core.RunStatusSkipped, 0, 0, reason)
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = store.CompleteRun(p.run.ID, core.RunStatusCancelled, 0, 0, err.Error())
			continue
		}

		if err := e.executePipeline(ctx, p, outputs); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", p.spec.Name, err))
			e.blockDownstream(blocked, p.spec.Name)
		}
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return e.refreshRuns(prepared), errors.Join(errs...)
}

// executePipeline loads the pipeline's input, runs its steps, persists the
// audit trail, and writes the output table. Row-level failures are part of
// a normal run; only input, fatal step, and output errors fail it.
func (e *Engine) executePipeline(ctx context.Context, p *preparedPipeline, outputs map[string]*table.Table) error {
	spec := p.spec
	store := e.store

	e.logger.Info("running pipeline", "pipeline", spec.Name, "run_id", p.run.ID)

	fail := func(rowsIn int64, err error) error {
		status := core.RunStatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = core.RunStatusCancelled
		}
		e.logger.Error("pipeline failed", "pipeline", spec.Name, "run_id", p.run.ID, "error", err)
		_ = store.CompleteRun(p.run.ID, status, rowsIn, 0, err.Error())
		return err
	}

	opts := []executor.Option{
		executor.WithLogger(e.logger),
		executor.WithWorkers(e.workers),
		executor.WithStepTimeout(e.stepTimeout),
	}

	var (
		out    *table.Table
		audit  *core.Audit
		rowsIn int
	)

	switch {
	case spec.Input.Pipeline != "":
		input, err := e.upstreamTable(spec.Input.Pipeline, outputs)
		if err != nil {
			return fail(0, err)
		}
		rowsIn = input.Len()

		var execErr error
		out, audit, execErr = executor.Execute(ctx, p.steps, input, opts...)
		if execErr != nil {
			e.persistAudit(p.run.ID, audit)
			return fail(int64(rowsIn), execErr)
		}

	case spec.Input.ChunkSize > 0:
		seedPath, ok := e.registry.Seed(spec.Input.Seed)
		if !ok {
			return fail(0, fmt.Errorf("seed %q not found under %s", spec.Input.Seed, e.seedsDir))
		}
		if !strings.EqualFold(filepath.Ext(seedPath), ".csv") {
			return fail(0, fmt.Errorf("chunked input requires a CSV seed, got %s", filepath.Base(seedPath)))
		}
		e.warnChunkedTableSteps(spec, p.steps)

		out = table.New()
		audit = core.NewAudit()
		err := source.ReadCSVChunks(seedPath, spec.Input.ChunkSize, func(chunk *table.Table) error {
			rowsIn += chunk.Len()
			chunkOut, chunkAudit, execErr := executor.Execute(ctx, p.steps, chunk, opts...)
			audit.Merge(chunkAudit)
			if chunkOut != nil {
				out = out.Append(chunkOut.Rows()...)
			}
			return execErr
		})
		if err != nil {
			e.persistAudit(p.run.ID, audit)
			return fail(int64(rowsIn), err)
		}

	default:
		seedPath, ok := e.registry.Seed(spec.Input.Seed)
		if !ok {
			return fail(0, fmt.Errorf("seed %q not found under %s", spec.Input.Seed, e.seedsDir))
		}
		input, err := source.Read(seedPath)
		if err != nil {
			return fail(0, err)
		}
		rowsIn = input.Len()

		var execErr error
		out, audit, execErr = executor.Execute(ctx, p.steps, input, opts...)
		if execErr != nil {
			e.persistAudit(p.run.ID, audit)
			return fail(int64(rowsIn), execErr)
		}
	}

	if err := e.persistAudit(p.run.ID, audit); err != nil {
		return fail(int64(rowsIn), err)
	}

	outPath := filepath.Join(e.targetDir, spec.OutputPath())
	if err := source.Write(outPath, spec.OutputFormat(), out); err != nil {
		return fail(int64(rowsIn), fmt.Errorf("failed to write output: %w", err))
	}

	if err := store.CompleteRun(p.run.ID, core.RunStatusCompleted, int64(rowsIn), int64(out.Len()), ""); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	outputs[spec.Name] = out
	e.logger.Info("pipeline completed",
		"pipeline", spec.Name,
		"run_id", p.run.ID,
		"rows_in", rowsIn,
		"rows_out", out.Len(),
		"output", outPath)
	return nil
}

// upstreamTable resolves the input of a pipeline that reads another
// pipeline's output. Within one invocation the upstream's table is handed
// over in memory; otherwise its last written output file is loaded.
func (e *Engine) upstreamTable(name string, outputs map[string]*table.Table) (*table.Table, error) {
	if tbl, ok := outputs[name]; ok {
		return tbl, nil
	}

	upSpec, ok := e.registry.Pipeline(name)
	if !ok {
		return nil, fmt.Errorf("reads from unknown pipeline %q", name)
	}
	path := filepath.Join(e.targetDir, upSpec.OutputPath())
	tbl, err := source.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load output of upstream pipeline %q (run it first): %w", name, err)
	}
	return tbl, nil
}

// persistAudit writes the run's step summaries, row events, and removed
// rows to the state store.
func (e *Engine) persistAudit(runID string, audit *core.Audit) error {
	if audit == nil {
		return nil
	}

	for _, l := range audit.StepLogs() {
		completed := l.StartedAt.Add(l.Duration)
		sr := &core.StepRun{
			RunID:       runID,
			Step:        l.Step,
			StepIndex:   l.StepIndex,
			Status:      l.Status,
			RowsIn:      int64(l.RowsIn),
			RowsOut:     int64(l.RowsOut),
			Applied:     int64(l.Applied),
			Failed:      int64(l.Failed),
			Filtered:    int64(l.Filtered),
			StartedAt:   l.StartedAt,
			CompletedAt: &completed,
			Error:       l.Error,
			ExecutionMS: l.Duration.Milliseconds(),
		}
		if err := e.store.RecordStepRun(sr); err != nil {
			return fmt.Errorf("failed to record step run: %w", err)
		}
	}

	if err := e.store.SaveRowEvents(runID, audit.Entries()); err != nil {
		return fmt.Errorf("failed to save row events: %w", err)
	}
	if err := e.store.SaveRemovedRows(runID, audit.Removed()); err != nil {
		return fmt.Errorf("failed to save removed rows: %w", err)
	}
	return nil
}

// blockDownstream marks everything downstream of a failed pipeline so the
// execution loop records those runs as skipped.
func (e *Engine) blockDownstream(blocked map[string]string, name string) {
	for _, desc := range e.graph.Affected([]string{name}) {
		if desc == name {
			continue
		}
		if _, ok := blocked[desc]; !ok {
			blocked[desc] = fmt.Sprintf("skipped: upstream pipeline %s failed", name)
		}
	}
}

// warnChunkedTableSteps logs when a chunked pipeline contains steps that
// operate on the whole table, since those apply per chunk rather than to
// the complete input.
func (e *Engine) warnChunkedTableSteps(spec *pipeline.Spec, steps []step.Step) {
	for _, s := range steps {
		switch s.(type) {
		case *step.Aggregate, *step.Sort:
			e.logger.Warn("table-wide step applies per chunk under chunked input",
				"pipeline", spec.Name, "step", s.Name())
		}
	}
}

// refreshRuns re-reads each run record so callers see final statuses.
func (e *Engine) refreshRuns(prepared []*preparedPipeline) []*core.Run {
	runs := make([]*core.Run, 0, len(prepared))
	for _, p := range prepared {
		if fresh, err := e.store.GetRun(p.run.ID); err == nil {
			runs = append(runs, fresh)
		} else {
			runs = append(runs, p.run)
		}
	}
	return runs
}
