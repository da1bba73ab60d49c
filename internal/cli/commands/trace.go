package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/spf13/cobra"
)

// TraceOptions holds options for the trace command.
type TraceOptions struct {
	Run string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand() *cobra.Command {
	opts := &TraceOptions{}

	cmd := &cobra.Command{
		Use:   "trace <row-id>",
		Short: "Show the recorded lineage of a single row",
		Long: `Show every step-level event recorded for a row id, in execution order.

Each event names the step, the outcome (applied, failed, filtered,
aggregated, exploded) and the columns the step added. Rows produced by
aggregations list their source row ids; rows produced by explosions list
their parent. If the row was filtered out, the removal reason and the
row's last column values are shown.

A row id can appear in more than one run when a pipeline's output feeds
a downstream pipeline in the same invocation. Use --run to restrict the
trace to a single run.`,
		Example: `  # Trace a row through every run that recorded it
  leaptrace trace 7f0c9e2a-6b14-4a9e-9c3f-2d8e1b5a7c90

  # Pin the trace to one run
  leaptrace trace 7f0c9e2a-6b14-4a9e-9c3f-2d8e1b5a7c90 --run 1b2d3c4e`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Run, "run", "", "restrict the trace to one run id")

	return cmd
}

// rowTrace is one run's worth of lineage for the traced row.
type rowTrace struct {
	Run     *core.Run
	Events  []*core.RowEvent
	Removed *core.RemovedRow
}

func runTrace(cmd *cobra.Command, rowID string, opts *TraceOptions) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)

	store, err := openRunStore(cmdCtx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	events, err := store.TraceRow(rowID, opts.Run)
	if err != nil {
		return fmt.Errorf("failed to trace row: %w", err)
	}
	if len(events) == 0 {
		if opts.Run != "" {
			return fmt.Errorf("no events recorded for row %q in run %q", rowID, opts.Run)
		}
		return fmt.Errorf("no events recorded for row %q", rowID)
	}

	traces, err := collectTraces(store, events)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return traceJSON(r, rowID, traces)
	case output.ModeMarkdown:
		return traceMarkdown(r, rowID, traces)
	default:
		return traceText(r, rowID, traces)
	}
}

// collectTraces groups the events by run, preserving the store's ordering
// (runs by start time, events by step index), and attaches the removal
// record when the row was dropped during the run.
func collectTraces(store core.Store, events []*core.RowEvent) ([]*rowTrace, error) {
	var traces []*rowTrace
	byRun := make(map[string]*rowTrace)

	for _, ev := range events {
		tr, ok := byRun[ev.RunID]
		if !ok {
			run, err := store.GetRun(ev.RunID)
			if err != nil {
				return nil, fmt.Errorf("failed to load run %s: %w", ev.RunID, err)
			}
			tr = &rowTrace{Run: run}
			byRun[ev.RunID] = tr
			traces = append(traces, tr)
		}
		tr.Events = append(tr.Events, ev)
	}

	for _, tr := range traces {
		removed, err := store.GetRemovedRowsForRun(tr.Run.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load removed rows for run %s: %w", tr.Run.ID, err)
		}
		rowID := tr.Events[0].RowID
		for _, rm := range removed {
			if rm.RowID == rowID {
				tr.Removed = rm
				break
			}
		}
	}

	return traces, nil
}

func traceText(r *output.Renderer, rowID string, traces []*rowTrace) error {
	styles := r.Styles()

	r.Printf("Trace for row %s\n", styles.Bold.Render(rowID))

	for _, tr := range traces {
		r.Println("")
		r.Printf("Run %s  %s (%s)  started %s\n",
			shortID(tr.Run.ID),
			styles.Bold.Render(tr.Run.Pipeline),
			tr.Run.Environment,
			tr.Run.StartedAt.Local().Format("2006-01-02 15:04:05"))

		for _, ev := range tr.Events {
			r.Printf("  %3d. %-24s %s\n", ev.StepIndex, ev.Step, renderOutcome(styles, ev))
			if len(ev.SourceRowIDs) > 0 {
				r.Println(styles.Muted.Render("       sources: " + strings.Join(shortIDs(ev.SourceRowIDs), ", ")))
			}
			if ev.ParentRowID != "" {
				r.Println(styles.Muted.Render("       parent:  " + shortID(ev.ParentRowID)))
			}
		}

		if tr.Removed != nil {
			r.Printf("  %s %s\n",
				styles.StatusSkipped.String(),
				fmt.Sprintf("removed at %s: %s", styles.Bold.Render(tr.Removed.Step), tr.Removed.Reason))
			if len(tr.Removed.Columns) > 0 {
				r.Println(styles.Muted.Render("    last values: " + formatRemovedColumns(tr.Removed.Columns)))
			}
		}
	}

	return nil
}

// renderOutcome styles the outcome word and appends the event detail:
// added columns for applied, the error descriptor for failed.
func renderOutcome(styles *output.Styles, ev *core.RowEvent) string {
	switch ev.Outcome {
	case core.OutcomeApplied:
		s := styles.Success.Render(string(ev.Outcome))
		if len(ev.Added) > 0 {
			s += styles.Muted.Render("  +" + strings.Join(ev.Added, " +"))
		}
		if ev.Err != nil {
			s += "  " + styles.Warning.Render(formatRowError(ev.Err))
		}
		return s
	case core.OutcomeFailed:
		s := styles.Error.Render(string(ev.Outcome))
		if ev.Err != nil {
			s += "  " + formatRowError(ev.Err)
		}
		return s
	case core.OutcomeFiltered:
		return styles.Warning.Render(string(ev.Outcome))
	default:
		return styles.Info.Render(string(ev.Outcome))
	}
}

func formatRowError(e *core.Error) string {
	if e.Column != "" {
		return fmt.Sprintf("%s: %s [%s]", e.Column, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s [%s]", e.Message, e.Kind)
}

// formatRemovedColumns renders the preserved row contents with stable
// column order.
func formatRemovedColumns(cols map[string]any) string {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, cols[name]))
	}
	return strings.Join(parts, " ")
}

func traceMarkdown(r *output.Renderer, rowID string, traces []*rowTrace) error {
	r.Println(output.FormatHeader(1, "Trace for row "+rowID))

	for _, tr := range traces {
		r.Println("")
		r.Println(output.FormatHeader(2, fmt.Sprintf("Run %s (%s)", shortID(tr.Run.ID), tr.Run.Pipeline)))
		r.Println("")
		r.Println(output.FormatKeyValue("Environment", tr.Run.Environment))
		r.Println(output.FormatKeyValue("Started", tr.Run.StartedAt.UTC().Format(time.RFC3339)))
		r.Println("")

		headers := []string{"#", "Step", "Outcome", "Detail"}
		rows := make([][]string, 0, len(tr.Events))
		for _, ev := range tr.Events {
			rows = append(rows, []string{
				fmt.Sprintf("%d", ev.StepIndex),
				ev.Step,
				string(ev.Outcome),
				traceEventDetail(ev),
			})
		}
		r.Table(headers, rows)

		if tr.Removed != nil {
			r.Println("")
			r.Println(output.FormatKeyValue("Removed at", tr.Removed.Step))
			r.Println(output.FormatKeyValue("Reason", tr.Removed.Reason))
			if len(tr.Removed.Columns) > 0 {
				r.Println(output.FormatKeyValue("Last values", formatRemovedColumns(tr.Removed.Columns)))
			}
		}
	}

	return nil
}

// traceEventDetail is the unstyled detail column shared by the markdown
// and JSON-adjacent renderings.
func traceEventDetail(ev *core.RowEvent) string {
	var parts []string
	if len(ev.Added) > 0 {
		parts = append(parts, "+"+strings.Join(ev.Added, " +"))
	}
	if ev.Err != nil {
		parts = append(parts, formatRowError(ev.Err))
	}
	if len(ev.SourceRowIDs) > 0 {
		parts = append(parts, "sources: "+strings.Join(shortIDs(ev.SourceRowIDs), ", "))
	}
	if ev.ParentRowID != "" {
		parts = append(parts, "parent: "+shortID(ev.ParentRowID))
	}
	return strings.Join(parts, "; ")
}

func traceJSON(r *output.Renderer, rowID string, traces []*rowTrace) error {
	out := output.TraceOutput{RowID: rowID, Runs: make([]output.TraceRun, 0, len(traces))}

	for _, tr := range traces {
		run := output.TraceRun{
			RunID:    tr.Run.ID,
			Pipeline: tr.Run.Pipeline,
			Events:   make([]output.TraceEvent, 0, len(tr.Events)),
		}
		for _, ev := range tr.Events {
			event := output.TraceEvent{
				Step:         ev.Step,
				StepIndex:    ev.StepIndex,
				Outcome:      string(ev.Outcome),
				Added:        ev.Added,
				SourceRowIDs: ev.SourceRowIDs,
				ParentRowID:  ev.ParentRowID,
				Timestamp:    ev.CreatedAt.UTC().Format(time.RFC3339),
			}
			if ev.Err != nil {
				event.ErrorKind = string(ev.Err.Kind)
				event.ErrorColumn = ev.Err.Column
				event.Error = ev.Err.Message
			}
			run.Events = append(run.Events, event)
		}
		if tr.Removed != nil {
			run.Removed = &output.TraceRemoval{
				Step:    tr.Removed.Step,
				Reason:  tr.Removed.Reason,
				Columns: tr.Removed.Columns,
			}
		}
		out.Runs = append(out.Runs, run)
	}

	return r.JSON(out)
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}
