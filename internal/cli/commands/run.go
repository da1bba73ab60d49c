package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/internal/engine"
	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select []string
	Watch  bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:     "run [pipeline...]",
		Aliases: []string{"exec"},
		Short:   "Execute pipelines in dependency order",
		Long: `Execute all pipelines, or a selected subset, in dependency order.

Selectors accept graph operators: "+name" includes the pipeline and
everything upstream of it, "name+" includes everything downstream.
A failed pipeline skips its downstream dependents but independent
pipelines keep running.

Output adapts to environment:
  - Terminal: Styled progress with per-pipeline status
  - Piped/Scripted: Markdown summary
  - JSON: One event per line (NDJSON) for machine consumption`,
		Example: `  # Run all pipelines
  leaptrace run

  # Run one pipeline and its upstream inputs
  leaptrace run +account_growth

  # Run a pipeline and everything depending on it
  leaptrace run --select cleaned_orders+

  # Re-run automatically when pipelines, steps, or seeds change
  leaptrace run --watch

  # Emit NDJSON events for scripting
  leaptrace run --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Pipeline selectors (comma-separated, +name/name+ for upstream/downstream)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Watch for file changes and re-run affected pipelines")

	return cmd
}

func runRun(cmd *cobra.Command, args []string, opts *RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	selectors := append([]string{}, args...)
	selectors = append(selectors, opts.Select...)

	if opts.Watch {
		return runWatch(cmd, cmdCtx, selectors)
	}

	return runOnce(cmd, cmdCtx, selectors)
}

// runOnce discovers and executes pipelines a single time.
func runOnce(cmd *cobra.Command, cmdCtx *CommandContext, selectors []string) error {
	eng := cmdCtx.Engine

	result, err := eng.Discover()
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	names, err := resolveSelection(eng, selectors)
	if err != nil {
		return err
	}

	return runDiscovered(cmd, cmdCtx, result, names)
}

// resolveSelection expands selectors to pipeline names, or returns nil for
// a full run.
func resolveSelection(eng *engine.Engine, selectors []string) ([]string, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	return eng.Select(selectors)
}

func executeRuns(cmd *cobra.Command, eng *engine.Engine, names []string) ([]*core.Run, error) {
	if names == nil {
		return eng.Run(cmd.Context())
	}
	return eng.RunSelected(cmd.Context(), names)
}

// tallyRuns counts terminal statuses across a batch of runs.
func tallyRuns(runs []*core.Run) (successful, failed, skipped int) {
	for _, run := range runs {
		switch run.Status {
		case core.RunStatusCompleted:
			successful++
		case core.RunStatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	return successful, failed, skipped
}

func runDuration(run *core.Run) int64 {
	if run.CompletedAt == nil {
		return 0
	}
	return run.CompletedAt.Sub(run.StartedAt).Milliseconds()
}

// runWithText executes pipelines with styled terminal output.
func runWithText(cmd *cobra.Command, cmdCtx *CommandContext, result *engine.DiscoveryResult, names []string) error {
	eng := cmdCtx.Engine
	r := cmdCtx.Renderer
	styles := r.Styles()

	for _, derr := range result.Errors {
		r.Warning(fmt.Sprintf("%s: %s", derr.Path, derr.Message))
	}

	count := eng.GetGraph().NodeCount()
	if names != nil {
		count = len(names)
	}

	sp := r.NewSpinner(fmt.Sprintf("Running %d pipeline(s) in %s...", count, eng.Environment()))
	sp.Start()

	start := time.Now()
	runs, runErr := executeRuns(cmd, eng, names)
	sp.Stop()

	r.Println("")
	for _, run := range runs {
		detail := fmt.Sprintf("%d -> %d rows, %dms", run.RowsIn, run.RowsOut, runDuration(run))
		if run.Status == core.RunStatusSkipped {
			detail = run.Error
		} else if run.Error != "" {
			detail = run.Error
		}
		r.StatusLine(run.Pipeline, string(run.Status), detail)
	}

	successful, failed, skipped := tallyRuns(runs)
	r.Println("")
	summary := fmt.Sprintf("%d succeeded, %d failed, %d skipped in %s",
		successful, failed, skipped, time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		r.Println(styles.Error.Render(summary))
	} else {
		r.Println(styles.Success.Render(summary))
	}

	if runErr != nil {
		return fmt.Errorf("%d pipeline(s) failed", failed)
	}
	return nil
}

// runWithMarkdown executes pipelines with markdown output.
func runWithMarkdown(cmd *cobra.Command, cmdCtx *CommandContext, result *engine.DiscoveryResult, names []string) error {
	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	start := time.Now()
	runs, runErr := executeRuns(cmd, eng, names)

	r.Println(output.FormatHeader(1, "Pipeline Run"))
	r.Println("")

	if len(result.Errors) > 0 {
		r.Println(output.FormatHeader(2, "Discovery Issues"))
		for _, derr := range result.Errors {
			r.Printf("- `%s`: %s\n", derr.Path, derr.Message)
		}
		r.Println("")
	}

	for _, run := range runs {
		r.Println(output.FormatHeader(2, run.Pipeline))
		r.Println(output.FormatKeyValue("Status", string(run.Status)))
		r.Println(output.FormatKeyValue("Rows", fmt.Sprintf("%d in, %d out", run.RowsIn, run.RowsOut)))
		r.Println(output.FormatKeyValue("Duration", fmt.Sprintf("%dms", runDuration(run))))
		if run.Error != "" {
			r.Println(output.FormatKeyValue("Error", run.Error))
		}
		r.Println("")
	}

	successful, failed, skipped := tallyRuns(runs)
	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Succeeded", fmt.Sprintf("%d", successful)))
	r.Println(output.FormatKeyValue("Failed", fmt.Sprintf("%d", failed)))
	r.Println(output.FormatKeyValue("Skipped", fmt.Sprintf("%d", skipped)))
	r.Println(output.FormatKeyValue("Total Time", time.Since(start).Round(time.Millisecond).String()))

	if runErr != nil {
		return fmt.Errorf("%d pipeline(s) failed", failed)
	}
	return nil
}

// runWithJSON executes pipelines emitting one NDJSON event per line.
func runWithJSON(cmd *cobra.Command, cmdCtx *CommandContext, result *engine.DiscoveryResult, names []string) error {
	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	planned := names
	if planned == nil {
		for _, node := range eng.GetGraph().Pipelines() {
			planned = append(planned, node.Name)
		}
		sort.Strings(planned)
	}

	emitRunEvent(r, output.RunEvent{
		Event:     "run_start",
		Pipelines: planned,
	})

	for _, derr := range result.Errors {
		emitRunEvent(r, output.RunEvent{
			Event:    "discovery_error",
			Pipeline: derr.Path,
			Error:    derr.Message,
		})
	}

	start := time.Now()
	runs, runErr := executeRuns(cmd, eng, names)

	for _, run := range runs {
		emitRunEvent(r, output.RunEvent{
			Event:       "pipeline_complete",
			RunID:       run.ID,
			Pipeline:    run.Pipeline,
			Status:      string(run.Status),
			RowsIn:      run.RowsIn,
			RowsOut:     run.RowsOut,
			ExecutionMS: runDuration(run),
			Error:       run.Error,
		})
	}

	successful, failed, skipped := tallyRuns(runs)
	status := "completed"
	if failed > 0 {
		status = "failed"
	}
	emitRunEvent(r, output.RunEvent{
		Event:          "run_complete",
		Status:         status,
		TotalPipelines: len(runs),
		Successful:     successful,
		Failed:         failed,
		Skipped:        skipped,
		TotalMS:        time.Since(start).Milliseconds(),
	})

	if runErr != nil {
		return fmt.Errorf("%d pipeline(s) failed", failed)
	}
	return nil
}

// emitRunEvent outputs a run event as a single JSON line.
func emitRunEvent(r *output.Renderer, event output.RunEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, _ := json.Marshal(event)
	r.Println(string(data))
}
