package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/internal/state"
	"github.com/leapstack-labs/leaptrace/pkg/core"
	"github.com/spf13/cobra"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit    int
	Pipeline string
	Steps    bool
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show run history",
		Long: `Show recent pipeline runs from the state database, newest first.

With --pipeline only that pipeline's latest run is shown, including a
per-step breakdown. --steps adds the breakdown for every listed run.

Output adapts to environment:
  - Terminal: Bordered table
  - Piped/Scripted: Markdown table
  - JSON / CSV: Machine-readable formats`,
		Example: `  # Show the 20 most recent runs
  leaptrace runs

  # Show more history
  leaptrace runs --limit 100

  # Latest run of one pipeline with step detail
  leaptrace runs --pipeline account_growth

  # Export history as CSV
  leaptrace runs --output csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVarP(&opts.Pipeline, "pipeline", "p", "", "Show the latest run of this pipeline only")
	cmd.Flags().BoolVar(&opts.Steps, "steps", false, "Include per-step detail for each run")

	return cmd
}

// openRunStore opens the state database for reading. It refuses to create
// a fresh database: no file means nothing has run yet.
func openRunStore(cmdCtx *CommandContext) (core.Store, error) {
	statePath, err := requireStatePath(cmdCtx)
	if err != nil {
		return nil, err
	}

	store := state.NewSQLiteStore(state.WithLogger(cmdCtx.Logger))
	if err := store.Open(statePath); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, nil
}

func runRuns(cmd *cobra.Command, opts *RunsOptions) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	r := cmdCtx.Renderer

	store, err := openRunStore(cmdCtx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var runs []*core.Run
	if opts.Pipeline != "" {
		run, err := store.GetLatestRun(opts.Pipeline)
		if err != nil {
			return fmt.Errorf("failed to load latest run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("no runs found for pipeline %q", opts.Pipeline)
		}
		runs = []*core.Run{run}
		opts.Steps = true
	} else {
		runs, err = store.ListRuns(opts.Limit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		return runsJSON(r, store, runs, opts.Steps)
	}
	return runsTable(r, store, runs, opts.Steps)
}

func runsTable(r *output.Renderer, store core.Store, runs []*core.Run, steps bool) error {
	if len(runs) == 0 {
		r.Muted("No runs recorded.")
		return nil
	}

	headers := []string{"RUN ID", "PIPELINE", "ENV", "STATUS", "ROWS IN", "ROWS OUT", "STARTED", "DURATION"}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			run.Pipeline,
			run.Environment,
			string(run.Status),
			fmt.Sprintf("%d", run.RowsIn),
			fmt.Sprintf("%d", run.RowsOut),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(run),
		})
	}
	r.Table(headers, rows)

	if steps {
		for _, run := range runs {
			stepRuns, err := store.GetStepRunsForRun(run.ID)
			if err != nil || len(stepRuns) == 0 {
				continue
			}
			r.Println("")
			r.Header(2, fmt.Sprintf("Steps of %s (%s)", run.Pipeline, shortID(run.ID)))
			stepRows := make([][]string, 0, len(stepRuns))
			for _, sr := range stepRuns {
				stepRows = append(stepRows, []string{
					fmt.Sprintf("%d", sr.StepIndex),
					sr.Step,
					string(sr.Status),
					fmt.Sprintf("%d", sr.RowsIn),
					fmt.Sprintf("%d", sr.RowsOut),
					fmt.Sprintf("%d", sr.Applied),
					fmt.Sprintf("%d", sr.Failed),
					fmt.Sprintf("%d", sr.Filtered),
					fmt.Sprintf("%dms", sr.ExecutionMS),
				})
			}
			r.Table([]string{"#", "STEP", "STATUS", "IN", "OUT", "APPLIED", "FAILED", "FILTERED", "TIME"}, stepRows)
		}
	}

	// Failed runs surface their error below the table
	for _, run := range runs {
		if run.Error != "" && run.Status != core.RunStatusSkipped {
			r.Println("")
			r.Printf("%s %s: %s\n", r.Styles().StatusFailed.String(), run.Pipeline, run.Error)
		}
	}

	return nil
}

func runsJSON(r *output.Renderer, store core.Store, runs []*core.Run, steps bool) error {
	out := output.RunsOutput{
		Runs:  make([]output.RunInfo, 0, len(runs)),
		Total: len(runs),
	}

	for _, run := range runs {
		info := output.RunInfo{
			ID:          run.ID,
			Pipeline:    run.Pipeline,
			Environment: run.Environment,
			Status:      string(run.Status),
			RowsIn:      run.RowsIn,
			RowsOut:     run.RowsOut,
			StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
		}
		if run.CompletedAt != nil {
			info.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
			info.DurationMS = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
		}
		if run.Error != "" {
			errMsg := run.Error
			info.Error = &errMsg
		}

		if steps {
			stepRuns, err := store.GetStepRunsForRun(run.ID)
			if err == nil {
				for _, sr := range stepRuns {
					stepInfo := output.StepRunInfo{
						Step:        sr.Step,
						StepIndex:   sr.StepIndex,
						Status:      string(sr.Status),
						RowsIn:      sr.RowsIn,
						RowsOut:     sr.RowsOut,
						Applied:     sr.Applied,
						Failed:      sr.Failed,
						Filtered:    sr.Filtered,
						ExecutionMS: sr.ExecutionMS,
					}
					if sr.Error != "" {
						errMsg := sr.Error
						stepInfo.Error = &errMsg
					}
					info.Steps = append(info.Steps, stepInfo)
				}
			}
		}

		out.Runs = append(out.Runs, info)
	}

	return r.JSON(out)
}

// shortID abbreviates a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(run *core.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}
