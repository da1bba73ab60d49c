package commands

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/internal/engine"
	"github.com/leapstack-labs/leaptrace/internal/pipeline"
	"github.com/leapstack-labs/leaptrace/internal/starlark"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check all pipeline definitions without executing them",
		Long: `Parse and compile every pipeline definition without reading any data.

The checks cover:
- YAML parse errors and unknown fields
- Definition errors (missing input, bad step fields, dependency cycles)
- Step compilation (unknown kinds, unknown functions, bad expressions)
- Seed files referenced by a pipeline but missing on disk
- Columns required after an aggregate step collapsed the row shape

The command exits non-zero when any pipeline is invalid, so it is safe
to wire into CI.`,
		Example: `  # Validate the whole project
  leaptrace validate

  # Machine-readable report
  leaptrace validate --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd)
		},
	}

	return cmd
}

// ValidationIssue is one problem found by the validate command.
type ValidationIssue struct {
	Pipeline string `json:"pipeline,omitempty"`
	Path     string `json:"path,omitempty"`
	Check    string `json:"check"`
	Message  string `json:"message"`
}

// ValidateOutput is the JSON output of the validate command.
type ValidateOutput struct {
	Pipelines int               `json:"pipelines"`
	Seeds     int               `json:"seeds"`
	Issues    []ValidationIssue `json:"issues"`
	Valid     bool              `json:"valid"`
}

func runValidate(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	result, err := eng.Discover()
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	out := &ValidateOutput{
		Pipelines: result.PipelinesTotal,
		Seeds:     result.SeedsTotal,
	}

	for _, derr := range result.Errors {
		out.Issues = append(out.Issues, ValidationIssue{
			Path:    derr.Path,
			Check:   derr.Type,
			Message: derr.Message,
		})
	}

	for _, seed := range result.SeedsMissing {
		readers := eng.PipelinesReadingSeed(seed)
		if len(readers) == 0 {
			readers = []string{""}
		}
		for _, name := range readers {
			out.Issues = append(out.Issues, ValidationIssue{
				Pipeline: name,
				Check:    "seed",
				Message:  fmt.Sprintf("seed %q not found under %s", seed, cmdCtx.Cfg.SeedsDir),
			})
		}
	}

	out.Issues = append(out.Issues, compileAll(eng)...)
	out.Valid = len(out.Issues) == 0

	switch r.EffectiveMode() {
	case output.ModeJSON:
		if err := r.JSON(out); err != nil {
			return err
		}
	case output.ModeMarkdown:
		validateMarkdown(r, out)
	default:
		validateText(r, out)
	}

	if !out.Valid {
		return fmt.Errorf("%d validation issue(s) found", len(out.Issues))
	}
	return nil
}

// compileAll compiles every registered pipeline's step list and runs the
// column-flow check on its raw definition.
func compileAll(eng *engine.Engine) []ValidationIssue {
	var issues []ValidationIssue

	ec, err := starlark.NewContext(eng.Environment(), starlark.WithModules(eng.GetRegistry().Modules()))
	if err != nil {
		return []ValidationIssue{{Check: "module", Message: err.Error()}}
	}

	for _, node := range eng.GetGraph().Pipelines() {
		spec := node.Spec
		if _, err := spec.Compile(ec); err != nil {
			issues = append(issues, ValidationIssue{
				Pipeline: spec.Name,
				Path:     spec.Path,
				Check:    "compile",
				Message:  err.Error(),
			})
			continue
		}
		issues = append(issues, checkColumnFlow(spec)...)
	}

	return issues
}

// checkColumnFlow walks a pipeline's steps tracking which columns are
// certain to exist once an aggregate step collapsed the row shape. Before
// the first aggregate the input columns are unknown and nothing is
// flagged; afterwards the surviving set is exact until an apply step,
// whose function may merge arbitrary columns, reopens it.
func checkColumnFlow(spec *pipeline.Spec) []ValidationIssue {
	var issues []ValidationIssue
	var known map[string]bool // nil means any column may exist

	require := func(st *pipeline.StepSpec, cols ...string) {
		if known == nil {
			return
		}
		for _, col := range cols {
			if col == "" || known[col] {
				continue
			}
			issues = append(issues, ValidationIssue{
				Pipeline: spec.Name,
				Path:     spec.Path,
				Check:    "columns",
				Message:  fmt.Sprintf("step %q requires column %q, which does not survive the preceding aggregation", st.Name, col),
			})
		}
	}

	for i := range spec.Steps {
		st := &spec.Steps[i]
		require(st, st.Requires...)

		switch st.Kind {
		case pipeline.KindDerive:
			if known != nil && st.Adds != "" {
				known[st.Adds] = true
			}

		case pipeline.KindApply:
			known = nil

		case pipeline.KindValidate:
			cols := make([]string, 0, len(st.Schema)+len(st.Rules))
			for col := range st.Schema {
				cols = append(cols, col)
			}
			sort.Strings(cols)
			for _, rule := range st.Rules {
				cols = append(cols, rule.Column)
			}
			require(st, cols...)

		case pipeline.KindAggregate:
			aggCols := make([]string, 0, len(st.Aggregate))
			for col := range st.Aggregate {
				aggCols = append(aggCols, col)
			}
			sort.Strings(aggCols)
			require(st, st.GroupBy...)
			require(st, aggCols...)

			known = make(map[string]bool, len(st.GroupBy)+len(aggCols)+1)
			for _, col := range st.GroupBy {
				known[col] = true
			}
			for _, col := range aggCols {
				known[col] = true
			}
			if st.CountColumn != "" {
				known[st.CountColumn] = true
			}

		case pipeline.KindExplode:
			require(st, st.Column)

		case pipeline.KindSort:
			require(st, st.By...)
		}
	}

	return issues
}

func validateText(r *output.Renderer, out *ValidateOutput) {
	styles := r.Styles()

	if out.Valid {
		r.Success(fmt.Sprintf("%d pipeline(s) valid, %d seed(s) found", out.Pipelines, out.Seeds))
		return
	}

	for _, issue := range out.Issues {
		where := issue.Pipeline
		if where == "" {
			where = issue.Path
		}
		if where == "" {
			where = "project"
		}
		r.Printf("%s %s %s: %s\n",
			styles.StatusFailed.String(),
			styles.Muted.Render("["+issue.Check+"]"),
			styles.Bold.Render(where),
			issue.Message)
	}
	r.Println("")
	r.Println(styles.Error.Render(fmt.Sprintf("%d issue(s) in %d pipeline(s)", len(out.Issues), out.Pipelines)))
}

func validateMarkdown(r *output.Renderer, out *ValidateOutput) {
	r.Println(output.FormatHeader(1, "Validation Report"))
	r.Println("")
	r.Println(output.FormatKeyValue("Pipelines", fmt.Sprintf("%d", out.Pipelines)))
	r.Println(output.FormatKeyValue("Seeds", fmt.Sprintf("%d", out.Seeds)))
	r.Println(output.FormatKeyValue("Issues", fmt.Sprintf("%d", len(out.Issues))))
	r.Println("")

	if out.Valid {
		r.Println("All pipelines are valid.")
		return
	}

	r.Println(output.FormatHeader(2, "Issues"))
	for _, issue := range out.Issues {
		where := issue.Pipeline
		if where == "" {
			where = issue.Path
		}
		if where == "" {
			where = "project"
		}
		r.Printf("- **%s** (%s): %s\n", where, issue.Check, issue.Message)
	}
}
