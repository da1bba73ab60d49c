package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/internal/dag"
	"github.com/spf13/cobra"
)

// GraphQuerier provides read-only access to graph structure.
type GraphQuerier interface {
	Pipeline(string) (*dag.Node, bool)
	Parents(string) []string
	Children(string) []string
	NodeCount() int
	EdgeCount() int
}

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the pipeline dependency graph",
		Long: `Display the dependency graph (DAG) of all pipelines.

Pipelines are grouped by execution level, showing which pipelines can
run in parallel, what each one reads, and their dependency
relationships.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the DAG
  leaptrace dag

  # Output as JSON
  leaptrace dag --output json

  # Output as Markdown
  leaptrace dag --output markdown`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd)
		},
	}

	return cmd
}

func runDAG(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	if _, err := eng.Discover(); err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	graph := eng.GetGraph()

	levels, err := graph.ExecutionLevels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return dagJSON(r, graph, levels)
	case output.ModeMarkdown:
		return dagMarkdown(r, graph, levels)
	default:
		return dagText(r, graph, levels)
	}
}

// inputDescriptor names what a pipeline reads, in the seed:name or
// pipeline:name form used across command output.
func inputDescriptor(graph GraphQuerier, name string) string {
	node, ok := graph.Pipeline(name)
	if !ok || node.Spec == nil {
		return ""
	}
	if node.Spec.Input.Seed != "" {
		return "seed:" + node.Spec.Input.Seed
	}
	if node.Spec.Input.Pipeline != "" {
		return "pipeline:" + node.Spec.Input.Pipeline
	}
	return ""
}

// dagText outputs the DAG in styled text format.
func dagText(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	styles := r.Styles()

	r.Header(1, "Pipeline Graph")

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, name := range level {
			deps := graph.Parents(name)
			children := graph.Children(name)

			r.Printf("  %s\n", styles.PipelinePath.Render(name))
			if input := inputDescriptor(graph, name); input != "" {
				r.Printf("    %s %s\n", styles.Muted.Render("reads:"), input)
			}
			if len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
			}
			if len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d pipelines, %d dependencies", graph.NodeCount(), graph.EdgeCount())))

	return nil
}

// dagMarkdown outputs the DAG in markdown format.
func dagMarkdown(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	r.Println(output.FormatHeader(1, "Pipeline Graph"))
	r.Println("")

	for i, level := range levels {
		levelName := fmt.Sprintf("Level %d", i)
		if i == 0 {
			levelName = "Level 0 (Sources)"
		}
		r.Println(output.FormatHeader(2, levelName))

		for _, name := range level {
			deps := graph.Parents(name)
			children := graph.Children(name)

			r.Printf("- %s\n", name)
			if input := inputDescriptor(graph, name); input != "" {
				r.Printf("  - reads: %s\n", input)
			}
			if len(deps) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(deps, ", "))
			}
			if len(children) > 0 {
				r.Printf("  - used by: %s\n", strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Pipelines", fmt.Sprintf("%d", graph.NodeCount())))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", graph.EdgeCount())))

	return nil
}

// dagJSON outputs the DAG in JSON format.
func dagJSON(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	dagOutput := output.DAGOutput{
		Levels:         make([]output.DAGLevel, 0, len(levels)),
		TotalPipelines: graph.NodeCount(),
		TotalEdges:     graph.EdgeCount(),
	}

	for i, level := range levels {
		dagLevel := output.DAGLevel{
			Level:     i,
			Pipelines: make([]output.DAGNode, 0, len(level)),
		}

		for _, name := range level {
			dagLevel.Pipelines = append(dagLevel.Pipelines, output.DAGNode{
				Name:      name,
				Input:     inputDescriptor(graph, name),
				DependsOn: graph.Parents(name),
				UsedBy:    graph.Children(name),
			})
		}

		dagOutput.Levels = append(dagOutput.Levels, dagLevel)
	}

	return r.JSON(dagOutput)
}
