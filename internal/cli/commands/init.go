package commands

import (
	"fmt"
	"os"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leaptrace project",
		Long: `Initialize a new leaptrace project with default directory structure and configuration.

This creates:
  - pipelines/ directory for pipeline definitions
  - seeds/ directory for seed data files
  - steps/ directory for Starlark step modules
  - leaptrace.yaml configuration file

Use --example to create a full working demo project with sample data and
pipelines exercising every step kind, including row-level failures you
can inspect with 'leaptrace trace'.`,
		Example: `  # Initialize in current directory
  leaptrace init

  # Initialize with a full working example
  leaptrace init --example

  # Initialize in a new directory
  leaptrace init my-project --example

  # Force overwrite existing config
  leaptrace init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			// Create renderer
			cfg := getConfig()
			mode := output.Mode(cfg.OutputFormat)
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

			if example {
				return runInitExample(r, dir, force)
			}
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Create a full example project with seeds, pipelines, and step modules")

	return cmd
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if err := prepareProjectDir(dir, force); err != nil {
		return err
	}

	// Copy minimal template
	if err := copyTemplate("minimal", dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	// List created files
	files, _ := listTemplateFiles("minimal")
	for _, f := range files {
		r.StatusLine(f, "success", "")
	}

	r.Println("")
	r.Success("leaptrace project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Add your seed data to seeds/")
	r.Println("  2. Define pipelines in pipelines/")
	r.Println("  3. Run 'leaptrace run' to execute them")
	r.Println("  4. Run 'leaptrace runs' to inspect the results")

	return nil
}

func runInitExample(r *output.Renderer, dir string, force bool) error {
	if err := prepareProjectDir(dir, force); err != nil {
		return err
	}

	// Copy example template
	if err := copyTemplate("example", dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	// List created files by category
	files, _ := listTemplateFiles("example")
	groups := groupTemplateFiles(files)

	r.Header(2, "Configuration")
	for _, f := range groups["config"] {
		r.StatusLine(f, "success", "")
	}

	r.Println("")
	r.Header(2, "Seeds")
	for _, f := range groups["seeds"] {
		r.StatusLine(f, "success", "")
	}

	r.Println("")
	r.Header(2, "Pipelines")
	for _, f := range groups["pipelines"] {
		r.StatusLine(f, "success", "")
	}

	r.Println("")
	r.Header(2, "Step modules")
	for _, f := range groups["steps"] {
		r.StatusLine(f, "success", "")
	}

	r.Println("")
	r.Success("leaptrace project initialized with example data!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  leaptrace run       Execute all pipelines in dependency order")
	r.Println("  leaptrace runs      Show run history and step results")
	r.Println("  leaptrace dag       Visualize the pipeline graph")
	r.Println("  leaptrace query     Explore recorded lineage with SQL")

	return nil
}

// prepareProjectDir creates the target directory and refuses to overwrite
// an existing project unless forced.
func prepareProjectDir(dir string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := dir + "/leaptrace.yaml"
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("leaptrace.yaml already exists. Use --force to overwrite")
	}
	return nil
}
