package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/leaptrace/internal/cli/config"
	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/internal/engine"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	eng, err := createEngine(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	r := newRenderer(cmd, cfg)

	cleanup := func() {
		_ = eng.Close()
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Engine:   eng,
		Renderer: r,
	}, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that never touch pipelines or the state database.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()

	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: newRenderer(cmd, cfg),
	}
}

func newRenderer(cmd *cobra.Command, cfg *config.Config) *output.Renderer {
	mode := output.Mode(cfg.OutputFormat)
	if cfg.NoColor {
		return output.NewRendererWithTTY(cmd.OutOrStdout(), cmd.ErrOrStderr(), false, mode)
	}
	return output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
}

// getConfig returns the current configuration.
// It uses config.GetCurrentConfig() if available, otherwise falls back to environment variables.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	// Fallback: read from environment with defaults
	stepTimeout, _ := time.ParseDuration(os.Getenv("LEAPTRACE_STEP_TIMEOUT"))

	return &config.Config{
		PipelinesDir: getEnvOrDefault("LEAPTRACE_PIPELINES_DIR", config.DefaultPipelinesDir),
		StepsDir:     getEnvOrDefault("LEAPTRACE_STEPS_DIR", config.DefaultStepsDir),
		SeedsDir:     getEnvOrDefault("LEAPTRACE_SEEDS_DIR", config.DefaultSeedsDir),
		TargetDir:    getEnvOrDefault("LEAPTRACE_TARGET_DIR", config.DefaultTargetDir),
		StatePath:    getEnvOrDefault("LEAPTRACE_STATE_PATH", config.DefaultStateFile),
		Environment:  getEnvOrDefault("LEAPTRACE_ENVIRONMENT", config.DefaultEnv),
		StepTimeout:  stepTimeout,
		Verbose:      os.Getenv("LEAPTRACE_VERBOSE") == "true",
		OutputFormat: getEnvOrDefault("LEAPTRACE_OUTPUT", config.DefaultOutput),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	// Ensure state directory exists
	if cfg.StatePath != ":memory:" {
		stateDir := filepath.Dir(cfg.StatePath)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0750); err != nil {
				return nil, err
			}
		}
	}

	engineCfg := engine.Config{
		PipelinesDir: cfg.PipelinesDir,
		StepsDir:     cfg.StepsDir,
		SeedsDir:     cfg.SeedsDir,
		TargetDir:    cfg.TargetDir,
		StatePath:    cfg.StatePath,
		Environment:  cfg.Environment,
		Workers:      cfg.Workers,
		StepTimeout:  cfg.StepTimeout,
		Logger:       logger,
	}

	return engine.New(engineCfg), nil
}
