// Package config provides configuration management for the leaptrace CLI.
//
// Configuration is layered: struct defaults, then leaptrace.yaml, then
// LEAPTRACE_* environment variables, then command-line flags. Paths coming
// from the config file or defaults resolve relative to the project root;
// paths given as flags resolve relative to the directory the command ran in.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot  string               `koanf:"-"`
	PipelinesDir string               `koanf:"pipelines_dir"`
	StepsDir     string               `koanf:"steps_dir"`
	SeedsDir     string               `koanf:"seeds_dir"`
	TargetDir    string               `koanf:"target_dir"`
	StatePath    string               `koanf:"state_path"`
	Environment  string               `koanf:"environment"`
	Workers      int                  `koanf:"workers"`
	StepTimeout  time.Duration        `koanf:"step_timeout"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	NoColor      bool                 `koanf:"no_color"`
	Environments map[string]EnvConfig `koanf:"environments"`
}

// EnvConfig holds environment-specific configuration overrides.
// Pipelines and steps are code and stay shared across environments;
// the data side (seeds, outputs, run history) can point elsewhere.
type EnvConfig struct {
	SeedsDir  string `koanf:"seeds_dir"`
	TargetDir string `koanf:"target_dir"`
	StatePath string `koanf:"state_path"`
}

// Default configuration values
const (
	DefaultPipelinesDir = "pipelines"
	DefaultStepsDir     = "steps"
	DefaultSeedsDir     = "seeds"
	DefaultTargetDir    = "target"
	DefaultStateFile    = ".leaptrace/state.db"
	DefaultEnv          = "dev"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)
