package config

import (
	"fmt"
	"os"
)

// validOutputFormats lists the accepted values for the output setting.
var validOutputFormats = map[string]bool{
	"auto":     true,
	"text":     true,
	"json":     true,
	"markdown": true,
	"csv":      true,
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PipelinesDir == "" {
		return fmt.Errorf("pipelines_dir is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must not be negative, got %s", c.StepTimeout)
	}
	if !validOutputFormats[c.OutputFormat] {
		return fmt.Errorf("unknown output format %q (valid: auto, text, json, markdown, csv)", c.OutputFormat)
	}

	// Only validate directory existence if we're running a command that needs it
	// This allows help commands to work without a valid directory
	return nil
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.PipelinesDir); os.IsNotExist(err) {
		return fmt.Errorf("pipelines directory does not exist: %s\nHint: Create the directory or use --pipelines-dir to specify a different path", c.PipelinesDir)
	}
	return nil
}
