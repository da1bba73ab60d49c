package starlark

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Loader scans a directory for .star files and loads them as step modules.
// Each file becomes a namespace derived from its filename.
type Loader struct {
	dir string
}

// NewLoader creates a new step loader for the specified directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Module represents a loaded Starlark step file.
type Module struct {
	// Namespace is derived from filename (e.g., "metrics" from "metrics.star")
	Namespace string

	// Path is the path to the .star file
	Path string

	// Exports contains all exported functions/values (names not starting with _)
	Exports starlark.StringDict
}

// Struct packages the module's exports for use as a global, so pipeline
// expressions can call metrics.growth_rate(row).
func (m *Module) Struct() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name:    m.Namespace,
		Members: m.Exports,
	}
}

// Load scans the steps directory and loads all .star files.
// A missing directory is not an error; pipelines may use only builtin steps.
func (l *Loader) Load() ([]*Module, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access steps directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("steps path is not a directory: %s", l.dir)
	}

	pattern := filepath.Join(l.dir, "*.star")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan steps directory: %w", err)
	}

	var modules []*Module

	for _, file := range files {
		module, err := l.LoadFile(file)
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}

	return modules, nil
}

// LoadFile executes a single .star file and extracts its exports. Callers
// that want per-file error reporting use this directly instead of Load.
func (l *Loader) LoadFile(path string) (*Module, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from filepath.Glob within the steps directory
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}
	}

	base := filepath.Base(path)
	namespace := strings.TrimSuffix(base, ".star")

	if err := validateNamespace(namespace); err != nil {
		return nil, &LoadError{
			File:    path,
			Message: err.Error(),
		}
	}

	thread := &starlark.Thread{
		Name: fmt.Sprintf("load:%s", namespace),
		Print: func(_ *starlark.Thread, _ string) {
			// Ignore prints during step loading
		},
	}

	// Step files get the math module; everything else comes from their
	// own definitions. ExecFile freezes the globals, which is what makes
	// concurrent row evaluation safe later.
	predeclared := starlark.StringDict{
		"math": starlarkmath.Module,
	}

	globals, err := starlark.ExecFile(thread, path, content, predeclared) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: fmt.Sprintf("Starlark execution error: %v", err),
		}
	}

	// Filter exports (exclude names starting with _)
	exports := make(starlark.StringDict)
	for name, value := range globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}

	return &Module{
		Namespace: namespace,
		Path:      path,
		Exports:   exports,
	}, nil
}

// validateNamespace checks if a namespace name is valid.
func validateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	for i, r := range name {
		if i == 0 {
			if !isLetter(r) && r != '_' {
				return fmt.Errorf("namespace must start with letter or underscore: %s", name)
			}
		} else {
			if !isLetter(r) && !isDigit(r) && r != '_' {
				return fmt.Errorf("namespace contains invalid character: %s", name)
			}
		}
	}

	return nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// LoadError represents an error loading a step file.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("steps/%s: %s", filepath.Base(e.File), e.Message)
}
