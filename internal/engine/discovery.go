package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/leaptrace/internal/dag"
	"github.com/leapstack-labs/leaptrace/internal/pipeline"
	"github.com/leapstack-labs/leaptrace/internal/starlark"
)

// DiscoveryError describes one problem found while scanning the project.
type DiscoveryError struct {
	// Path is the file or directory the problem was found in.
	Path string
	// Type classifies the problem: "parse", "load", "validation", or "io".
	Type string
	// Message is the human readable description.
	Message string
}

// DiscoveryResult summarizes what a discovery pass found.
type DiscoveryResult struct {
	PipelinesTotal   int
	PipelinesChanged int
	PipelinesSkipped int
	PipelinesDeleted int

	ModulesTotal   int
	ModulesChanged int
	ModulesSkipped int
	ModulesDeleted int

	SeedsTotal int

	// SeedsMissing lists seed files referenced by a pipeline but not found
	// under the seeds directory.
	SeedsMissing []string

	// ChangedPipelines names the pipelines whose definition changed since
	// the previous discovery. A fresh engine reports everything changed.
	ChangedPipelines []string

	Errors []DiscoveryError

	Duration time.Duration
}

// HasErrors reports whether discovery collected any per-file errors.
func (r *DiscoveryResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Summary returns a one-line description of the discovery pass.
func (r *DiscoveryResult) Summary() string {
	return fmt.Sprintf(
		"Pipelines: %d total (%d changed, %d skipped, %d deleted) | Steps: %d modules | Seeds: %d | Errors: %d | Duration: %s",
		r.PipelinesTotal, r.PipelinesChanged, r.PipelinesSkipped, r.PipelinesDeleted,
		r.ModulesTotal, r.SeedsTotal, len(r.Errors), r.Duration.Round(time.Millisecond))
}

// Discover scans the project directories and rebuilds the registry and the
// dependency graph. A definition that fails to parse is reported in the
// result and skipped, so one broken file does not hide the rest of the
// project. Dependency cycles are fatal.
func (e *Engine) Discover() (*DiscoveryResult, error) {
	start := time.Now()
	result := &DiscoveryResult{}

	e.logger.Info("starting discovery",
		"pipelines_dir", e.pipelinesDir,
		"steps_dir", e.stepsDir)

	e.registry.Clear()
	e.graph = dag.NewGraph()

	// Step modules load first; pipeline expressions call their functions.
	if err := e.discoverModules(result); err != nil {
		return result, fmt.Errorf("step discovery failed: %w", err)
	}
	if err := e.discoverPipelines(result); err != nil {
		return result, fmt.Errorf("pipeline discovery failed: %w", err)
	}
	e.discoverSeeds(result)
	if err := e.buildGraph(result); err != nil {
		return result, fmt.Errorf("graph construction failed: %w", err)
	}

	result.Duration = time.Since(start)
	e.logger.Info("discovery completed",
		"pipelines", result.PipelinesTotal,
		"modules", result.ModulesTotal,
		"seeds", result.SeedsTotal,
		"errors", len(result.Errors),
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}

// discoverModules loads every .star file under the steps directory into
// the registry. Files that fail to execute are reported and skipped.
func (e *Engine) discoverModules(result *DiscoveryResult) error {
	if e.stepsDir == "" {
		return nil
	}
	if _, err := os.Stat(e.stepsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(e.stepsDir, "*.star"))
	if err != nil {
		return fmt.Errorf("failed to scan steps directory: %w", err)
	}

	loader := starlark.NewLoader(e.stepsDir)
	seen := make(map[string]bool, len(files))

	for _, path := range files {
		seen[path] = true
		result.ModulesTotal++

		changed, hash := e.fileChanged(path)

		module, err := loader.LoadFile(path)
		if err != nil {
			e.logger.Warn("skipping step module", "path", path, "error", err)
			result.Errors = append(result.Errors, DiscoveryError{
				Path:    path,
				Type:    "load",
				Message: err.Error(),
			})
			continue
		}

		e.registry.RegisterModule(module)
		if changed {
			result.ModulesChanged++
			e.hashes[path] = hash
		} else {
			result.ModulesSkipped++
		}
	}

	result.ModulesDeleted = e.pruneHashes(e.stepsDir, []string{".star"}, seen)
	return nil
}

// discoverPipelines loads every pipeline definition under the pipelines
// directory into the registry. Files that fail to parse and names defined
// twice are reported and skipped.
func (e *Engine) discoverPipelines(result *DiscoveryResult) error {
	if e.pipelinesDir == "" {
		return nil
	}
	if _, err := os.Stat(e.pipelinesDir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(e.pipelinesDir, pattern))
		if err != nil {
			return fmt.Errorf("failed to scan pipelines directory: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	seen := make(map[string]bool, len(files))
	defined := make(map[string]string, len(files))

	for _, path := range files {
		seen[path] = true
		result.PipelinesTotal++

		changed, hash := e.fileChanged(path)

		spec, err := pipeline.Load(path)
		if err != nil {
			e.logger.Warn("skipping pipeline", "path", path, "error", err)
			result.Errors = append(result.Errors, DiscoveryError{
				Path:    path,
				Type:    "parse",
				Message: err.Error(),
			})
			continue
		}

		if prev, ok := defined[spec.Name]; ok {
			result.Errors = append(result.Errors, DiscoveryError{
				Path:    path,
				Type:    "validation",
				Message: fmt.Sprintf("pipeline %q already defined in %s", spec.Name, prev),
			})
			continue
		}
		defined[spec.Name] = path

		e.registry.RegisterPipeline(spec)
		if changed {
			result.PipelinesChanged++
			result.ChangedPipelines = append(result.ChangedPipelines, spec.Name)
			e.hashes[path] = hash
		} else {
			result.PipelinesSkipped++
		}
	}

	sort.Strings(result.ChangedPipelines)
	result.PipelinesDeleted = e.pruneHashes(e.pipelinesDir, []string{".yaml", ".yml"}, seen)
	return nil
}

// discoverSeeds registers the seed files present under the seeds directory
// and records pipeline inputs that reference a seed which is not there.
func (e *Engine) discoverSeeds(result *DiscoveryResult) {
	if e.seedsDir != "" {
		entries, err := os.ReadDir(e.seedsDir)
		if err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, DiscoveryError{
				Path:    e.seedsDir,
				Type:    "io",
				Message: err.Error(),
			})
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".csv", ".json", ".xlsx":
				e.registry.RegisterSeed(entry.Name(), filepath.Join(e.seedsDir, entry.Name()))
				result.SeedsTotal++
			}
		}
	}

	missing := make(map[string]bool)
	for _, spec := range e.registry.Pipelines() {
		if spec.Input.Seed == "" {
			continue
		}
		if _, ok := e.registry.Seed(spec.Input.Seed); !ok {
			missing[spec.Input.Seed] = true
		}
	}
	for name := range missing {
		result.SeedsMissing = append(result.SeedsMissing, name)
	}
	sort.Strings(result.SeedsMissing)
}

// buildGraph assembles the dependency graph from the registered pipelines.
// Pipelines reading from an upstream that is missing or itself excluded
// cannot run; they are dropped from the graph with a validation error, and
// the exclusion cascades to their own readers.
func (e *Engine) buildGraph(result *DiscoveryResult) error {
	specs := e.registry.Pipelines()

	usable := make(map[string]*pipeline.Spec, len(specs))
	for _, spec := range specs {
		usable[spec.Name] = spec
	}

	for {
		var drop []string
		for name, spec := range usable {
			up := spec.DependsOn()
			if up == "" {
				continue
			}
			if _, ok := usable[up]; !ok {
				drop = append(drop, name)
			}
		}
		if len(drop) == 0 {
			break
		}
		sort.Strings(drop)
		for _, name := range drop {
			spec := usable[name]
			up := spec.DependsOn()
			msg := fmt.Sprintf("reads from unknown pipeline %q", up)
			if _, registered := e.registry.Pipeline(up); registered {
				msg = fmt.Sprintf("upstream pipeline %q failed discovery", up)
			}
			result.Errors = append(result.Errors, DiscoveryError{
				Path:    spec.Path,
				Type:    "validation",
				Message: msg,
			})
			delete(usable, name)
		}
	}

	ordered := make([]*pipeline.Spec, 0, len(usable))
	for _, spec := range specs {
		if _, ok := usable[spec.Name]; ok {
			ordered = append(ordered, spec)
		}
	}

	graph, err := dag.Build(ordered)
	if err != nil {
		return err
	}
	e.graph = graph
	return nil
}

// PipelinesReadingSeed returns the names of discovered pipelines whose
// input is the named seed file.
func (e *Engine) PipelinesReadingSeed(seed string) []string {
	var names []string
	for _, spec := range e.registry.Pipelines() {
		if spec.Input.Seed == seed {
			names = append(names, spec.Name)
		}
	}
	return names
}

// fileChanged reports whether the file's content differs from the hash
// recorded at the previous discovery. Callers store the returned hash once
// the file is successfully loaded, so broken files stay "changed" until
// they are fixed.
func (e *Engine) fileChanged(path string) (bool, string) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from filepath.Glob within a project directory
	if err != nil {
		return true, ""
	}
	hash := computeHash(content)
	return e.hashes[path] != hash, hash
}

// pruneHashes drops hash entries under dir whose files were not seen in
// this discovery pass and reports how many were dropped.
func (e *Engine) pruneHashes(dir string, exts []string, seen map[string]bool) int {
	if dir == "" {
		return 0
	}
	prefix := dir + string(os.PathSeparator)
	deleted := 0
	for path := range e.hashes {
		if !strings.HasPrefix(path, prefix) || seen[path] {
			continue
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, want := range exts {
			if ext == want {
				delete(e.hashes, path)
				deleted++
				break
			}
		}
	}
	return deleted
}

// computeHash returns a short content hash for change detection.
func computeHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:8])
}
