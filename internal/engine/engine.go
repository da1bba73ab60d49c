// Package engine orchestrates pipeline discovery, compilation, and
// execution. The engine owns the project registry, the dependency graph,
// and the run state store: Discover scans the project directories and
// rebuilds the graph, Run executes pipelines in dependency order and
// persists row-level lineage for each run.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/leaptrace/internal/dag"
	"github.com/leapstack-labs/leaptrace/internal/registry"
	"github.com/leapstack-labs/leaptrace/internal/state"
	"github.com/leapstack-labs/leaptrace/pkg/core"
)

// Config holds the engine configuration.
type Config struct {
	// PipelinesDir is the directory containing pipeline definition files.
	PipelinesDir string

	// StepsDir is the directory containing Starlark step modules.
	StepsDir string

	// SeedsDir is the directory containing seed data files.
	SeedsDir string

	// TargetDir is the directory pipeline outputs are written to.
	TargetDir string

	// StatePath is the path to the run state database.
	// ":memory:" keeps run history in memory for the process lifetime.
	StatePath string

	// Environment is recorded on every run. Defaults to "dev".
	Environment string

	// Workers caps per-step row parallelism. Zero uses the executor default.
	Workers int

	// StepTimeout bounds each step's execution. Zero means no limit.
	StepTimeout time.Duration

	// Logger receives structured engine logs. Defaults to a discard logger.
	Logger *slog.Logger
}

// Engine coordinates pipeline discovery and execution.
type Engine struct {
	logger *slog.Logger

	pipelinesDir string
	stepsDir     string
	seedsDir     string
	targetDir    string
	statePath    string
	environment  string
	workers      int
	stepTimeout  time.Duration

	registry *registry.Registry
	graph    *dag.Graph

	// hashes maps file paths to content hashes across discoveries, so a
	// re-discovery can report which definitions actually changed.
	hashes map[string]string

	// The state store opens lazily on first use, so commands that only
	// inspect definitions never touch the state database.
	storeMu sync.Mutex
	store   core.Store
}

// New creates an engine from the given configuration.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	env := cfg.Environment
	if env == "" {
		env = "dev"
	}

	return &Engine{
		logger:       logger,
		pipelinesDir: cfg.PipelinesDir,
		stepsDir:     cfg.StepsDir,
		seedsDir:     cfg.SeedsDir,
		targetDir:    cfg.TargetDir,
		statePath:    cfg.StatePath,
		environment:  env,
		workers:      cfg.Workers,
		stepTimeout:  cfg.StepTimeout,
		registry:     registry.New(),
		graph:        dag.NewGraph(),
		hashes:       make(map[string]string),
	}
}

// Close releases engine resources. Safe to call when the state store was
// never opened.
func (e *Engine) Close() error {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	if e.store == nil {
		return nil
	}
	store := e.store
	e.store = nil
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close state store: %w", err)
	}
	return nil
}

// ensureStore opens and migrates the state store on first use.
func (e *Engine) ensureStore() (core.Store, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	if e.store != nil {
		return e.store, nil
	}

	store := state.NewSQLiteStore(state.WithLogger(e.logger))
	if err := store.Open(e.statePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}
	e.store = store
	return store, nil
}

// GetRegistry returns the registry of discovered pipelines, step modules,
// and seeds.
func (e *Engine) GetRegistry() *registry.Registry {
	return e.registry
}

// GetGraph returns the dependency graph built by the last discovery.
func (e *Engine) GetGraph() *dag.Graph {
	return e.graph
}

// Environment returns the environment name recorded on runs.
func (e *Engine) Environment() string {
	return e.environment
}
