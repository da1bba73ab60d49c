// Package registry tracks everything discovery found in the project:
// pipeline specs by name, step modules by namespace, and seed files by
// base name. Watch mode re-discovers into the same registry, so lookups
// are guarded for concurrent readers.
package registry

import (
	"sort"
	"sync"

	"github.com/leapstack-labs/leaptrace/internal/pipeline"
	"github.com/leapstack-labs/leaptrace/internal/starlark"
)

// Registry is the index of discovered project entities.
type Registry struct {
	mu sync.RWMutex

	// pipelines maps pipeline names to their specs
	pipelines map[string]*pipeline.Spec

	// modules maps step namespaces to their loaded modules
	modules map[string]*starlark.Module

	// seeds maps seed base names ("accounts.csv") to absolute paths
	seeds map[string]string
}

// New creates a new empty registry.
func New() *Registry {
	return &Registry{
		pipelines: make(map[string]*pipeline.Spec),
		modules:   make(map[string]*starlark.Module),
		seeds:     make(map[string]string),
	}
}

// Clear removes everything; watch mode calls this before re-discovery.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines = make(map[string]*pipeline.Spec)
	r.modules = make(map[string]*starlark.Module)
	r.seeds = make(map[string]string)
}

// RegisterPipeline adds a pipeline spec; a later registration under the
// same name wins.
func (r *Registry) RegisterPipeline(spec *pipeline.Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[spec.Name] = spec
}

// Pipeline returns the spec registered under name.
func (r *Registry) Pipeline(name string) (*pipeline.Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.pipelines[name]
	return spec, ok
}

// Pipelines returns all registered specs sorted by name.
func (r *Registry) Pipelines() []*pipeline.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]*pipeline.Spec, 0, len(r.pipelines))
	for _, spec := range r.pipelines {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// PipelineCount returns the number of registered pipelines.
func (r *Registry) PipelineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}

// RegisterModule adds a loaded step module under its namespace.
func (r *Registry) RegisterModule(mod *starlark.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[mod.Namespace] = mod
}

// Module returns the step module registered under namespace.
func (r *Registry) Module(namespace string) (*starlark.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[namespace]
	return mod, ok
}

// Modules returns all registered step modules sorted by namespace.
func (r *Registry) Modules() []*starlark.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mods := make([]*starlark.Module, 0, len(r.modules))
	for _, mod := range r.modules {
		mods = append(mods, mod)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Namespace < mods[j].Namespace })
	return mods
}

// RegisterSeed maps a seed base name to its absolute path.
func (r *Registry) RegisterSeed(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeds[name] = path
}

// Seed resolves a seed base name to its path.
func (r *Registry) Seed(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.seeds[name]
	return path, ok
}

// Seeds returns all registered seed base names, sorted.
func (r *Registry) Seeds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.seeds))
	for name := range r.seeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
