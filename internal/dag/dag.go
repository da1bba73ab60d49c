// Package dag provides directed acyclic graph operations for pipeline
// dependencies. It supports cycle detection, topological ordering, and
// change propagation for watch mode.
package dag

import (
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/leaptrace/internal/pipeline"
)

// Node represents one pipeline in the graph.
type Node struct {
	// Name is the unique pipeline name
	Name string
	// Spec is the pipeline definition
	Spec *pipeline.Spec
}

// Graph represents the pipeline dependency graph.
type Graph struct {
	nodes    map[string]*Node
	children map[string][]string // upstream -> downstream pipelines
	parents  map[string][]string // downstream -> upstream pipelines
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// Build constructs the dependency graph for a set of pipeline specs,
// wiring an edge for every input.pipeline reference. Referencing an
// unknown pipeline is an error; so is a dependency cycle.
func Build(specs []*pipeline.Spec) (*Graph, error) {
	g := NewGraph()
	for _, spec := range specs {
		g.AddPipeline(spec)
	}

	for _, spec := range specs {
		upstream := spec.DependsOn()
		if upstream == "" {
			continue
		}
		if _, ok := g.nodes[upstream]; !ok {
			return nil, fmt.Errorf("pipeline %q reads from unknown pipeline %q", spec.Name, upstream)
		}
		if err := g.AddDependency(upstream, spec.Name); err != nil {
			return nil, err
		}
	}

	if cyclic, path := g.HasCycle(); cyclic {
		return nil, fmt.Errorf("pipeline dependency cycle: %v", path)
	}

	return g, nil
}

// AddPipeline adds a pipeline node to the graph.
func (g *Graph) AddPipeline(spec *pipeline.Spec) {
	name := spec.Name
	if _, exists := g.nodes[name]; !exists {
		g.nodes[name] = &Node{Name: name, Spec: spec}
		g.children[name] = []string{}
		g.parents[name] = []string{}
	} else {
		// Update spec if the pipeline already exists
		g.nodes[name].Spec = spec
	}
}

// AddDependency adds a directed edge: downstream reads upstream's output.
func (g *Graph) AddDependency(upstream, downstream string) error {
	if _, exists := g.nodes[upstream]; !exists {
		return fmt.Errorf("upstream pipeline %q does not exist", upstream)
	}
	if _, exists := g.nodes[downstream]; !exists {
		return fmt.Errorf("downstream pipeline %q does not exist", downstream)
	}

	if upstream == downstream {
		return fmt.Errorf("pipeline %q reads its own output", upstream)
	}

	if !slices.Contains(g.children[upstream], downstream) {
		g.children[upstream] = append(g.children[upstream], downstream)
	}
	if !slices.Contains(g.parents[downstream], upstream) {
		g.parents[downstream] = append(g.parents[downstream], upstream)
	}

	return nil
}

// Pipeline returns a node by pipeline name.
func (g *Graph) Pipeline(name string) (*Node, bool) {
	node, exists := g.nodes[name]
	return node, exists
}

// Parents returns the upstream pipelines a pipeline reads from.
func (g *Graph) Parents(name string) []string {
	return g.parents[name]
}

// Children returns the downstream pipelines reading a pipeline's output.
func (g *Graph) Children(name string) []string {
	return g.children[name]
}

// Pipelines returns all nodes, sorted by name for deterministic output.
func (g *Graph) Pipelines() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name < nodes[j].Name
	})
	return nodes
}

// NodeCount returns the number of pipelines in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of dependency edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, downstream := range g.children {
		count += len(downstream)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with the
// cycle path for error reporting.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(name string) bool
	dfs = func(name string) bool {
		visited[name] = true
		recStack[name] = true

		for _, child := range g.children[name] {
			if !visited[child] {
				path[child] = name
				if dfs(child) {
					return true
				}
			} else if recStack[child] {
				// Found cycle, reconstruct path
				cyclePath = []string{child}
				for curr := name; curr != child; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{child}, cyclePath...)
				return true
			}
		}

		recStack[name] = false
		return false
	}

	for name := range g.nodes {
		if !visited[name] {
			if dfs(name) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// TopologicalSort returns pipelines in run order, upstream before
// downstream. Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if cyclic, cyclePath := g.HasCycle(); cyclic {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true

		for _, upstream := range g.parents[name] {
			visit(upstream)
		}

		result = append(result, g.nodes[name])
	}

	// Sort names first for deterministic order
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		visit(name)
	}

	return result, nil
}

// ExecutionLevels returns pipelines grouped by level: level N pipelines
// only read outputs produced at levels below N, so each level could run
// concurrently once the previous one completes. Level 0 pipelines read
// seeds only.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	if cyclic, cyclePath := g.HasCycle(); cyclic {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	levels := [][]string{}
	assigned := make(map[string]int)

	var getLevel func(name string) int
	getLevel = func(name string) int {
		if level, ok := assigned[name]; ok {
			return level
		}

		parents := g.parents[name]
		if len(parents) == 0 {
			assigned[name] = 0
			return 0
		}

		maxParentLevel := 0
		for _, upstream := range parents {
			parentLevel := getLevel(upstream)
			if parentLevel > maxParentLevel {
				maxParentLevel = parentLevel
			}
		}

		level := maxParentLevel + 1
		assigned[name] = level
		return level
	}

	maxLevel := 0
	for name := range g.nodes {
		level := getLevel(name)
		if level > maxLevel {
			maxLevel = level
		}
	}

	for i := 0; i <= maxLevel; i++ {
		levels = append(levels, []string{})
	}
	for name, level := range assigned {
		levels[level] = append(levels[level], name)
	}

	for i := range levels {
		sort.Strings(levels[i])
	}

	return levels, nil
}

// Affected returns the changed pipelines plus everything downstream of
// them. Watch mode re-runs exactly this set.
func (g *Graph) Affected(changed []string) []string {
	affected := make(map[string]bool)

	var mark func(name string)
	mark = func(name string) {
		if affected[name] {
			return
		}
		affected[name] = true

		for _, child := range g.children[name] {
			mark(child)
		}
	}

	for _, name := range changed {
		if _, exists := g.nodes[name]; exists {
			mark(name)
		}
	}

	result := make([]string, 0, len(affected))
	for name := range affected {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Upstream returns every pipeline a pipeline transitively reads from.
func (g *Graph) Upstream(name string) []string {
	upstream := make(map[string]bool)

	var mark func(current string)
	mark = func(current string) {
		for _, parent := range g.parents[current] {
			if !upstream[parent] {
				upstream[parent] = true
				mark(parent)
			}
		}
	}

	mark(name)

	result := make([]string, 0, len(upstream))
	for parent := range upstream {
		result = append(result, parent)
	}
	sort.Strings(result)
	return result
}

// Roots returns pipelines that read seeds only.
func (g *Graph) Roots() []string {
	var roots []string
	for name := range g.nodes {
		if len(g.parents[name]) == 0 {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns pipelines nothing reads from.
func (g *Graph) Leaves() []string {
	var leaves []string
	for name := range g.nodes {
		if len(g.children[name]) == 0 {
			leaves = append(leaves, name)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Subgraph returns a new graph containing only the named pipelines and
// the edges between them.
func (g *Graph) Subgraph(names []string) *Graph {
	sub := NewGraph()
	included := make(map[string]bool)

	for _, name := range names {
		included[name] = true
		if node, exists := g.nodes[name]; exists {
			sub.AddPipeline(node.Spec)
		}
	}

	for _, name := range names {
		for _, child := range g.children[name] {
			if included[child] {
				_ = sub.AddDependency(name, child)
			}
		}
	}

	return sub
}
