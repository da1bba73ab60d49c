package dag

import (
	"reflect"
	"testing"

	"github.com/leapstack-labs/leaptrace/internal/pipeline"
)

func seedSpec(name string) *pipeline.Spec {
	return &pipeline.Spec{Name: name, Input: pipeline.InputSpec{Seed: name + ".csv"}}
}

func derivedSpec(name, upstream string) *pipeline.Spec {
	return &pipeline.Spec{Name: name, Input: pipeline.InputSpec{Pipeline: upstream}}
}

func TestGraph_AddPipelineAndDependency(t *testing.T) {
	g := NewGraph()

	g.AddPipeline(seedSpec("a"))
	g.AddPipeline(derivedSpec("b", "a"))
	g.AddPipeline(derivedSpec("c", "b"))

	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.NodeCount())
	}

	if err := g.AddDependency("a", "b"); err != nil {
		t.Errorf("failed to add dependency: %v", err)
	}
	if err := g.AddDependency("b", "c"); err != nil {
		t.Errorf("failed to add dependency: %v", err)
	}

	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}

	// Duplicate edges are ignored
	if err := g.AddDependency("a", "b"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges after duplicate add, got %d", g.EdgeCount())
	}
}

func TestGraph_AddDependency_InvalidNodes(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("a"))

	if err := g.AddDependency("a", "nonexistent"); err == nil {
		t.Error("expected error for nonexistent downstream pipeline")
	}
	if err := g.AddDependency("nonexistent", "a"); err == nil {
		t.Error("expected error for nonexistent upstream pipeline")
	}
}

func TestGraph_AddDependency_SelfLoop(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("a"))

	if err := g.AddDependency("a", "a"); err == nil {
		t.Error("expected error for self-loop")
	}
}

func TestBuild(t *testing.T) {
	specs := []*pipeline.Spec{
		seedSpec("raw_accounts"),
		derivedSpec("cleaned_accounts", "raw_accounts"),
		derivedSpec("account_growth", "cleaned_accounts"),
		seedSpec("regions"),
	}

	g, err := Build(specs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.NodeCount() != 4 {
		t.Errorf("expected 4 nodes, got %d", g.NodeCount())
	}
	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}

	parents := g.Parents("account_growth")
	if len(parents) != 1 || parents[0] != "cleaned_accounts" {
		t.Errorf("unexpected parents: %v", parents)
	}

	children := g.Children("raw_accounts")
	if len(children) != 1 || children[0] != "cleaned_accounts" {
		t.Errorf("unexpected children: %v", children)
	}
}

func TestBuild_UnknownUpstream(t *testing.T) {
	_, err := Build([]*pipeline.Spec{derivedSpec("b", "missing")})
	if err == nil {
		t.Fatal("expected error for unknown upstream pipeline")
	}
}

func TestBuild_Cycle(t *testing.T) {
	_, err := Build([]*pipeline.Spec{
		derivedSpec("a", "b"),
		derivedSpec("b", "a"),
	})
	if err == nil {
		t.Fatal("expected error for dependency cycle")
	}
}

func TestGraph_HasCycle(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("a"))
	g.AddPipeline(derivedSpec("b", "a"))
	g.AddPipeline(derivedSpec("c", "b"))
	_ = g.AddDependency("a", "b")
	_ = g.AddDependency("b", "c")

	if cyclic, _ := g.HasCycle(); cyclic {
		t.Error("expected no cycle")
	}

	_ = g.AddDependency("c", "a")
	cyclic, path := g.HasCycle()
	if !cyclic {
		t.Fatal("expected cycle")
	}
	if len(path) < 3 {
		t.Errorf("expected cycle path, got %v", path)
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(derivedSpec("z_last", "m_middle"))
	g.AddPipeline(derivedSpec("m_middle", "a_first"))
	g.AddPipeline(seedSpec("a_first"))
	_ = g.AddDependency("a_first", "m_middle")
	_ = g.AddDependency("m_middle", "z_last")

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	position := make(map[string]int)
	for i, node := range sorted {
		position[node.Name] = i
	}

	if position["a_first"] > position["m_middle"] {
		t.Error("a_first must run before m_middle")
	}
	if position["m_middle"] > position["z_last"] {
		t.Error("m_middle must run before z_last")
	}
}

func TestGraph_ExecutionLevels(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("raw_a"))
	g.AddPipeline(seedSpec("raw_b"))
	g.AddPipeline(derivedSpec("clean_a", "raw_a"))
	g.AddPipeline(derivedSpec("clean_b", "raw_b"))
	g.AddPipeline(derivedSpec("joined", "clean_a"))
	_ = g.AddDependency("raw_a", "clean_a")
	_ = g.AddDependency("raw_b", "clean_b")
	_ = g.AddDependency("clean_a", "joined")
	_ = g.AddDependency("clean_b", "joined")

	levels, err := g.ExecutionLevels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{
		{"raw_a", "raw_b"},
		{"clean_a", "clean_b"},
		{"joined"},
	}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("expected levels %v, got %v", want, levels)
	}
}

func TestGraph_Affected(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("raw"))
	g.AddPipeline(derivedSpec("clean", "raw"))
	g.AddPipeline(derivedSpec("report", "clean"))
	g.AddPipeline(seedSpec("other"))
	_ = g.AddDependency("raw", "clean")
	_ = g.AddDependency("clean", "report")

	affected := g.Affected([]string{"clean"})
	want := []string{"clean", "report"}
	if !reflect.DeepEqual(affected, want) {
		t.Errorf("expected %v, got %v", want, affected)
	}

	// Unknown names are ignored
	affected = g.Affected([]string{"nope"})
	if len(affected) != 0 {
		t.Errorf("expected no affected pipelines, got %v", affected)
	}
}

func TestGraph_Upstream(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("raw"))
	g.AddPipeline(derivedSpec("clean", "raw"))
	g.AddPipeline(derivedSpec("report", "clean"))
	_ = g.AddDependency("raw", "clean")
	_ = g.AddDependency("clean", "report")

	upstream := g.Upstream("report")
	want := []string{"clean", "raw"}
	if !reflect.DeepEqual(upstream, want) {
		t.Errorf("expected %v, got %v", want, upstream)
	}

	if got := g.Upstream("raw"); len(got) != 0 {
		t.Errorf("expected no upstream for root, got %v", got)
	}
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("raw"))
	g.AddPipeline(derivedSpec("clean", "raw"))
	g.AddPipeline(derivedSpec("report", "clean"))
	_ = g.AddDependency("raw", "clean")
	_ = g.AddDependency("clean", "report")

	if roots := g.Roots(); !reflect.DeepEqual(roots, []string{"raw"}) {
		t.Errorf("unexpected roots: %v", roots)
	}
	if leaves := g.Leaves(); !reflect.DeepEqual(leaves, []string{"report"}) {
		t.Errorf("unexpected leaves: %v", leaves)
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := NewGraph()
	g.AddPipeline(seedSpec("raw"))
	g.AddPipeline(derivedSpec("clean", "raw"))
	g.AddPipeline(derivedSpec("report", "clean"))
	_ = g.AddDependency("raw", "clean")
	_ = g.AddDependency("clean", "report")

	sub := g.Subgraph([]string{"clean", "report"})

	if sub.NodeCount() != 2 {
		t.Errorf("expected 2 nodes, got %d", sub.NodeCount())
	}
	if sub.EdgeCount() != 1 {
		t.Errorf("expected 1 edge, got %d", sub.EdgeCount())
	}
	if _, exists := sub.Pipeline("raw"); exists {
		t.Error("raw should not be in the subgraph")
	}
}
