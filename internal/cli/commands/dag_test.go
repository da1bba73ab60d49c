package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/internal/dag"
	"github.com/leapstack-labs/leaptrace/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestGraph(t *testing.T) *dag.Graph {
	t.Helper()

	specs := []*pipeline.Spec{
		{Name: "raw_orders", Input: pipeline.InputSpec{Seed: "orders"}},
		{Name: "order_tags", Input: pipeline.InputSpec{Seed: "orders"}},
		{Name: "revenue", Input: pipeline.InputSpec{Pipeline: "raw_orders"}},
	}

	g, err := dag.Build(specs)
	require.NoError(t, err)
	return g
}

func TestInputDescriptor(t *testing.T) {
	g := buildTestGraph(t)

	assert.Equal(t, "seed:orders", inputDescriptor(g, "raw_orders"))
	assert.Equal(t, "pipeline:raw_orders", inputDescriptor(g, "revenue"))
	assert.Equal(t, "", inputDescriptor(g, "missing"))
}

func TestDAGMarkdown(t *testing.T) {
	g := buildTestGraph(t)
	levels, err := g.ExecutionLevels()
	require.NoError(t, err)
	require.Len(t, levels, 2)

	buf := new(bytes.Buffer)
	r := output.NewRendererWithTTY(buf, buf, false, output.ModeMarkdown)

	require.NoError(t, dagMarkdown(r, g, levels))

	out := buf.String()
	assert.Contains(t, out, "## Level 0 (Sources)")
	assert.Contains(t, out, "## Level 1")
	assert.Contains(t, out, "- raw_orders")
	assert.Contains(t, out, "  - reads: seed:orders")
	assert.Contains(t, out, "  - used by: revenue")
	assert.Contains(t, out, "  - depends on: raw_orders")
	assert.Contains(t, out, "- **Total Pipelines**: 3")
	assert.Contains(t, out, "- **Total Dependencies**: 1")
}

func TestDAGJSON(t *testing.T) {
	g := buildTestGraph(t)
	levels, err := g.ExecutionLevels()
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	r := output.NewRendererWithTTY(buf, buf, false, output.ModeJSON)

	require.NoError(t, dagJSON(r, g, levels))

	var got output.DAGOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, 3, got.TotalPipelines)
	assert.Equal(t, 1, got.TotalEdges)
	require.Len(t, got.Levels, 2)

	// Level 0 is sorted by name
	require.Len(t, got.Levels[0].Pipelines, 2)
	assert.Equal(t, "order_tags", got.Levels[0].Pipelines[0].Name)
	assert.Equal(t, "raw_orders", got.Levels[0].Pipelines[1].Name)
	assert.Equal(t, "seed:orders", got.Levels[0].Pipelines[1].Input)

	require.Len(t, got.Levels[1].Pipelines, 1)
	assert.Equal(t, "revenue", got.Levels[1].Pipelines[0].Name)
	assert.Equal(t, []string{"raw_orders"}, got.Levels[1].Pipelines[0].DependsOn)
}

func TestDAGText(t *testing.T) {
	g := buildTestGraph(t)
	levels, err := g.ExecutionLevels()
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	r := output.NewRendererWithTTY(buf, buf, false, output.ModeText)

	require.NoError(t, dagText(r, g, levels))

	out := buf.String()
	assert.Contains(t, out, "Level 0:")
	assert.Contains(t, out, "raw_orders")
	assert.Contains(t, out, "reads: seed:orders")
	assert.Contains(t, out, "Total: 3 pipelines, 1 dependencies")
}
