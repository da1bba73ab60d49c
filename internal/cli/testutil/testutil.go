// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/leaptrace/internal/cli/output"
)

// SetupTestProject creates a temporary project with a working pipeline,
// seed data, and a step module. The state database lives inside the
// project so tests stay isolated.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	for _, dir := range []string{"pipelines", "steps", "seeds"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, dir), 0750); err != nil {
			t.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	config := `pipelines_dir: pipelines
steps_dir: steps
seeds_dir: seeds
target_dir: target
state_path: .leaptrace/state.db
environment: dev
workers: 2
`
	if err := os.WriteFile(filepath.Join(tmpDir, "leaptrace.yaml"), []byte(config), 0600); err != nil {
		t.Fatalf("failed to create leaptrace.yaml: %v", err)
	}

	pipeline := `name: clean_orders
input:
  seed: orders.csv
output:
  format: csv
steps:
  - name: total
    kind: derive
    requires: [amount, quantity]
    adds: total
    expr: row["amount"] * row["quantity"]

  - name: paid_only
    kind: filter
    expr: row["status"] == "paid"
    reason: order not paid

  - name: flag
    kind: apply
    function: metrics.flag_high
`
	if err := os.WriteFile(filepath.Join(tmpDir, "pipelines", "clean_orders.yaml"),
		[]byte(pipeline), 0600); err != nil {
		t.Fatalf("failed to create clean_orders.yaml: %v", err)
	}

	seed := `id,customer,amount,quantity,status
1001,acme,120.50,2,paid
1002,globex,75.00,1,paid
1003,initech,42.00,3,pending`
	if err := os.WriteFile(filepath.Join(tmpDir, "seeds", "orders.csv"),
		[]byte(seed), 0600); err != nil {
		t.Fatalf("failed to create orders.csv: %v", err)
	}

	module := `def flag_high(row):
    return {"high_value": row["total"] >= 100}
`
	if err := os.WriteFile(filepath.Join(tmpDir, "steps", "metrics.star"),
		[]byte(module), 0600); err != nil {
		t.Fatalf("failed to create metrics.star: %v", err)
	}

	return tmpDir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererAuto creates a new test renderer with auto mode detection.
// In tests, non-TTY defaults to markdown output.
func NewTestRendererAuto() *TestRenderer {
	return NewTestRenderer(output.ModeAuto, false)
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the combined stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// Reset clears both output buffers.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}

// AssertNotContains checks that the string does not contain the substring.
func AssertNotContains(t *testing.T, s, unexpected string) {
	t.Helper()
	if strings.Contains(s, unexpected) {
		t.Errorf("string %q unexpectedly contains %q", s, unexpected)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and basic structure.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	lines := strings.Split(md, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
