// Package pipeline parses pipeline definition files and compiles their
// step lists into executable steps.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec represents a parsed pipeline definition.
// Unknown fields cause parse errors (use Meta for extensions).
type Spec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Input       InputSpec      `yaml:"input"`
	Output      OutputSpec     `yaml:"output"`
	Steps       []StepSpec     `yaml:"steps"`
	Meta        map[string]any `yaml:"meta"` // Extension point for custom fields

	// Path is the definition file this spec was loaded from.
	Path string `yaml:"-"`
}

// InputSpec names the pipeline's input: a seed file under seeds/, or the
// output of an upstream pipeline.
type InputSpec struct {
	Seed      string `yaml:"seed"`
	Pipeline  string `yaml:"pipeline"`
	ChunkSize int    `yaml:"chunk_size"`
}

// OutputSpec controls where the final table is written.
type OutputSpec struct {
	Format string `yaml:"format"` // csv, json
	Path   string `yaml:"path"`
}

// StepSpec is one entry of the steps list. Which fields apply depends on
// Kind; Validate rejects mismatched combinations.
type StepSpec struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Requires []string `yaml:"requires"`

	// derive
	Adds string `yaml:"adds"`

	// derive, filter
	Expr string `yaml:"expr"`

	// apply, filter (function-backed)
	Function string `yaml:"function"`

	// filter: recorded as the removal reason for dropped rows
	Reason string `yaml:"reason"`

	// derive, apply: fallback columns merged when the step fails on a row
	OnError map[string]any `yaml:"on_error"`

	// validate
	Schema map[string]string `yaml:"schema"`
	Rules  []RuleSpec        `yaml:"rules"`

	// aggregate
	GroupBy     []string          `yaml:"group_by"`
	Aggregate   map[string]string `yaml:"aggregate"`
	CountColumn string            `yaml:"count_column"`

	// explode
	Column string `yaml:"column"`

	// sort
	By     []string `yaml:"by"`
	Desc   bool     `yaml:"desc"`
	Locale string   `yaml:"locale"`
}

// RuleSpec is one value rule of a validate step.
type RuleSpec struct {
	Column  string   `yaml:"column"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	OneOf   []string `yaml:"one_of"`
	Matches string   `yaml:"matches"`
}

// Step kinds.
const (
	KindDerive    = "derive"
	KindFilter    = "filter"
	KindApply     = "apply"
	KindValidate  = "validate"
	KindAggregate = "aggregate"
	KindExplode   = "explode"
	KindSort      = "sort"
)

var validKinds = map[string]bool{
	KindDerive:    true,
	KindFilter:    true,
	KindApply:     true,
	KindValidate:  true,
	KindAggregate: true,
	KindExplode:   true,
	KindSort:      true,
}

// Load reads and parses a single pipeline definition file.
func Load(path string) (*Spec, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from scanning the pipelines directory
	if err != nil {
		return nil, &ParseError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
	}

	spec, err := Parse(content)
	if err != nil {
		switch e := err.(type) {
		case *ParseError:
			e.File = path
		case *UnknownFieldError:
			e.File = path
		}
		return nil, err
	}

	spec.Path = path
	if spec.Name == "" {
		base := filepath.Base(path)
		spec.Name = strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	}
	return spec, nil
}

// LoadDir loads every pipeline definition under dir, sorted by name.
// A missing directory yields no pipelines.
func LoadDir(dir string) ([]*Spec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access pipelines directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pipelines path is not a directory: %s", dir)
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matched, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipelines directory: %w", err)
		}
		paths = append(paths, matched...)
	}

	specs := make([]*Spec, 0, len(paths))
	seen := make(map[string]string)
	for _, path := range paths {
		spec, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[spec.Name]; dup {
			return nil, &ParseError{
				File:    path,
				Message: fmt.Sprintf("pipeline %q already defined in %s", spec.Name, prev),
			}
		}
		seen[spec.Name] = path
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// Parse parses pipeline YAML with strict field validation.
func Parse(content []byte) (*Spec, error) {
	// First, decode into a map to check for unknown fields
	var rawMap map[string]any
	if err := yaml.Unmarshal(content, &rawMap); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	if err := checkKnownFields(rawMap); err != nil {
		return nil, err
	}

	// Now decode into the struct
	var spec Spec
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("failed to parse pipeline: %v", err)}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &spec, nil
}

var knownFields = map[string]bool{
	"name":        true,
	"description": true,
	"input":       true,
	"output":      true,
	"steps":       true,
	"meta":        true,
}

var knownInputFields = map[string]bool{
	"seed":       true,
	"pipeline":   true,
	"chunk_size": true,
}

var knownOutputFields = map[string]bool{
	"format": true,
	"path":   true,
}

var knownStepFields = map[string]bool{
	"name":         true,
	"kind":         true,
	"requires":     true,
	"adds":         true,
	"expr":         true,
	"function":     true,
	"reason":       true,
	"on_error":     true,
	"schema":       true,
	"rules":        true,
	"group_by":     true,
	"aggregate":    true,
	"count_column": true,
	"column":       true,
	"by":           true,
	"desc":         true,
	"locale":       true,
}

func checkKnownFields(rawMap map[string]any) error {
	for field := range rawMap {
		if !knownFields[field] {
			return &UnknownFieldError{Field: field}
		}
	}

	if input, ok := rawMap["input"].(map[string]any); ok {
		for field := range input {
			if !knownInputFields[field] {
				return &UnknownFieldError{Field: field, Section: "input"}
			}
		}
	}

	if output, ok := rawMap["output"].(map[string]any); ok {
		for field := range output {
			if !knownOutputFields[field] {
				return &UnknownFieldError{Field: field, Section: "output"}
			}
		}
	}

	steps, _ := rawMap["steps"].([]any)
	for i, raw := range steps {
		stepMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		section := fmt.Sprintf("steps[%d]", i)
		if name, ok := stepMap["name"].(string); ok && name != "" {
			section = fmt.Sprintf("step %q", name)
		}
		for field := range stepMap {
			if !knownStepFields[field] {
				return &UnknownFieldError{Field: field, Section: section}
			}
		}
	}

	return nil
}

// Validate checks the spec's structural rules: step names and kinds, the
// per-kind field combinations, and the input declaration.
func (s *Spec) Validate() error {
	if s.Input.Seed != "" && s.Input.Pipeline != "" {
		return s.errorf("input declares both seed and pipeline, pick one")
	}
	if s.Input.Seed == "" && s.Input.Pipeline == "" {
		return s.errorf("input must declare a seed or an upstream pipeline")
	}
	if s.Input.ChunkSize < 0 {
		return s.errorf("input chunk_size cannot be negative")
	}

	switch s.Output.Format {
	case "", "csv", "json":
	default:
		return s.errorf("invalid output format: %q, must be one of: csv, json", s.Output.Format)
	}

	names := make(map[string]bool, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Name == "" {
			return s.errorf("steps[%d] has no name", i)
		}
		if names[st.Name] {
			return s.errorf("duplicate step name %q", st.Name)
		}
		names[st.Name] = true

		if !validKinds[st.Kind] {
			return s.errorf("step %q: invalid kind %q, must be one of: derive, filter, apply, validate, aggregate, explode, sort", st.Name, st.Kind)
		}

		if err := st.validateFields(); err != nil {
			return s.errorf("step %q: %v", st.Name, err)
		}
	}

	return nil
}

func (st *StepSpec) validateFields() error {
	switch st.Kind {
	case KindDerive:
		if st.Expr == "" {
			return fmt.Errorf("derive needs expr")
		}
		if st.Adds == "" {
			return fmt.Errorf("derive needs adds")
		}

	case KindFilter:
		if st.Expr == "" && st.Function == "" {
			return fmt.Errorf("filter needs expr or function")
		}
		if st.Expr != "" && st.Function != "" {
			return fmt.Errorf("filter declares both expr and function, pick one")
		}

	case KindApply:
		if st.Function == "" {
			return fmt.Errorf("apply needs function")
		}

	case KindValidate:
		if len(st.Schema) == 0 && len(st.Rules) == 0 {
			return fmt.Errorf("validate needs a schema or rules")
		}

	case KindAggregate:
		if len(st.GroupBy) == 0 {
			return fmt.Errorf("aggregate needs group_by")
		}
		if len(st.Aggregate) == 0 && st.CountColumn == "" {
			return fmt.Errorf("aggregate needs aggregated columns or count_column")
		}

	case KindExplode:
		if st.Column == "" {
			return fmt.Errorf("explode needs column")
		}

	case KindSort:
		if len(st.By) == 0 {
			return fmt.Errorf("sort needs by")
		}
	}

	return nil
}

func (s *Spec) errorf(format string, args ...any) error {
	return &ParseError{File: s.Path, Message: fmt.Sprintf(format, args...)}
}

// DependsOn returns the upstream pipeline this spec reads from, if any.
func (s *Spec) DependsOn() string {
	return s.Input.Pipeline
}

// OutputPath returns the configured output path, defaulting to
// "<name>.<format>".
func (s *Spec) OutputPath() string {
	if s.Output.Path != "" {
		return s.Output.Path
	}
	format := s.Output.Format
	if format == "" {
		format = "csv"
	}
	return s.Name + "." + format
}

// OutputFormat returns the configured output format, inferring it from the
// path extension when absent.
func (s *Spec) OutputFormat() string {
	if s.Output.Format != "" {
		return s.Output.Format
	}
	if ext := strings.TrimPrefix(filepath.Ext(s.Output.Path), "."); ext == "json" {
		return "json"
	}
	return "csv"
}

// ParseError represents a pipeline definition parsing error.
type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		if e.Line > 0 {
			return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError represents an error for unknown definition fields.
type UnknownFieldError struct {
	File    string
	Field   string
	Section string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown field %q, use \"meta\" field for custom fields", e.Field)
	if e.Section != "" {
		msg = fmt.Sprintf("unknown field %q in %s", e.Field, e.Section)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, msg)
	}
	return msg
}
