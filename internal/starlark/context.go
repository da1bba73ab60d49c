// Package starlark evaluates user step expressions and step functions.
//
// Pipelines reference Starlark in two forms: inline expressions on derive
// and filter steps, and named functions exported by .star files in the
// steps directory. Both run against an ExecutionContext that holds the
// shared globals (environment string, math module, loaded step namespaces)
// with the current row injected as a local per evaluation.
package starlark

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leapstack-labs/leaptrace/pkg/table"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
)

// ExecutionContext provides all globals and state for step evaluation.
// Module exports are frozen at load time, so a single context is safe for
// concurrent per-row evaluation.
type ExecutionContext struct {
	// Env is the current environment string
	// Values: "prod", "dev", "staging", etc.
	Env string

	// Namespaces contains loaded step modules
	// Each key is a namespace (e.g., "metrics") with a struct of functions
	Namespaces starlark.StringDict

	// globals is the combined set of all globals for execution
	globals starlark.StringDict

	// mu protects globals during initialization
	mu sync.RWMutex
}

// ContextOption is a functional option for configuring ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithNamespaces sets the step namespaces for the context.
func WithNamespaces(namespaces starlark.StringDict) ContextOption {
	return func(ec *ExecutionContext) {
		for name, ns := range namespaces {
			ec.Namespaces[name] = ns
		}
	}
}

// WithModules sets namespaces from loader output.
// This is the preferred way to inject functions loaded from .star files.
func WithModules(modules []*Module) ContextOption {
	return func(ec *ExecutionContext) {
		for _, mod := range modules {
			ec.Namespaces[mod.Namespace] = mod.Struct()
		}
	}
}

// NewContext creates a new execution context with functional options.
// Returns an error if a namespace shadows a builtin name.
func NewContext(env string, opts ...ContextOption) (*ExecutionContext, error) {
	ec := &ExecutionContext{
		Env:        env,
		Namespaces: make(starlark.StringDict),
	}

	for _, opt := range opts {
		opt(ec)
	}

	for name := range ec.Namespaces {
		if builtins[name] {
			return nil, fmt.Errorf("step namespace %q conflicts with builtin", name)
		}
	}

	ec.buildGlobals()
	return ec, nil
}

// builtins are reserved names a step namespace cannot shadow.
var builtins = map[string]bool{
	"env":  true,
	"math": true,
	"row":  true,
}

// buildGlobals constructs the combined globals dict.
func (ec *ExecutionContext) buildGlobals() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.globals = starlark.StringDict{
		"env":  starlark.String(ec.Env),
		"math": starlarkmath.Module,
	}

	for name, ns := range ec.Namespaces {
		ec.globals[name] = ns
	}
}

// Globals returns the combined globals dictionary for Starlark execution.
func (ec *ExecutionContext) Globals() starlark.StringDict {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.globals
}

// Resolve looks up a loaded step function by its qualified "namespace.name".
func (ec *ExecutionContext) Resolve(qualified string) (starlark.Callable, error) {
	ns, fn, ok := splitQualified(qualified)
	if !ok {
		return nil, fmt.Errorf("function reference %q must be of the form namespace.function", qualified)
	}

	ec.mu.RLock()
	defer ec.mu.RUnlock()

	val, ok := ec.Namespaces[ns]
	if !ok {
		return nil, fmt.Errorf("unknown step namespace %q", ns)
	}
	attrs, ok := val.(starlark.HasAttrs)
	if !ok {
		return nil, fmt.Errorf("step namespace %q has no attributes", ns)
	}
	attr, err := attrs.Attr(fn)
	if err != nil || attr == nil {
		return nil, fmt.Errorf("function %q not found in namespace %q", fn, ns)
	}
	callable, ok := attr.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s.%s is a %s, not a function", ns, fn, attr.Type())
	}
	return callable, nil
}

func splitQualified(qualified string) (ns, fn string, ok bool) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			ns, fn = qualified[:i], qualified[i+1:]
			return ns, fn, ns != "" && fn != ""
		}
	}
	return "", "", false
}

// EvalRowExpr evaluates an expression with the row's columns bound as `row`.
// filename names the evaluation site in error messages, typically
// "pipeline:step". Cancelling goCtx interrupts the evaluation.
func (ec *ExecutionContext) EvalRowExpr(goCtx context.Context, expr string, filename string, row table.Row) (starlark.Value, error) {
	dict, err := rowToDict(row)
	if err != nil {
		return nil, &EvalError{File: filename, Expr: expr, Message: err.Error()}
	}
	return ec.evalExpr(goCtx, expr, filename, starlark.StringDict{"row": dict})
}

// evalExpr evaluates a Starlark expression with additional local variables.
// Locals take precedence over globals.
func (ec *ExecutionContext) evalExpr(goCtx context.Context, expr string, filename string, locals starlark.StringDict) (starlark.Value, error) {
	thread := ec.newThread(filename)
	stop := cancelOnDone(goCtx, thread)
	defer stop()

	globals := ec.Globals()
	if len(locals) > 0 {
		combined := make(starlark.StringDict, len(globals)+len(locals))
		for k, v := range globals {
			combined[k] = v
		}
		for k, v := range locals {
			combined[k] = v
		}
		globals = combined
	}

	result, err := starlark.Eval(thread, filename, expr, globals) //nolint:staticcheck // SA1019: will migrate to EvalOptions later
	if err != nil {
		return nil, newEvalError(filename, expr, goCtx, err)
	}

	return result, nil
}

// Call invokes a Starlark callable, typically a function exported by a
// loaded step module. Cancelling goCtx interrupts the call.
func (ec *ExecutionContext) Call(goCtx context.Context, filename string, fn starlark.Callable, args starlark.Tuple) (starlark.Value, error) {
	thread := ec.newThread(filename)
	stop := cancelOnDone(goCtx, thread)
	defer stop()

	result, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, newEvalError(filename, fn.Name()+"(row)", goCtx, err)
	}
	return result, nil
}

// newThread creates a new Starlark thread for execution.
func (ec *ExecutionContext) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, _ string) {
			// Step execution should not print - this is a no-op
		},
	}
}

// cancelOnDone cancels the thread when goCtx expires, so a runaway loop in
// step code is interrupted at its next iteration. The returned stop
// function releases the watcher and must always be called.
func cancelOnDone(goCtx context.Context, thread *starlark.Thread) (stop func()) {
	if goCtx == nil || goCtx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-goCtx.Done():
			thread.Cancel(goCtx.Err().Error())
		case <-done:
		}
	}()
	return func() { close(done) }
}

// EvalError represents an error during Starlark expression evaluation.
type EvalError struct {
	File    string
	Line    int
	Expr    string
	Message string

	// Cause is set when the evaluation was interrupted by the Go context,
	// e.g. a step deadline.
	Cause error
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: error evaluating %q: %s", e.File, e.Line, e.Expr, e.Message)
	}
	return fmt.Sprintf("%s: error evaluating %q: %s", e.File, e.Expr, e.Message)
}

func (e *EvalError) Unwrap() error {
	return e.Cause
}

func newEvalError(filename, expr string, goCtx context.Context, err error) *EvalError {
	ee := &EvalError{File: filename, Expr: expr, Message: err.Error()}

	var stErr *starlark.EvalError
	if errors.As(err, &stErr) {
		// Prefer the bare message over the full backtrace; expressions
		// are one-liners and the trace just repeats the filename.
		ee.Message = stErr.Msg
	}
	if goCtx != nil && goCtx.Err() != nil {
		ee.Cause = goCtx.Err()
	}
	return ee
}
