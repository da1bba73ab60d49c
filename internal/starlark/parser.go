// This file contains static parsing functions that extract step function
// metadata without executing the file.

package starlark

import (
	"path/filepath"
	"strings"

	"go.starlark.net/syntax"
)

// ParsedFunction represents a function extracted from a .star file.
type ParsedFunction struct {
	Name      string   // Function name
	Args      []string // Argument names (with defaults like "x=None")
	Docstring string   // Docstring if present
	Line      int      // Line number for diagnostics
}

// ParsedModule represents a statically parsed .star file.
type ParsedModule struct {
	Namespace string // Namespace name (filename without .star)
	FilePath  string // Path to .star file
	Functions []*ParsedFunction
}

// ParseFile statically parses a .star file and extracts function metadata.
// This does NOT execute the file - it only analyzes the AST.
func ParseFile(filename string, content []byte) (*ParsedModule, error) {
	f, err := syntax.Parse(filename, content, 0)
	if err != nil {
		return nil, &ParseError{
			File:    filename,
			Message: err.Error(),
		}
	}

	mod := &ParsedModule{
		Namespace: strings.TrimSuffix(filepath.Base(filename), ".star"),
		FilePath:  filename,
	}

	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}

		// Skip private functions (start with _)
		if strings.HasPrefix(def.Name.Name, "_") {
			continue
		}

		fn := &ParsedFunction{
			Name: def.Name.Name,
			Line: int(def.Name.NamePos.Line),
			Args: extractArgs(def.Params),
		}

		fn.Docstring = extractDocstring(def.Body)

		mod.Functions = append(mod.Functions, fn)
	}

	return mod, nil
}

// Function returns the parsed function with the given name, or nil.
func (m *ParsedModule) Function(name string) *ParsedFunction {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// extractArgs converts syntax parameters to string representations.
func extractArgs(params []syntax.Expr) []string {
	var args []string
	for _, param := range params {
		switch p := param.(type) {
		case *syntax.Ident:
			// Simple parameter: def foo(x)
			args = append(args, p.Name)
		case *syntax.BinaryExpr:
			// Default parameter: def foo(x=1)
			if p.Op == syntax.EQ {
				if ident, ok := p.X.(*syntax.Ident); ok {
					args = append(args, ident.Name+"="+exprToString(p.Y))
				}
			}
		case *syntax.UnaryExpr:
			// *args or **kwargs
			if ident, ok := p.X.(*syntax.Ident); ok {
				prefix := ""
				if p.Op == syntax.STAR {
					prefix = "*"
				} else if p.Op == syntax.STARSTAR {
					prefix = "**"
				}
				args = append(args, prefix+ident.Name)
			}
		}
	}
	return args
}

// extractDocstring gets the docstring from function body if present.
func extractDocstring(body []syntax.Stmt) string {
	if len(body) == 0 {
		return ""
	}

	exprStmt, ok := body[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}

	lit, ok := exprStmt.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}

	s, ok := lit.Value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// exprToString converts a syntax expression to a string representation.
func exprToString(expr syntax.Expr) string {
	switch e := expr.(type) {
	case *syntax.Literal:
		return e.Raw
	case *syntax.Ident:
		return e.Name
	case *syntax.ListExpr:
		return "[]"
	case *syntax.DictExpr:
		return "{}"
	case *syntax.TupleExpr:
		return "()"
	case *syntax.UnaryExpr:
		if e.Op == syntax.MINUS {
			return "-" + exprToString(e.X)
		}
		return exprToString(e.X)
	default:
		return "..."
	}
}

// ParseError represents an error during static parsing.
type ParseError struct {
	File    string
	Message string
}

func (e *ParseError) Error() string {
	return "parse " + filepath.Base(e.File) + ": " + e.Message
}

// Signature returns a human-readable signature for a function.
func (f *ParsedFunction) Signature() string {
	return f.Name + "(" + strings.Join(f.Args, ", ") + ")"
}
