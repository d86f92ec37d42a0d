// Package resolver parses and evaluates parameter formulas: a closed
// arithmetic grammar over identifiers, numeric literals, + - * / ** and
// parentheses, plus a caller-supplied set of builtin functions.
package resolver

import (
	"context"
	"fmt"
	"regexp"

	"github.com/PaesslerAG/gval"
)

// BuiltinFunc is a numeric function pluggable into the formula language. All
// arguments and the return value are float64; non-numeric arguments are
// rejected before fn is invoked.
type BuiltinFunc func(args ...float64) (float64, error)

// SymbolTable is the flat map of name -> numeric value (or nil, for a
// parameter whose amount has never been computed) a formula resolves
// identifiers against.
type SymbolTable map[string]interface{}

// Language builds the gval language used to parse and evaluate formulas.
func Language(builtins map[string]BuiltinFunc) gval.Language {
	exts := make([]gval.Language, 0, len(builtins)+1)
	exts = append(exts, gval.Arithmetic())
	for name, fn := range builtins {
		exts = append(exts, wrapBuiltin(name, fn))
	}
	return gval.NewLanguage(exts...)
}

func wrapBuiltin(name string, fn BuiltinFunc) gval.Language {
	return gval.Function(name, func(args ...interface{}) (interface{}, error) {
		floats := make([]float64, len(args))
		for i, a := range args {
			f, ok := toFloat(a)
			if !ok {
				return nil, fmt.Errorf("argument %d to %s() is not numeric", i, name)
			}
			floats[i] = f
		}
		return fn(floats...)
	})
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case nil:
		return 0, false
	default:
		return 0, false
	}
}

// identifierPattern matches bare identifiers in the closed arithmetic
// grammar: a leading letter or underscore, then letters, digits, underscores.
var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// FreeNames parses formula under lang (to surface syntax errors the same way
// Evaluate would) and returns the identifiers it references that are not
// bound to a builtin function call. gval's Evaluable exposes no variable
// inspector, so free names are found by tokenizing the formula directly: an
// identifier followed by "(" is a function call, anything else is a
// reference into the symbol table.
func FreeNames(lang gval.Language, formula string) ([]string, error) {
	if _, err := lang.NewEvaluable(formula); err != nil {
		return nil, fmt.Errorf("parse formula %q: %w", formula, err)
	}

	seen := map[string]struct{}{}
	var names []string
	for _, loc := range identifierPattern.FindAllStringIndex(formula, -1) {
		if isCallSite(formula, loc[1]) {
			continue
		}
		name := formula[loc[0]:loc[1]]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// isCallSite reports whether the identifier ending at idx is immediately
// (modulo whitespace) followed by "(", marking it as a function call rather
// than a free name.
func isCallSite(formula string, idx int) bool {
	for idx < len(formula) && formula[idx] == ' ' {
		idx++
	}
	return idx < len(formula) && formula[idx] == '('
}

// Evaluate parses and evaluates formula against symtab, returning the
// resulting float64. Division by zero, other non-finite results, and parse
// errors are not intercepted here; they propagate to the caller unchanged.
func Evaluate(lang gval.Language, formula string, symtab SymbolTable) (float64, error) {
	eval, err := lang.NewEvaluable(formula)
	if err != nil {
		return 0, fmt.Errorf("parse formula %q: %w", formula, err)
	}
	vars := make(map[string]interface{}, len(symtab))
	for k, v := range symtab {
		vars[k] = v
	}
	raw, err := eval(context.Background(), vars)
	if err != nil {
		return 0, fmt.Errorf("evaluate formula %q: %w", formula, err)
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("formula %q did not evaluate to a number (got %T)", formula, raw)
	}
	return f, nil
}
