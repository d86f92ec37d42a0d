package resolver_test

import (
	"testing"

	"github.com/brightway-tools/paramengine/domain/parameters/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateArithmetic(t *testing.T) {
	lang := resolver.Language(nil)
	v, err := resolver.Evaluate(lang, "2 * foo + 1", resolver.SymbolTable{"foo": 3.0})
	require.NoError(t, err)
	assert.InDelta(t, 7, v, 1e-9)
}

func TestEvaluatePower(t *testing.T) {
	lang := resolver.Language(nil)
	v, err := resolver.Evaluate(lang, "2**3", resolver.SymbolTable{})
	require.NoError(t, err)
	assert.InDelta(t, 8, v, 1e-9)
}

func TestFreeNames(t *testing.T) {
	lang := resolver.Language(nil)
	names, err := resolver.FreeNames(lang, "foo + bar * 2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names)
}

func TestBuiltinFunction(t *testing.T) {
	lang := resolver.Language(map[string]resolver.BuiltinFunc{
		"max2": func(args ...float64) (float64, error) {
			if args[0] > args[1] {
				return args[0], nil
			}
			return args[1], nil
		},
	})
	v, err := resolver.Evaluate(lang, "max2(foo, 10)", resolver.SymbolTable{"foo": 3.0})
	require.NoError(t, err)
	assert.InDelta(t, 10, v, 1e-9)
}

func TestFreeNamesExcludesBuiltinCallSites(t *testing.T) {
	lang := resolver.Language(map[string]resolver.BuiltinFunc{
		"max2": func(args ...float64) (float64, error) { return args[0], nil },
	})
	names, err := resolver.FreeNames(lang, "max2(foo, bar)")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names)
}

func TestEvaluateMissingNameErrors(t *testing.T) {
	lang := resolver.Language(nil)
	_, err := resolver.Evaluate(lang, "unknownVar + 1", resolver.SymbolTable{})
	require.Error(t, err)
}
