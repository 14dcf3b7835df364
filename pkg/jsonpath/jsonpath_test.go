package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileInvalid(t *testing.T) {
	tests := []string{"", "   ", "a[", "a[x]", "a[-1]"}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := Compile(expr)
			assert.Error(t, err)
		})
	}
}

func TestExtractRootIdentity(t *testing.T) {
	p, err := Compile("$")
	require.NoError(t, err)

	v := map[string]any{"a": 1}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestExtractDotPath(t *testing.T) {
	p, err := Compile("$.a.b")
	require.NoError(t, err)

	v := map[string]any{"a": map[string]any{"b": "value"}}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestExtractIndex(t *testing.T) {
	p, err := Compile("a[1]")
	require.NoError(t, err)

	v := map[string]any{"a": []any{"x", "y", "z"}}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, "y", got)
}

func TestExtractCollapsesSingleMatch(t *testing.T) {
	p, err := Compile("a.b")
	require.NoError(t, err)

	v := map[string]any{"a": map[string]any{"b": "only"}}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, "only", got)
}

func TestExtractWildcardNeverCollapses(t *testing.T) {
	p, err := Compile("a[*]")
	require.NoError(t, err)

	v := map[string]any{"a": []any{"solo"}}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, []any{"solo"}, got)
}

func TestExtractWildcardExpandsAllElements(t *testing.T) {
	p, err := Compile("a[*].name")
	require.NoError(t, err)

	v := map[string]any{
		"a": []any{
			map[string]any{"name": "first"},
			map[string]any{"name": "second"},
		},
	}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, []any{"first", "second"}, got)
}

func TestExtractNoMatchReturnsEmptyList(t *testing.T) {
	p, err := Compile("a.missing")
	require.NoError(t, err)

	v := map[string]any{"a": map[string]any{}}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, []any(nil), got)
}

func TestExtractIndexOutOfRange(t *testing.T) {
	p, err := Compile("a[5]")
	require.NoError(t, err)

	v := map[string]any{"a": []any{"x"}}
	got, err := p.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, []any(nil), got)
}
