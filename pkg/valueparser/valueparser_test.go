package valueparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFromExtension(t *testing.T) {
	tests := []struct {
		ext    string
		want   Format
		wantOk bool
	}{
		{"env", FormatDotenv, true},
		{".env", FormatDotenv, true},
		{"json", FormatJSON, true},
		{"yaml", FormatYAML, true},
		{"yml", FormatYAML, true},
		{"YML", FormatYAML, true},
		{"txt", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, ok := FormatFromExtension(tt.ext)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFromMIME(t *testing.T) {
	tests := []struct {
		mime   string
		want   Format
		wantOk bool
	}{
		{"application/json", FormatJSON, true},
		{"application/json; charset=utf-8", FormatJSON, true},
		{"application/yaml", FormatYAML, true},
		{"text/x-yaml", FormatYAML, true},
		{"text/x-dotenv", FormatDotenv, true},
		{"text/plain", FormatText, true},
		{"application/octet-stream", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, ok := FormatFromMIME(tt.mime)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDotenv(t *testing.T) {
	v, err := Parse([]byte("FOO=bar\nBAZ=qux\n"), FormatDotenv)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bar", m["FOO"])
	assert.Equal(t, "qux", m["BAZ"])
}

func TestParseJSON(t *testing.T) {
	v, err := Parse([]byte(`{"a":1,"b":[1,2,3]}`), FormatJSON)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, m["b"])
}

func TestParseYAML(t *testing.T) {
	v, err := Parse([]byte("a: 1\nb:\n  - x\n  - y\n"), FormatYAML)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"x", "y"}, m["b"])
}

func TestParseText(t *testing.T) {
	v, err := Parse([]byte("hello"), FormatText)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestParseUnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte("x"), Format("xml"))
	assert.Error(t, err)
}

func TestMarshalDotenvRoundTrip(t *testing.T) {
	in := map[string]any{"FOO": "bar"}
	data, err := Marshal(in, FormatDotenv)
	require.NoError(t, err)

	out, err := Parse(data, FormatDotenv)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMarshalDotenvRejectsNonFlatMap(t *testing.T) {
	_, err := Marshal(map[string]any{"FOO": []any{"bar"}}, FormatDotenv)
	assert.Error(t, err)
}

func TestMarshalJSONRoundTrip(t *testing.T) {
	in := map[string]any{"a": float64(1)}
	data, err := Marshal(in, FormatJSON)
	require.NoError(t, err)

	out, err := Parse(data, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMarshalTextRequiresString(t *testing.T) {
	_, err := Marshal(42, FormatText)
	assert.Error(t, err)

	data, err := Marshal("hello", FormatText)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
