package valueparser

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

func parseJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("valueparser: parsing json: %w", err)
	}
	return v, nil
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("valueparser: marshaling json: %w", err)
	}
	return b, nil
}

func parseYAML(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("valueparser: parsing yaml: %w", err)
	}
	return normalizeYAML(v), nil
}

// normalizeYAML recursively copies the map[string]any / []any tree
// produced by yaml.v3 (it already uses string keys, unlike yaml.v2), so
// maps and lists have the Go types encoding/json produces and downstream
// code (JSON-Path extraction, merge strategies) can walk both formats
// alike. Scalars keep yaml.v3's types (integers stay int, not float64).
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return t
	}
}
