package configresolver

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cast"
)

// projectEnv flattens rawEnv to a string map, honoring the
// existing-process-environment collision rule unless overwrite is set.
func projectEnv(rawEnv map[string]any, overwrite bool) map[string]string {
	out := make(map[string]string, len(rawEnv))
	for k, v := range rawEnv {
		if !overwrite {
			if _, exists := os.LookupEnv(k); exists {
				continue
			}
		}
		s, err := projectValue(v)
		if err != nil {
			continue
		}
		out[k] = s
	}
	return out
}

// projectValue implements the scalar/list/map/null projection rules:
// nil becomes the empty string, booleans become TRUE/FALSE, lists and
// maps are JSON-encoded, everything else is formatted as-is.
func projectValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return t, nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("configresolver: projecting value: %w", err)
		}
		return string(b), nil
	default:
		s, err := cast.ToStringE(t)
		if err != nil {
			return "", fmt.Errorf("configresolver: projecting value: %w", err)
		}
		return s, nil
	}
}
