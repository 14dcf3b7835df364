// Package valueparser turns raw bytes fetched by the Secret Fetcher or the
// Config Resolver's location fetches into structured values.
package valueparser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Format names a supported parse format.
type Format string

const (
	FormatDotenv Format = "dotenv"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatText   Format = "text"
)

// FormatFromExtension maps a filename extension (without the leading dot)
// to a Format, for auto-detection against location strings and S3/file
// provider keys.
func FormatFromExtension(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "env":
		return FormatDotenv, true
	case "json":
		return FormatJSON, true
	case "yaml", "yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// FormatFromMIME maps a content-type hint (as returned by providers like
// S3's ContentType or AppConfig's ContentType) to a Format.
func FormatFromMIME(mime string) (Format, bool) {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	switch mime {
	case "application/json":
		return FormatJSON, true
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return FormatYAML, true
	case "text/x-dotenv", "application/dotenv":
		return FormatDotenv, true
	case "text/plain":
		return FormatText, true
	default:
		return "", false
	}
}

// Parse parses raw bytes according to format. dotenv yields a flat
// map[string]any of string values; json/yaml yield arbitrary structured
// values (map[string]any, []any, or scalars); text yields the unmodified
// string.
func Parse(data []byte, format Format) (any, error) {
	switch format {
	case FormatDotenv:
		return parseDotenv(data)
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatText:
		return string(data), nil
	default:
		return nil, fmt.Errorf("valueparser: unsupported format %q", format)
	}
}

// Marshal is the inverse of Parse for formats where round-tripping is
// meaningful. Parsing then serializing a dotenv round-trips fields whose
// values contain no control characters.
func Marshal(v any, format Format) ([]byte, error) {
	switch format {
	case FormatDotenv:
		return marshalDotenv(v)
	case FormatJSON:
		return marshalJSON(v)
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("valueparser: text format requires a string value, got %T", v)
		}
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("valueparser: unsupported format %q", format)
	}
}

func parseDotenv(data []byte) (any, error) {
	pairs, err := gotenv.StrictParse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("valueparser: parsing dotenv: %w", err)
	}
	out := make(map[string]any, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	return out, nil
}

func marshalDotenv(v any) ([]byte, error) {
	m, ok := toStringMap(v)
	if !ok {
		return nil, fmt.Errorf("valueparser: dotenv marshal requires a flat string map, got %T", v)
	}
	s, err := gotenv.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("valueparser: marshaling dotenv: %w", err)
	}
	return []byte(s), nil
}

func toStringMap(v any) (map[string]string, bool) {
	switch m := v.(type) {
	case map[string]string:
		return m, true
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			s, ok := val.(string)
			if !ok {
				return nil, false
			}
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// No map[interface{}]interface{} normalization is done here: yaml.v3's
// Unmarshal into `any` already produces map[string]any.
