package secretfetch

import (
	"fmt"
	"strings"

	"github.com/taskrelay/tasksupervisor/pkg/valueparser"
)

// ProviderCode names a Secret Fetcher provider.
type ProviderCode string

const (
	ProviderRemoteSecretStore    ProviderCode = "REMOTE_SECRET_STORE"
	ProviderRemoteParameterStore ProviderCode = "REMOTE_PARAMETER_STORE"
	ProviderRemoteAppConfig      ProviderCode = "REMOTE_APP_CONFIG"
	ProviderRemoteBlob           ProviderCode = "REMOTE_BLOB"
	ProviderFile                 ProviderCode = "FILE"
	ProviderEnv                  ProviderCode = "ENV"
	ProviderConfig               ProviderCode = "CONFIG"
	ProviderPlain                ProviderCode = "PLAIN"
)

// Location is the parsed form of a secret location string:
//
//	[PROVIDER:]<address>[!FORMAT][|JP:<path>]
//
// Identity for caching is the full original string; the fetch key is
// (Provider, Address); the parse key additionally includes Format.
type Location struct {
	Raw      string
	Provider ProviderCode
	Address  string
	Format   valueparser.Format // empty means "not explicit, auto-detect"
	JSONPath string             // empty means no extraction step
}

// FetchKey identifies the provider round-trip for caching purposes,
// independent of format/JSONPath.
type FetchKey struct {
	Provider ProviderCode
	Address  string
}

// ParseKey additionally distinguishes by parse format.
type ParseKey struct {
	FetchKey
	Format valueparser.Format
}

// ParseLocation parses a secret location string of the form
// [PROVIDER:]<address>[!FORMAT][|JP:<path>].
func ParseLocation(raw string) (Location, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Location{}, fmt.Errorf("secretfetch: empty location string")
	}

	loc := Location{Raw: raw}

	// Split off the trailing "|JP:<path>" suffix first; the path itself
	// may legitimately contain '!' or ':' characters we don't want to
	// misparse as format/provider separators.
	rest := s
	if idx := strings.LastIndex(rest, "|JP:"); idx >= 0 {
		loc.JSONPath = rest[idx+len("|JP:"):]
		rest = rest[:idx]
	}

	// Split off the trailing "!FORMAT" suffix.
	if idx := strings.LastIndex(rest, "!"); idx >= 0 {
		format := valueparser.Format(strings.ToLower(rest[idx+1:]))
		switch format {
		case valueparser.FormatDotenv, valueparser.FormatJSON, valueparser.FormatYAML, valueparser.FormatText:
			loc.Format = format
			rest = rest[:idx]
		}
	}

	provider, address, ok := splitExplicitProvider(rest)
	if ok && !strings.HasPrefix(rest, "file://") {
		loc.Provider = provider
		loc.Address = address
		return loc, nil
	}

	loc.Provider, loc.Address = detectProvider(rest)
	return loc, nil
}

var explicitProviderCodes = []ProviderCode{
	ProviderRemoteSecretStore, ProviderRemoteParameterStore, ProviderRemoteAppConfig,
	ProviderRemoteBlob, ProviderFile, ProviderEnv, ProviderConfig, ProviderPlain,
}

// splitExplicitProvider recognizes an explicit "PROVIDER:address" prefix
// where PROVIDER is one of the known codes.
func splitExplicitProvider(s string) (ProviderCode, string, bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", false
	}
	candidate := ProviderCode(strings.ToUpper(s[:idx]))
	for _, code := range explicitProviderCodes {
		if candidate == code {
			return code, s[idx+1:], true
		}
	}
	return "", "", false
}

// detectProvider applies the prefix auto-detect rules when no explicit
// "PROVIDER:" prefix is present.
func detectProvider(s string) (ProviderCode, string) {
	switch {
	case strings.HasPrefix(s, "arn:") && strings.Contains(s, ":secretsmanager:"):
		return ProviderRemoteSecretStore, s
	case strings.HasPrefix(s, "ssm:"):
		return ProviderRemoteParameterStore, strings.TrimPrefix(s, "ssm:")
	case strings.HasPrefix(s, "arn:") && strings.Contains(s, ":ssm:"):
		return ProviderRemoteParameterStore, s
	case strings.Contains(s, ":appconfig:"):
		return ProviderRemoteAppConfig, s
	case strings.HasPrefix(s, "arn:") && strings.Contains(s, ":s3:::"):
		return ProviderRemoteBlob, s
	case strings.HasPrefix(s, "file://"):
		return ProviderFile, strings.TrimPrefix(s, "file://")
	default:
		return ProviderFile, s
	}
}

// DefaultFormatFor returns the format to use when a location doesn't carry
// an explicit "!FORMAT", no MIME hint or extension resolved one, and the
// provider reports no default format of its own: the default is per
// location-kind.
func DefaultFormatFor(kind LocationKind) valueparser.Format {
	if kind == KindEnvLocation {
		return valueparser.FormatDotenv
	}
	return valueparser.FormatJSON
}

// LocationKind distinguishes an env-location from a config-location for
// default-format purposes.
type LocationKind int

const (
	KindEnvLocation LocationKind = iota
	KindConfigLocation
)
