package secretfetch

import "context"

// Provider is the small capability interface every secret-fetching
// adapter implements: fetch raw bytes at an address, and report a
// default parse format.
type Provider interface {
	// Fetch returns the raw bytes at address, plus an optional
	// content-type hint (e.g. an S3 ContentType or AppConfig
	// Content-Type header) used for format auto-detection.
	Fetch(ctx context.Context, address string) (data []byte, contentType string, err error)

	// DefaultFormat is the format assumed when neither an explicit
	// "!FORMAT" suffix nor a content-type hint resolves one.
	DefaultFormat() string
}

// ConfigLookup is implemented by the Config Resolver so the CONFIG
// provider can resolve a JSON-path reference into the config map
// currently being assembled, without secretfetch importing configresolver
// (which itself depends on secretfetch).
type ConfigLookup interface {
	LookupConfigPath(path string) (any, bool)
}

// EnvLookup abstracts os.Getenv for the ENV provider, so tests can supply
// a fixed environment without mutating the process's real one.
type EnvLookup interface {
	Getenv(key string) (string, bool)
}
