package secretfetch

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/spf13/afero"

	"github.com/taskrelay/tasksupervisor/pkg/jsonpath"
	"github.com/taskrelay/tasksupervisor/pkg/valueparser"
)

// Fetcher resolves secret location strings to parsed values, orchestrating
// provider dispatch, format detection, JSON-Path extraction, and the
// two-tier cache.
type Fetcher struct {
	providers map[ProviderCode]Provider
	cache     *cache
}

// Options configures a Fetcher's dependencies; EnvLookup and FS left nil
// fall back to real OS-backed implementations. A nil ConfigLookup makes
// CONFIG: locations fail until SetConfigLookup binds one.
type Options struct {
	ConfigLookup ConfigLookup
	EnvLookup    EnvLookup
	FS           afero.Fs
	AWSProviders map[ProviderCode]Provider
	CacheTTL     time.Duration
}

// NewFetcher wires the registry of built-in providers (PLAIN, ENV, CONFIG,
// FILE) plus any AWS-backed providers supplied by the caller (typically
// constructed via pkg/secretfetch/awsremote once an aws.Config is
// available).
func NewFetcher(opts Options) *Fetcher {
	env := opts.EnvLookup
	if env == nil {
		env = osEnvLookup{}
	}

	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	registry := map[ProviderCode]Provider{
		ProviderPlain:  plainProvider{},
		ProviderEnv:    envProvider{lookup: env},
		ProviderConfig: configProvider{lookup: opts.ConfigLookup},
		ProviderFile:   fileProvider{fs: fs},
	}
	for code, p := range opts.AWSProviders {
		registry[code] = p
	}

	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Fetcher{providers: registry, cache: newCache(ttl)}
}

// Resolve runs the resolution algorithm for a single location string:
// parse, fetch-or-cache the raw bytes, parse-or-cache the structured
// value, then apply a JSON-Path extraction if present.
func (f *Fetcher) Resolve(ctx context.Context, raw string, kind LocationKind, now time.Time) (any, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}

	provider, ok := f.providers[loc.Provider]
	if !ok {
		return nil, fmt.Errorf("secretfetch: no provider registered for %q", loc.Provider)
	}

	fetchKey := FetchKey{Provider: loc.Provider, Address: loc.Address}
	entry, cached := f.cache.getRaw(fetchKey, now)
	if !cached {
		data, contentType, err := provider.Fetch(ctx, loc.Address)
		if err != nil {
			return nil, fmt.Errorf("secretfetch: fetching %s: %w", loc.Raw, err)
		}
		entry = cachedEntry{rawBytes: data, contentType: contentType, fetchedAt: now}
		f.cache.putRaw(fetchKey, entry)
	}

	format := resolveFormat(loc, entry.contentType, provider, kind)
	parseKey := ParseKey{FetchKey: fetchKey, Format: format}
	value, cached := f.cache.getParsed(parseKey, now)
	if !cached {
		parsed, err := parseWithBinaryFallback(entry.rawBytes, format)
		if err != nil {
			return nil, fmt.Errorf("secretfetch: parsing %s as %s: %w", loc.Raw, format, err)
		}
		value = parsed
		f.cache.putParsed(parseKey, value, now)
	}

	if loc.JSONPath == "" {
		return value, nil
	}
	path, err := jsonpath.Compile(loc.JSONPath)
	if err != nil {
		return nil, fmt.Errorf("secretfetch: compiling JSON path %q: %w", loc.JSONPath, err)
	}
	return path.Extract(value)
}

// SetConfigLookup (re)binds the CONFIG provider's lookup target. The
// Config Resolver calls this once per run, after it has created the
// accumulating config map but before the recursive resolution pass, so
// CONFIG: locations can reference sibling keys resolved earlier in the
// same pass (maps are reference types, so later mutations to that same
// map remain visible through this binding).
func (f *Fetcher) SetConfigLookup(lookup ConfigLookup) {
	f.providers[ProviderConfig] = configProvider{lookup: lookup}
}

// Stats exposes cumulative cache hit/miss counters for tests asserting
// the fetch-count/TTL-expiration relationship.
func (f *Fetcher) Stats() (hits, misses int) { return f.cache.Stats() }

func resolveFormat(loc Location, contentType string, provider Provider, kind LocationKind) valueparser.Format {
	if loc.Format != "" {
		return loc.Format
	}
	if contentType != "" {
		if fmtFromMIME, ok := valueparser.FormatFromMIME(contentType); ok {
			return fmtFromMIME
		}
	}
	if loc.Provider == ProviderFile || loc.Provider == ProviderRemoteBlob {
		if fmtFromExt, ok := valueparser.FormatFromExtension(path.Ext(loc.Address)); ok {
			return fmtFromExt
		}
	}
	if provider.DefaultFormat() != "" {
		return valueparser.Format(provider.DefaultFormat())
	}
	return DefaultFormatFor(kind)
}

func parseWithBinaryFallback(raw []byte, format valueparser.Format) (any, error) {
	v, err := valueparser.Parse(raw, format)
	if err != nil {
		// A value that fails to parse as the chosen format falls back to
		// the base64 encoding of its raw bytes. This happens on every parse
		// failure; the type the caller expects is not consulted.
		return encodeBase64IfBinary(raw), nil
	}
	return v, nil
}
