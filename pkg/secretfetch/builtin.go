package secretfetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// plainProvider returns its address as literal inline bytes.
type plainProvider struct{}

func (plainProvider) Fetch(_ context.Context, address string) ([]byte, string, error) {
	return []byte(address), "", nil
}

func (plainProvider) DefaultFormat() string { return "text" }

// envProvider reads another process environment variable by name.
type envProvider struct {
	lookup EnvLookup
}

type osEnvLookup struct{}

func (osEnvLookup) Getenv(key string) (string, bool) { return os.LookupEnv(key) }

func (p envProvider) Fetch(_ context.Context, address string) ([]byte, string, error) {
	v, ok := p.lookup.Getenv(address)
	if !ok {
		return nil, "", fmt.Errorf("secretfetch: environment variable %q is not set", address)
	}
	return []byte(v), "", nil
}

func (envProvider) DefaultFormat() string { return "text" }

// configProvider resolves a JSON-path reference into the config currently
// being assembled by the Config Resolver.
type configProvider struct {
	lookup ConfigLookup
}

func (p configProvider) Fetch(_ context.Context, address string) ([]byte, string, error) {
	if p.lookup == nil {
		return nil, "", fmt.Errorf("secretfetch: CONFIG provider used with no config lookup configured")
	}
	v, ok := p.lookup.LookupConfigPath(address)
	if !ok {
		return nil, "", fmt.Errorf("secretfetch: config path %q not found", address)
	}
	if s, ok := v.(string); ok {
		return []byte(s), "text/plain", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("secretfetch: marshaling config path %q: %w", address, err)
	}
	return b, "application/json", nil
}

func (configProvider) DefaultFormat() string { return "json" }

// fileProvider reads a local filesystem path, via afero so tests can
// substitute an in-memory filesystem.
type fileProvider struct {
	fs afero.Fs
}

func (p fileProvider) Fetch(_ context.Context, address string) ([]byte, string, error) {
	data, err := afero.ReadFile(p.fs, address)
	if err != nil {
		return nil, "", fmt.Errorf("secretfetch: reading file %q: %w", address, err)
	}
	return data, "", nil
}

func (fileProvider) DefaultFormat() string { return "text" }

// encodeBase64IfBinary handles values that do not parse as the chosen
// format: it yields the base-64 encoding of the raw bytes rather than
// failing outright. It encodes unconditionally; it does not check whether
// the bytes are binary or what type the caller expects.
func encodeBase64IfBinary(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
