package secretfetch

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfigLookup map[string]any

func (f fakeConfigLookup) LookupConfigPath(path string) (any, bool) {
	v, ok := f[path]
	return v, ok
}

type fakeEnvLookup map[string]string

func (f fakeEnvLookup) Getenv(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func TestFetcherResolvePlain(t *testing.T) {
	f := NewFetcher(Options{})
	v, err := f.Resolve(t.Context(), "PLAIN:hello", KindEnvLocation, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestFetcherResolveEnv(t *testing.T) {
	f := NewFetcher(Options{EnvLookup: fakeEnvLookup{"MY_VAR": "secret-value"}})
	v, err := f.Resolve(t.Context(), "ENV:MY_VAR", KindEnvLocation, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "secret-value", v)
}

func TestFetcherResolveEnvMissingIsError(t *testing.T) {
	f := NewFetcher(Options{EnvLookup: fakeEnvLookup{}})
	_, err := f.Resolve(t.Context(), "ENV:MISSING", KindEnvLocation, time.Now())
	assert.Error(t, err)
}

func TestFetcherResolveFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/secret.json", []byte(`{"k":"v"}`), 0o644))

	f := NewFetcher(Options{FS: fs})
	v, err := f.Resolve(t.Context(), "FILE:/etc/secret.json", KindConfigLocation, time.Now())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, v)
}

func TestFetcherResolveConfigWithJSONPath(t *testing.T) {
	f := NewFetcher(Options{ConfigLookup: fakeConfigLookup{
		"db": map[string]any{"password": "topsecret"},
	}})
	v, err := f.Resolve(t.Context(), "CONFIG:db|JP:$.password", KindConfigLocation, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "topsecret", v)
}

func TestFetcherResolveConfigNoLookupConfigured(t *testing.T) {
	f := NewFetcher(Options{})
	_, err := f.Resolve(t.Context(), "CONFIG:db.password", KindConfigLocation, time.Now())
	assert.Error(t, err)
}

func TestFetcherSetConfigLookupRebinds(t *testing.T) {
	f := NewFetcher(Options{})
	f.SetConfigLookup(fakeConfigLookup{"a": "b"})

	v, err := f.Resolve(t.Context(), "CONFIG:a", KindConfigLocation, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestFetcherCachesRawFetchAcrossResolves(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/value.txt", []byte("v1"), 0o644))

	f := NewFetcher(Options{FS: fs})
	now := time.Now()

	_, err := f.Resolve(t.Context(), "FILE:/etc/value.txt!text", KindConfigLocation, now)
	require.NoError(t, err)
	_, err = f.Resolve(t.Context(), "FILE:/etc/value.txt!text", KindConfigLocation, now)
	require.NoError(t, err)

	hits, misses := f.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestFetcherNoProviderRegisteredForUnknownCode(t *testing.T) {
	f := NewFetcher(Options{})
	delete(f.providers, ProviderFile)

	_, err := f.Resolve(t.Context(), "FILE:/etc/x", KindConfigLocation, time.Now())
	assert.Error(t, err)
}
