package configresolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/tasksupervisor/pkg/secretfetch"
)

func TestResolveMergesConfigLocationsInOrder(t *testing.T) {
	fetcher := secretfetch.NewFetcher(secretfetch.Options{})
	r := New(fetcher)

	result, err := r.Resolve(t.Context(), Options{
		ConfigLocations: []string{
			`PLAIN:{"a":1,"b":1}!json`,
			`PLAIN:{"b":2}!json`,
		},
		MergeStrategy: MergeShallow,
		Now:           time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), result.Config["a"])
	assert.Equal(t, float64(2), result.Config["b"])
}

func TestResolveEnvLocationsProjectToStrings(t *testing.T) {
	fetcher := secretfetch.NewFetcher(secretfetch.Options{})
	r := New(fetcher)

	result, err := r.Resolve(t.Context(), Options{
		EnvLocations: []string{"PLAIN:FOO=bar\nBAZ=qux!dotenv"},
		Now:          time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "bar", result.Env["FOO"])
	assert.Equal(t, "qux", result.Env["BAZ"])
}

func TestResolveRecursivePassReplacesResolvableKeys(t *testing.T) {
	fetcher := secretfetch.NewFetcher(secretfetch.Options{})
	r := New(fetcher)

	result, err := r.Resolve(t.Context(), Options{
		ConfigLocations: []string{`PLAIN:{"password__location": "PLAIN:supersecret"}!json`},
		ResolvableSuffix: "__location",
		Now:              time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "supersecret", result.Config["password"])
	_, stillPresent := result.Config["password__location"]
	assert.False(t, stillPresent)
}

func TestResolveWithNoResolvableMarkersIsANoOp(t *testing.T) {
	fetcher := secretfetch.NewFetcher(secretfetch.Options{})
	r := New(fetcher)

	result, err := r.Resolve(t.Context(), Options{
		ConfigLocations: []string{`PLAIN:{"password__location": "PLAIN:supersecret"}!json`},
		Now:             time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "PLAIN:supersecret", result.Config["password__location"])
}

func TestResolveFailFastStopsOnFirstError(t *testing.T) {
	fetcher := secretfetch.NewFetcher(secretfetch.Options{})
	r := New(fetcher)

	_, err := r.Resolve(t.Context(), Options{
		ConfigLocations: []string{`ENV:DOES_NOT_EXIST_12345`},
		FailFast:        true,
		Now:             time.Now(),
	})
	assert.Error(t, err)
}

func TestResolveConfigPropertyNameForEnvEmbedsEnvInConfig(t *testing.T) {
	fetcher := secretfetch.NewFetcher(secretfetch.Options{})
	r := New(fetcher)

	result, err := r.Resolve(t.Context(), Options{
		EnvLocations:             []string{`PLAIN:FOO=bar!dotenv`},
		ConfigPropertyNameForEnv: "resolved_env",
		Now:                      time.Now(),
	})
	require.NoError(t, err)
	embedded, ok := result.Config["resolved_env"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bar", embedded["FOO"])
}
