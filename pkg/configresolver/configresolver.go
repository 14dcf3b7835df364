// Package configresolver implements the Config Resolver: top-level
// fetch-and-merge of declared env/config locations, followed by a bounded
// recursive pass that replaces resolvable keys with secret-fetched values
// and projects the result to a flat environment map.
//
// Config locations are fetched and merged before env locations. Resolver
// settings themselves come only from Options and are never subject to
// resolution.
package configresolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskrelay/tasksupervisor/pkg/secretfetch"
)

// MergeStrategy selects how successive fetched mappings are combined.
type MergeStrategy string

const (
	MergeShallow           MergeStrategy = "SHALLOW"
	MergeDeep              MergeStrategy = "DEEP"
	MergeReplace           MergeStrategy = "REPLACE"
	MergeAdditive          MergeStrategy = "ADDITIVE"
	MergeTypesafeReplace   MergeStrategy = "TYPESAFE_REPLACE"
	MergeTypesafeAdditive  MergeStrategy = "TYPESAFE_ADDITIVE"
)

// Options configures one resolution run.
type Options struct {
	EnvLocations    []string
	ConfigLocations []string
	MergeStrategy   MergeStrategy

	// ResolvablePrefix/ResolvableSuffix mark a key as carrying a secret
	// location string to be replaced by its fetched value; at least one
	// must be non-empty for the resolution pass to do anything.
	ResolvablePrefix string
	ResolvableSuffix string

	MaxDepth      int
	MaxIterations int

	FailFast               bool
	OverwriteEnvDuringResolution bool

	EnvVarNameForConfig      string // if set, config JSON is exposed under this env var
	ConfigPropertyNameForEnv string // if set, env map is exposed under this config key

	Now time.Time
}

// Resolver performs top-level fetch/merge and recursive secret resolution.
type Resolver struct {
	fetcher *secretfetch.Fetcher
}

func New(fetcher *secretfetch.Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// Result is the Config Resolver's output.
type Result struct {
	Env    map[string]string
	Config map[string]any
}

// configSnapshot implements secretfetch.ConfigLookup against the config
// map accumulated so far, letting a CONFIG-provider location reference a
// sibling key resolved earlier in the same pass.
type configSnapshot struct {
	config map[string]any
}

func (s configSnapshot) LookupConfigPath(path string) (any, bool) {
	return lookupPath(s.config, path)
}

// Resolve fetches and merges env/config locations, then runs a bounded
// recursive resolution pass over config, then a depth-1 pass over env
// with projection.
func (r *Resolver) Resolve(ctx context.Context, opts Options) (Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	configFetches, err := r.fetchLocations(ctx, opts.ConfigLocations, secretfetch.KindConfigLocation, now, opts.FailFast)
	if err != nil {
		return Result{}, fmt.Errorf("configresolver: fetching config locations: %w", err)
	}
	config := map[string]any{}
	for i, v := range configFetches {
		loc := opts.ConfigLocations[i]
		if v.err != nil {
			continue
		}
		m, ok := v.value.(map[string]any)
		if !ok {
			if opts.FailFast {
				return Result{}, fmt.Errorf("configresolver: config location %q did not yield a mapping", loc)
			}
			continue
		}
		merged, err := merge(config, m, opts.MergeStrategy)
		if err != nil {
			if opts.FailFast {
				return Result{}, fmt.Errorf("configresolver: merging config location %q: %w", loc, err)
			}
			continue
		}
		config = merged
	}

	envFetches, err := r.fetchLocations(ctx, opts.EnvLocations, secretfetch.KindEnvLocation, now, opts.FailFast)
	if err != nil {
		return Result{}, fmt.Errorf("configresolver: fetching env locations: %w", err)
	}
	rawEnv := map[string]any{}
	for i, v := range envFetches {
		loc := opts.EnvLocations[i]
		if v.err != nil {
			continue
		}
		m, ok := toStringAnyMap(v.value)
		if !ok {
			if opts.FailFast {
				return Result{}, fmt.Errorf("configresolver: env location %q did not yield a mapping", loc)
			}
			continue
		}
		merged, err := merge(rawEnv, m, opts.MergeStrategy)
		if err != nil {
			if opts.FailFast {
				return Result{}, fmt.Errorf("configresolver: merging env location %q: %w", loc, err)
			}
			continue
		}
		rawEnv = merged
	}

	r.fetcher.SetConfigLookup(configSnapshot{config: config})

	for iteration := 0; iteration < maxIterations(opts.MaxIterations); iteration++ {
		changed, err := r.resolutionPass(ctx, config, opts, maxDepth(opts.MaxDepth), now)
		if err != nil {
			return Result{}, err
		}
		if !changed {
			break
		}
	}

	// env is flat on output: the resolution pass runs at depth 1 only.
	if _, err := r.resolutionPass(ctx, rawEnv, opts, 1, now); err != nil {
		return Result{}, err
	}

	env := projectEnv(rawEnv, opts.OverwriteEnvDuringResolution)

	if opts.EnvVarNameForConfig != "" {
		encoded, err := projectValue(config)
		if err == nil {
			env[opts.EnvVarNameForConfig] = encoded
		}
	}
	if opts.ConfigPropertyNameForEnv != "" {
		envAsAny := make(map[string]any, len(env))
		for k, v := range env {
			envAsAny[k] = v
		}
		config[opts.ConfigPropertyNameForEnv] = envAsAny
	}

	return Result{Env: env, Config: config}, nil
}

// locationFetch is one entry's fetch-or-error outcome.
type locationFetch struct {
	value any
	err   error
}

// fetchLocations resolves every location concurrently, preserving the
// input order in the returned slice so callers can still merge
// sequentially (merge order is semantically significant; fetching is
// not). When failFast is set, the first error cancels the remaining
// in-flight fetches.
func (r *Resolver) fetchLocations(ctx context.Context, locs []string, kind secretfetch.LocationKind, now time.Time, failFast bool) ([]locationFetch, error) {
	results := make([]locationFetch, len(locs))
	if len(locs) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, loc := range locs {
		i, loc := i, loc
		g.Go(func() error {
			v, err := r.fetcher.Resolve(gctx, loc, kind, now)
			results[i] = locationFetch{value: v, err: err}
			if err != nil && failFast {
				return fmt.Errorf("fetching location %q: %w", loc, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolutionPass walks m up to maxDepth, replacing any key matching the
// resolvable prefix/suffix with its resolved value under the stripped
// key. Reports whether anything changed, so the caller can detect the
// fixed point and stop iterating.
func (r *Resolver) resolutionPass(ctx context.Context, m map[string]any, opts Options, maxDepth int, now time.Time) (bool, error) {
	if opts.ResolvablePrefix == "" && opts.ResolvableSuffix == "" {
		return false, nil
	}

	changed := false
	var walk func(m map[string]any, depth int) error
	walk = func(m map[string]any, depth int) error {
		if depth > maxDepth {
			return nil
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			v := m[k]
			strippedKey, matched := stripResolvable(k, opts.ResolvablePrefix, opts.ResolvableSuffix)
			if matched {
				loc, ok := v.(string)
				if !ok {
					continue
				}
				resolved, err := r.fetcher.Resolve(ctx, loc, secretfetch.KindConfigLocation, now)
				if err != nil {
					if opts.FailFast {
						return fmt.Errorf("configresolver: resolving %q: %w", k, err)
					}
					continue
				}
				delete(m, k)
				m[strippedKey] = resolved
				changed = true
				continue
			}
			if nested, ok := v.(map[string]any); ok {
				if err := walk(nested, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(m, 1); err != nil {
		return false, err
	}
	return changed, nil
}

func stripResolvable(key, prefix, suffix string) (string, bool) {
	if prefix != "" && strings.HasPrefix(key, prefix) {
		return strings.TrimPrefix(key, prefix), true
	}
	if suffix != "" && strings.HasSuffix(key, suffix) {
		return strings.TrimSuffix(key, suffix), true
	}
	return key, false
}

func maxDepth(d int) int {
	if d <= 0 {
		return 5
	}
	return d
}

func maxIterations(n int) int {
	if n <= 0 {
		return 3
	}
	return n
}

func toStringAnyMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
