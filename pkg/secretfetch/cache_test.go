package secretfetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheRawHitAndMiss(t *testing.T) {
	c := newCache(time.Minute)
	now := time.Now()
	key := FetchKey{Provider: ProviderPlain, Address: "x"}

	_, ok := c.getRaw(key, now)
	assert.False(t, ok)

	c.putRaw(key, cachedEntry{rawBytes: []byte("v"), fetchedAt: now})
	entry, ok := c.getRaw(key, now)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), entry.rawBytes)

	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestCacheRawExpiresAfterTTL(t *testing.T) {
	c := newCache(time.Second)
	now := time.Now()
	key := FetchKey{Provider: ProviderPlain, Address: "x"}

	c.putRaw(key, cachedEntry{rawBytes: []byte("v"), fetchedAt: now})

	_, ok := c.getRaw(key, now.Add(2*time.Second))
	assert.False(t, ok)
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	c := newCache(0)
	now := time.Now()
	key := FetchKey{Provider: ProviderPlain, Address: "x"}

	c.putRaw(key, cachedEntry{rawBytes: []byte("v"), fetchedAt: now})

	_, ok := c.getRaw(key, now.Add(365*24*time.Hour))
	assert.True(t, ok)
}

func TestCacheParsedSeparateFromRaw(t *testing.T) {
	c := newCache(time.Minute)
	now := time.Now()
	key := ParseKey{FetchKey: FetchKey{Provider: ProviderPlain, Address: "x"}, Format: "json"}

	_, ok := c.getParsed(key, now)
	assert.False(t, ok)

	c.putParsed(key, map[string]any{"a": 1}, now)
	v, ok := c.getParsed(key, now)
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1}, v)
}

func TestCacheDistinctFormatsAreDistinctParseKeys(t *testing.T) {
	c := newCache(time.Minute)
	now := time.Now()
	base := FetchKey{Provider: ProviderPlain, Address: "x"}

	c.putParsed(ParseKey{FetchKey: base, Format: "json"}, "as-json", now)
	c.putParsed(ParseKey{FetchKey: base, Format: "yaml"}, "as-yaml", now)

	jv, ok := c.getParsed(ParseKey{FetchKey: base, Format: "json"}, now)
	assert.True(t, ok)
	assert.Equal(t, "as-json", jv)

	yv, ok := c.getParsed(ParseKey{FetchKey: base, Format: "yaml"}, now)
	assert.True(t, ok)
	assert.Equal(t, "as-yaml", yv)
}
