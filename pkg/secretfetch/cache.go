package secretfetch

import (
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// cachedEntry is a single (value, fetched_at, content-type) cache row.
type cachedEntry struct {
	rawBytes    []byte
	contentType string
	fetchedAt   time.Time
}

type parsedEntry struct {
	value     any
	fetchedAt time.Time
}

// cache stores raw-fetch results keyed by (provider, address) and parsed
// results keyed additionally by format. A single mutex serializes reads
// and writes of both maps. The fetch itself runs outside the lock
// (Fetcher.Resolve looks up, fetches, then stores), so concurrent
// resolutions of the same fetch key can each fetch it.
//
// Keys are hashed with xxh3 rather than used as raw map keys, so a
// single uint64 comparison replaces a two-field
// struct-key lookup on the hot path of repeated resolution passes (the
// recursive resolution walk runs up to max_config_resolution_iterations
// times).
type cache struct {
	mu     sync.Mutex
	ttl    time.Duration
	raw    map[uint64]cachedEntry
	parsed map[uint64]parsedEntry
	misses int
	hits   int
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:    ttl,
		raw:    map[uint64]cachedEntry{},
		parsed: map[uint64]parsedEntry{},
	}
}

func hashFetchKey(k FetchKey) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(string(k.Provider))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(k.Address)
	return h.Sum64()
}

func hashParseKey(k ParseKey) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(string(k.Provider))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(k.Address)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(string(k.Format))
	return h.Sum64()
}

func (c *cache) getRaw(key FetchKey, now time.Time) (cachedEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.raw[hashFetchKey(key)]
	if !ok || c.expired(e.fetchedAt, now) {
		c.misses++
		return cachedEntry{}, false
	}
	c.hits++
	return e, true
}

func (c *cache) putRaw(key FetchKey, e cachedEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw[hashFetchKey(key)] = e
}

func (c *cache) getParsed(key ParseKey, now time.Time) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.parsed[hashParseKey(key)]
	if !ok || c.expired(e.fetchedAt, now) {
		return nil, false
	}
	return e.value, true
}

func (c *cache) putParsed(key ParseKey, value any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parsed[hashParseKey(key)] = parsedEntry{value: value, fetchedAt: now}
}

func (c *cache) expired(fetchedAt, now time.Time) bool {
	if c.ttl <= 0 {
		return false
	}
	return now.Sub(fetchedAt) > c.ttl
}

// Stats returns the cumulative hit/miss counts, useful for asserting that
// the number of remote fetches within one invocation equals the number of
// TTL expirations plus one.
func (c *cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
