package router

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	value interface{}
	err   error
}

// Cache holds compiled router expressions for the lifetime of one pass.
// Entries are keyed by router id and a hash of the expression so a router
// edited between passes never sees a stale program.
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
	hits    int
	misses  int
}

// NewCache creates a cache holding up to size compiled expressions
func NewCache(size int) (*Cache, error) {
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func cacheKey(kind, routerID, expression string) string {
	return kind + "/" + routerID + "/" + strconv.FormatUint(xxhash.Sum64String(expression), 16)
}

// Stats returns hit and miss counts
func (c *Cache) Stats() (hits, misses int) {
	return c.hits, c.misses
}

// compiled returns the cached compilation of expression, compiling it on
// first use. Compilation errors are cached too.
func compiled[T any](c *Cache, kind, routerID, expression string, compile func() (T, error)) (T, error) {
	key := cacheKey(kind, routerID, expression)
	if e, ok := c.entries.Get(key); ok {
		c.hits++
		if e.err != nil {
			var zero T
			return zero, e.err
		}
		return e.value.(T), nil
	}

	c.misses++
	v, err := compile()
	c.entries.Add(key, cacheEntry{value: v, err: err})
	return v, err
}
