package domjudge

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type cacheEntry struct {
	body    []byte
	expires time.Time
}

// cache holds GET response bodies until they expire.
type cache struct {
	entries *xsync.MapOf[string, cacheEntry]
	now     func() time.Time
}

func newCache() *cache {
	return &cache{
		entries: xsync.NewMapOf[string, cacheEntry](),
		now:     time.Now,
	}
}

func (c *cache) get(key string) ([]byte, bool) {
	e, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		c.entries.Delete(key)
		return nil, false
	}
	return e.body, true
}

func (c *cache) set(key string, body []byte, ttl time.Duration) {
	c.entries.Store(key, cacheEntry{body: body, expires: c.now().Add(ttl)})
}

func (c *cache) clear() {
	c.entries.Clear()
}

func (c *cache) size() int {
	return c.entries.Size()
}

func (c *cache) delete(key string) {
	c.entries.Delete(key)
}
