package stations

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Source produces a directory, Loader reads the file on every call and
// Cache keeps the result for a while.
type Source interface {
	Directory() (Directory, error)
}

// Loader loads the directory fresh from disk on every call.
type Loader struct {
	Path string
}

func (l Loader) Directory() (Directory, error) {
	return Load(l.Path)
}

// Cache holds the directory of one file for ttl, a ttl of 0 reloads on every
// call. Loads are serialized, concurrent callers see at most one read of the
// file per expiry.
type Cache struct {
	path  string
	ttl   time.Duration
	mutex sync.Mutex
	lru   *expirable.LRU[string, Directory]
}

func NewCache(path string, ttl time.Duration) *Cache {
	c := &Cache{path: path, ttl: ttl}
	if ttl > 0 {
		c.lru = expirable.NewLRU[string, Directory](1, nil, ttl)
	}
	return c
}

func (c *Cache) Directory() (Directory, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.lru == nil {
		return Load(c.path)
	}
	cached, ok := c.lru.Get(c.path)
	if ok {
		return cached, nil
	}
	dir, err := Load(c.path)
	if err != nil {
		return Directory{}, err
	}
	c.lru.Add(c.path, dir)
	return dir, nil
}

// Invalidate drops the cached directory, used after a sync.
func (c *Cache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.lru != nil {
		c.lru.Purge()
	}
}
