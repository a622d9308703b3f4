package tilecache

import (
	"context"

	"golang.org/x/sync/syncmap"
)

// MapCache keeps tiles in process memory. It is used when no cache
// directory is configured.
type MapCache struct {
	m syncmap.Map
}

var _ TileCache = (*MapCache)(nil)

func NewMapCache() *MapCache {
	return &MapCache{}
}

func (c *MapCache) Get(ctx context.Context, k Key) ([]byte, bool, error) {
	v, ok := c.m.Load(k)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (c *MapCache) Set(ctx context.Context, k Key, v []byte) error {
	c.m.Store(k, append([]byte(nil), v...))
	return nil
}

func (c *MapCache) Close() error {
	c.m.Range(func(key, _ any) bool {
		c.m.Delete(key)
		return true
	})
	return nil
}
