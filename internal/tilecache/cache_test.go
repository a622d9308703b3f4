package tilecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c TileCache) {
	t.Helper()
	ctx := context.Background()
	k := Key{Z: 3, X: 4, Y: 2}

	_, ok, err := c.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, k, []byte("first")))
	require.NoError(t, c.Set(ctx, k, []byte("second")))

	v, ok, err := c.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("second"), v)

	_, ok, err = c.Get(ctx, Key{Z: 3, X: 2, Y: 4})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMapCache(t *testing.T) {
	c := NewMapCache()
	exerciseCache(t, c)
	require.NoError(t, c.Close())
}

func TestSQLiteCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.cache.sqlite")

	c, err := NewSQLiteCache(path, nil)
	require.NoError(t, err)
	exerciseCache(t, c)
	require.NoError(t, c.SetInfo(context.Background(), "url", "http://example.test/{z}/{x}/{y}.png"))
	require.NoError(t, c.Close())

	c, err = NewSQLiteCache(path, nil)
	require.NoError(t, err)
	defer c.Close()

	v, ok, err := c.Get(context.Background(), Key{Z: 3, X: 4, Y: 2})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("second"), v)

	url, err := c.Info(context.Background(), "url")
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/{z}/{x}/{y}.png", url)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TILESTACK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TILESTACK_TEST_REDIS_ADDR not set")
	}

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	ns := "test-" + time.Now().Format("150405.000000")
	exerciseCache(t, NewRedisCache(client, ns, time.Minute))
}
