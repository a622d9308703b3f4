package tilecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares cached tiles between processes. Keys are namespaced by
// source so one server can back many streamed sources.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

var _ TileCache = (*RedisCache)(nil)

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisCache wraps a shared client. Close does not close the client.
func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration) *RedisCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (c *RedisCache) keyFor(k Key) string {
	return fmt.Sprintf("tile:%s:%d:%d:%d", c.namespace, k.Z, k.X, k.Y)
}

func (c *RedisCache) Get(ctx context.Context, k Key) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.keyFor(k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, k Key, v []byte) error {
	if err := c.client.Set(ctx, c.keyFor(k), v, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return nil
}
