package tileclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/beetlebugorg/tilestack/internal/tilecache"
	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/metrics"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Container is a streamed tile service with its companion cache.
type Container struct {
	desc     Descriptor
	levels   []tiles.ZoomLevel
	bounds   tiles.Bounds
	http     *http.Client
	cache    tilecache.TileCache
	inflight singleflight.Group
	controls []any
	disposed atomic.Bool
	log      logger.Logger
}

var _ tiles.TileContainer = (*Container)(nil)

type Options struct {
	HTTPClient *http.Client
	// CacheDir holds the companion SQLite cache. Ignored when Redis is set.
	CacheDir string
	Redis    *redis.Client
	RedisTTL time.Duration
	Logger   logger.Logger
}

// New opens a client for desc.
func New(desc Descriptor, opts Options) (*Container, error) {
	l := logger.OrNop(opts.Logger)

	levels, err := tiles.XYZLevels(desc.SRID, desc.MinZoom, desc.MaxZoom, desc.TileSize)
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: desc.Timeout}
	}

	c := &Container{
		desc:   desc,
		levels: levels,
		http:   client,
		log:    l,
	}

	switch {
	case len(desc.Bounds) == 4:
		c.bounds = tiles.Bounds{MinLon: desc.Bounds[0], MinLat: desc.Bounds[1], MaxLon: desc.Bounds[2], MaxLat: desc.Bounds[3]}
	case desc.SRID == tiles.SRIDWGS84:
		c.bounds = tiles.Bounds{MinLon: -180, MaxLon: 180, MinLat: -90, MaxLat: 90}
	default:
		lon, lat := 180.0, 85.0511287798066
		c.bounds = tiles.Bounds{MinLon: -lon, MaxLon: lon, MinLat: -lat, MaxLat: lat}
	}

	if desc.Coverage != nil {
		cov := desc.Coverage.GriddedCoverage(desc.Name)
		if _, err := coverage.NewCodec(cov); err != nil {
			return nil, err
		}
		c.controls = append(c.controls, &remoteCoverage{cov: cov})
	}

	c.cache, err = companionCache(desc, opts, l)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func companionCache(desc Descriptor, opts Options, l logger.Logger) (tilecache.TileCache, error) {
	switch {
	case opts.Redis != nil:
		return tilecache.NewRedisCache(opts.Redis, desc.Name, opts.RedisTTL), nil
	case opts.CacheDir != "":
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		path := filepath.Join(opts.CacheDir, tiles.CacheFileName(desc.Name))
		sc, err := tilecache.NewSQLiteCache(path, l)
		if err != nil {
			return nil, fmt.Errorf("open companion cache %s: %w", path, err)
		}
		if err := sc.SetInfo(context.Background(), "url", desc.URL); err != nil {
			sc.Close()
			return nil, err
		}
		return sc, nil
	default:
		return tilecache.NewMapCache(), nil
	}
}

func (c *Container) Name() string                  { return c.desc.Name }
func (c *Container) SRID() int                     { return c.desc.SRID }
func (c *Container) Bounds() tiles.Bounds          { return c.bounds }
func (c *Container) ZoomLevels() []tiles.ZoomLevel { return append([]tiles.ZoomLevel(nil), c.levels...) }

// TileData returns a tile from the companion cache, fetching it from the
// service on a miss. Concurrent requests for one tile share a fetch.
func (c *Container) TileData(ctx context.Context, level, x, y int) ([]byte, error) {
	if c.disposed.Load() {
		return nil, tiles.ErrDisposed
	}
	if _, err := tiles.CheckTile(c.levels, level, x, y); err != nil {
		return nil, err
	}

	key := tilecache.Key{Z: level, X: x, Y: y}
	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("companion cache read failed", "source", c.desc.Name, "tile", key.String(), "error", err)
	} else if ok {
		metrics.TileFetches.WithLabelValues("cache_hit").Inc()
		return data, nil
	}

	// The shared fetch outlives any one caller's cancellation.
	ch := c.inflight.DoChan(key.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout())
		defer cancel()
		return c.fetch(fetchCtx, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Container) fetchTimeout() time.Duration {
	if c.desc.Timeout > 0 {
		return c.desc.Timeout
	}
	return 30 * time.Second
}

func (c *Container) fetch(ctx context.Context, key tilecache.Key) ([]byte, error) {
	start := time.Now()
	url := c.desc.TileURL(key.Z, key.X, key.Y)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "tilestack/1.0")
	for k, v := range c.desc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.TileFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch %s: %w", key.String(), err)
	}
	defer resp.Body.Close()
	metrics.TileFetchLatency.Observe(time.Since(start).Seconds())

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, tiles.ErrTileNotFound
	default:
		metrics.TileFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch %s: upstream returned status %d", key.String(), resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.TileFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read %s: %w", key.String(), err)
	}
	metrics.TileFetches.WithLabelValues("fetched").Inc()

	if err := c.cache.Set(ctx, key, data); err != nil {
		c.log.Warn("companion cache write failed", "source", c.desc.Name, "tile", key.String(), "error", err)
	}
	c.log.Debug("fetched tile", "source", c.desc.Name, "tile", key.String(), "size", len(data))
	return data, nil
}

// SetTileData seeds the companion cache; the service itself is read-only.
func (c *Container) SetTileData(ctx context.Context, level, x, y int, data []byte) error {
	if c.disposed.Load() {
		return tiles.ErrDisposed
	}
	if _, err := tiles.CheckTile(c.levels, level, x, y); err != nil {
		return err
	}
	return c.cache.Set(ctx, tilecache.Key{Z: level, X: x, Y: y}, data)
}

func (c *Container) Metadata(key string) string {
	switch key {
	case tiles.MetadataContent:
		return c.desc.Content
	case tiles.MetadataName:
		return c.desc.Name
	case tiles.MetadataDescription:
		return c.desc.Description
	case "url":
		return c.desc.URL
	}
	return ""
}

func (c *Container) SetMetadata(key, value string) error {
	return tiles.ErrReadOnly
}

func (c *Container) Controls() []any {
	return append([]any(nil), c.controls...)
}

func (c *Container) Dispose() error {
	if c.disposed.Swap(true) {
		return nil
	}
	return c.cache.Close()
}

// remoteCoverage describes a service's coverage. Services publish no per-tile
// ancillary, so every tile uses identity tile scaling.
type remoteCoverage struct {
	cov coverage.GriddedCoverage
}

func (r *remoteCoverage) Coverage() coverage.GriddedCoverage { return r.cov }

func (r *remoteCoverage) TileAncillary(ctx context.Context, level, x, y int) (coverage.TileAncillary, error) {
	return coverage.IdentityAncillary(), nil
}

func (r *remoteCoverage) SetTileAncillary(ctx context.Context, level, x, y int, anc coverage.TileAncillary) error {
	return tiles.ErrReadOnly
}

var errNotDescriptor = errors.New("not a tile service descriptor")
