package tilecache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/beetlebugorg/tilestack/internal/sqlitedb"
	"github.com/beetlebugorg/tilestack/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCache stores tiles in a single SQLite file, one per streamed source.
type SQLiteCache struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

var _ TileCache = (*SQLiteCache)(nil)

func NewSQLiteCache(path string, l logger.Logger) (*SQLiteCache, error) {
	l = logger.OrNop(l)

	db, err := sqlitedb.Open(path, sqlitedb.Options{Migrations: migrations, Dir: "migrations"})
	if err != nil {
		return nil, err
	}

	l.Debug("sqlite tile cache opened", "path", path)

	return &SQLiteCache{
		db:     db,
		path:   path,
		logger: l,
	}, nil
}

func (c *SQLiteCache) Path() string { return c.path }

func (c *SQLiteCache) Get(ctx context.Context, k Key) ([]byte, bool, error) {
	query := `SELECT tile_data
	FROM tile_cache
	WHERE z = ? AND x = ? AND y = ?`

	var tileData []byte
	err := c.db.QueryRowContext(ctx, query, k.Z, k.X, k.Y).Scan(&tileData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		c.logger.Error("sqlite cache get failed", "tile", k.String(), "error", err)
		return nil, false, err
	}

	return tileData, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, k Key, v []byte) error {
	query := `INSERT INTO tile_cache (z, x, y, tile_data, fetched_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(z, x, y) DO UPDATE SET tile_data = excluded.tile_data, fetched_at = excluded.fetched_at`

	_, err := c.db.ExecContext(ctx, query, k.Z, k.X, k.Y, v, time.Now().Unix())
	if err != nil {
		c.logger.Error("sqlite cache set failed", "tile", k.String(), "error", err)
		return err
	}

	return nil
}

// Info returns a value from the cache's key/value side table.
func (c *SQLiteCache) Info(ctx context.Context, key string) (string, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM cache_info WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetInfo records a value in the cache's key/value side table.
func (c *SQLiteCache) SetInfo(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO cache_info (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
