package gpkg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/beetlebugorg/tilestack/internal/sqlitedb"
	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	dataTypeTiles    = "tiles"
	dataTypeCoverage = "2d-gridded-coverage"

	metaUnitsToMeters = "units_to_meters"
)

// Container is one tile pyramid inside a GeoPackage file.
type Container struct {
	db       *sql.DB
	path     string
	table    string
	dataType string
	srid     int
	bounds   tiles.Bounds
	levels   []tiles.ZoomLevel
	writable bool
	hasMeta  bool
	controls []any
	disposed atomic.Bool
	log      logger.Logger
}

var _ tiles.TileContainer = (*Container)(nil)

type OpenOptions struct {
	// Table selects the tile pyramid. Empty picks the first coverage table,
	// or the first tiles table when there is no coverage.
	Table    string
	Writable bool
	Logger   logger.Logger
}

// Open opens an existing GeoPackage.
func Open(ctx context.Context, path string, opts OpenOptions) (*Container, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{
		Migrations: migrations,
		Dir:        "migrations",
		ReadOnly:   !opts.Writable,
	})
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}

	c, err := load(ctx, db, path, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func load(ctx context.Context, db *sql.DB, path string, opts OpenOptions) (*Container, error) {
	c := &Container{
		db:       db,
		path:     path,
		writable: opts.Writable,
		log:      logger.OrNop(opts.Logger),
	}

	table, dataType, err := pickTable(ctx, db, opts.Table)
	if err != nil {
		return nil, err
	}
	c.table, c.dataType = table, dataType

	var minX, minY, maxX, maxY float64
	err = db.QueryRowContext(ctx, `SELECT srs_id, min_x, min_y, max_x, max_y
	FROM gpkg_tile_matrix_set WHERE table_name = ?`, table).Scan(&c.srid, &minX, &minY, &maxX, &maxY)
	if err != nil {
		return nil, fmt.Errorf("read tile matrix set %s: %w", table, err)
	}

	c.levels, err = readLevels(ctx, db, table, minX, maxY)
	if err != nil {
		return nil, err
	}

	proj, err := tiles.ProjectionFor(c.srid)
	if err != nil {
		return nil, err
	}
	c.bounds = tiles.GeographicBounds(proj, minX, minY, maxX, maxY)

	c.hasMeta, err = tableExists(ctx, db, "tilestack_metadata")
	if err != nil {
		return nil, err
	}

	if dataType == dataTypeCoverage {
		cov, err := c.readCoverage(ctx)
		if err != nil {
			return nil, err
		}
		c.controls = append(c.controls, &coverageControl{c: c, cov: cov})
	}
	return c, nil
}

func pickTable(ctx context.Context, db *sql.DB, want string) (string, string, error) {
	rows, err := db.QueryContext(ctx, `SELECT table_name, data_type FROM gpkg_contents
	WHERE data_type IN (?, ?) ORDER BY CASE data_type WHEN ? THEN 0 ELSE 1 END, table_name`,
		dataTypeCoverage, dataTypeTiles, dataTypeCoverage)
	if err != nil {
		return "", "", fmt.Errorf("read contents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return "", "", err
		}
		if want == "" || want == name {
			return name, dataType, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", "", err
	}
	return "", "", fmt.Errorf("no tile pyramid %q in geopackage: %w", want, tiles.ErrUnsupported)
}

func readLevels(ctx context.Context, db *sql.DB, table string, originX, originY float64) ([]tiles.ZoomLevel, error) {
	rows, err := db.QueryContext(ctx, `SELECT zoom_level, matrix_width, matrix_height,
	tile_width, tile_height, pixel_x_size
	FROM gpkg_tile_matrix WHERE table_name = ? ORDER BY zoom_level`, table)
	if err != nil {
		return nil, fmt.Errorf("read tile matrix: %w", err)
	}
	defer rows.Close()

	var levels []tiles.ZoomLevel
	for rows.Next() {
		z := tiles.ZoomLevel{OriginX: originX, OriginY: originY}
		if err := rows.Scan(&z.Level, &z.GridWidth, &z.GridHeight, &z.TileWidth, &z.TileHeight, &z.Resolution); err != nil {
			return nil, err
		}
		levels = append(levels, z)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tiles.ValidateZoomLevels(levels); err != nil {
		return nil, err
	}
	return levels, nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return n > 0, err
}

func (c *Container) Name() string                  { return c.table }
func (c *Container) SRID() int                     { return c.srid }
func (c *Container) Bounds() tiles.Bounds          { return c.bounds }
func (c *Container) Path() string                  { return c.path }
func (c *Container) ZoomLevels() []tiles.ZoomLevel { return append([]tiles.ZoomLevel(nil), c.levels...) }

func (c *Container) TileData(ctx context.Context, level, x, y int) ([]byte, error) {
	if c.disposed.Load() {
		return nil, tiles.ErrDisposed
	}
	if _, err := tiles.CheckTile(c.levels, level, x, y); err != nil {
		return nil, err
	}

	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT tile_data FROM `+quote(c.table)+`
	WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, level, x, y).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tiles.ErrTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read tile %d/%d/%d: %w", level, x, y, err)
	}
	return data, nil
}

func (c *Container) SetTileData(ctx context.Context, level, x, y int, data []byte) error {
	if c.disposed.Load() {
		return tiles.ErrDisposed
	}
	if !c.writable {
		return tiles.ErrReadOnly
	}
	if _, err := tiles.CheckTile(c.levels, level, x, y); err != nil {
		return err
	}

	_, err := c.db.ExecContext(ctx, `INSERT INTO `+quote(c.table)+` (zoom_level, tile_column, tile_row, tile_data)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(zoom_level, tile_column, tile_row) DO UPDATE SET tile_data = excluded.tile_data`,
		level, x, y, data)
	if err != nil {
		return fmt.Errorf("write tile %d/%d/%d: %w", level, x, y, err)
	}
	return nil
}

// Metadata returns a stored metadata value. The content type falls back to
// the pyramid's GeoPackage data type.
func (c *Container) Metadata(key string) string {
	if c.hasMeta && !c.disposed.Load() {
		var v string
		err := c.db.QueryRow(`SELECT value FROM tilestack_metadata WHERE table_name = ? AND key = ?`,
			c.table, key).Scan(&v)
		if err == nil {
			return v
		}
		if !errors.Is(err, sql.ErrNoRows) {
			c.log.Warn("geopackage metadata read failed", "path", c.path, "key", key, "error", err)
		}
	}

	switch key {
	case tiles.MetadataContent:
		if c.dataType == dataTypeCoverage {
			return tiles.ContentTerrain
		}
		return tiles.ContentImagery
	case tiles.MetadataName:
		return c.table
	}
	return ""
}

func (c *Container) SetMetadata(key, value string) error {
	if c.disposed.Load() {
		return tiles.ErrDisposed
	}
	if !c.writable || !c.hasMeta {
		return tiles.ErrReadOnly
	}
	_, err := c.db.Exec(`INSERT INTO tilestack_metadata (table_name, key, value) VALUES (?, ?, ?)
	ON CONFLICT(table_name, key) DO UPDATE SET value = excluded.value`, c.table, key, value)
	return err
}

func (c *Container) Controls() []any {
	return append([]any(nil), c.controls...)
}

func (c *Container) Dispose() error {
	if c.disposed.Swap(true) {
		return nil
	}
	return c.db.Close()
}

func (c *Container) readCoverage(ctx context.Context) (coverage.GriddedCoverage, error) {
	cov := coverage.DefaultCoverage(coverage.DatatypeInteger)
	cov.TileMatrixSetName = c.table

	var (
		datatype, encoding, uom, field sql.NullString
		precision, null                sql.NullFloat64
	)
	err := c.db.QueryRowContext(ctx, `SELECT datatype, scale, "offset", precision, data_null,
	grid_cell_encoding, uom, field_name
	FROM gpkg_2d_gridded_coverage_ancillary WHERE tile_matrix_set_name = ?`, c.table).
		Scan(&datatype, &cov.Scale, &cov.Offset, &precision, &null, &encoding, &uom, &field)
	if err != nil {
		return cov, fmt.Errorf("read coverage ancillary %s: %w", c.table, err)
	}

	if datatype.Valid {
		cov.Datatype = coverage.Datatype(datatype.String)
		if cov.Datatype == coverage.DatatypeFloat {
			cov.DataNull = coverage.DefaultFloatNull
		}
	}
	if null.Valid {
		cov.DataNull = null.Float64
	}
	if precision.Valid {
		cov.Precision = precision.Float64
	}
	if encoding.Valid && encoding.String != "" {
		cov.GridCellEncoding = coverage.GridCellEncoding(encoding.String)
	}
	cov.UOM = uom.String
	if field.Valid {
		cov.FieldName = field.String
	}

	if s := c.Metadata(metaUnitsToMeters); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			cov.UnitsToMeters = f
		}
	}
	return cov, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
