package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"

	"github.com/beetlebugorg/tilestack/internal/sqlitedb"
	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

// Extent is a rectangle in the pyramid's native CRS.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

// Spec describes a new tile pyramid.
type Spec struct {
	Table       string
	Description string
	SRID        int
	Extent      Extent
	// Levels must share the extent's top-left origin.
	Levels []tiles.ZoomLevel
	// Coverage makes the pyramid a 2D gridded coverage. Nil creates a
	// plain tiles table.
	Coverage *coverage.GriddedCoverage
	Metadata map[string]string
	Logger   logger.Logger
}

// Create creates (or extends) the GeoPackage at path with a new tile
// pyramid and returns it opened for writing.
//
// Example:
//
//	cov := coverage.DefaultCoverage(coverage.DatatypeInteger)
//	cov.Scale, cov.Offset = 0.1, -1000
//
//	c, err := gpkg.Create(ctx, "dem.gpkg", gpkg.Spec{
//	    Table:    "dem",
//	    SRID:     tiles.SRIDWGS84,
//	    Extent:   gpkg.Extent{MinX: -123, MinY: 37, MaxX: -122, MaxY: 38},
//	    Levels:   levels,
//	    Coverage: &cov,
//	})
func Create(ctx context.Context, path string, spec Spec) (*Container, error) {
	if spec.Table == "" {
		return nil, fmt.Errorf("create geopackage: table name required")
	}
	if err := tiles.ValidateZoomLevels(spec.Levels); err != nil {
		return nil, err
	}
	if spec.Coverage != nil {
		if _, err := coverage.NewCodec(*spec.Coverage); err != nil {
			return nil, err
		}
	}

	db, err := sqlitedb.Open(path, sqlitedb.Options{Migrations: migrations, Dir: "migrations"})
	if err != nil {
		return nil, fmt.Errorf("create geopackage: %w", err)
	}

	if err := initialise(ctx, db, spec); err != nil {
		db.Close()
		return nil, err
	}

	c, err := load(ctx, db, path, OpenOptions{Table: spec.Table, Writable: true, Logger: spec.Logger})
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func initialise(ctx context.Context, db *sql.DB, spec Spec) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", userVersion)); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dataType := dataTypeTiles
	if spec.Coverage != nil {
		dataType = dataTypeCoverage
	}
	e := spec.Extent

	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+quote(spec.Table)+` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		zoom_level INTEGER NOT NULL,
		tile_column INTEGER NOT NULL,
		tile_row INTEGER NOT NULL,
		tile_data BLOB NOT NULL,
		UNIQUE (zoom_level, tile_column, tile_row)
	)`)
	if err != nil {
		return fmt.Errorf("create tile table: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO gpkg_contents
	(table_name, data_type, identifier, description, min_x, min_y, max_x, max_y, srs_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(table_name) DO UPDATE SET data_type = excluded.data_type, description = excluded.description,
	min_x = excluded.min_x, min_y = excluded.min_y, max_x = excluded.max_x, max_y = excluded.max_y,
	srs_id = excluded.srs_id`,
		spec.Table, dataType, spec.Table, spec.Description, e.MinX, e.MinY, e.MaxX, e.MaxY, spec.SRID)
	if err != nil {
		return fmt.Errorf("write contents: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO gpkg_tile_matrix_set
	(table_name, srs_id, min_x, min_y, max_x, max_y) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(table_name) DO UPDATE SET srs_id = excluded.srs_id, min_x = excluded.min_x,
	min_y = excluded.min_y, max_x = excluded.max_x, max_y = excluded.max_y`,
		spec.Table, spec.SRID, e.MinX, e.MinY, e.MaxX, e.MaxY)
	if err != nil {
		return fmt.Errorf("write tile matrix set: %w", err)
	}

	for _, z := range spec.Levels {
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO gpkg_tile_matrix
		(table_name, zoom_level, matrix_width, matrix_height, tile_width, tile_height, pixel_x_size, pixel_y_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			spec.Table, z.Level, z.GridWidth, z.GridHeight, z.TileWidth, z.TileHeight, z.Resolution, z.Resolution)
		if err != nil {
			return fmt.Errorf("write tile matrix %d: %w", z.Level, err)
		}
	}

	meta := map[string]string{}
	for k, v := range spec.Metadata {
		meta[k] = v
	}

	if cov := spec.Coverage; cov != nil {
		if _, ok := meta[tiles.MetadataContent]; !ok {
			meta[tiles.MetadataContent] = tiles.ContentTerrain
		}
		if cov.UnitsToMeters != 0 {
			meta[metaUnitsToMeters] = strconv.FormatFloat(cov.UnitsToMeters, 'g', -1, 64)
		}
		if err := writeCoverage(ctx, tx, spec.Table, *cov); err != nil {
			return err
		}
	}

	for k, v := range meta {
		_, err = tx.ExecContext(ctx, `INSERT INTO tilestack_metadata (table_name, key, value) VALUES (?, ?, ?)
		ON CONFLICT(table_name, key) DO UPDATE SET value = excluded.value`, spec.Table, k, v)
		if err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}

	return tx.Commit()
}

func writeCoverage(ctx context.Context, tx *sql.Tx, table string, cov coverage.GriddedCoverage) error {
	if cov.Datatype == "" {
		cov.Datatype = coverage.DatatypeInteger
	}
	if cov.GridCellEncoding == "" {
		cov.GridCellEncoding = coverage.GridValueIsCenter
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO gpkg_2d_gridded_coverage_ancillary
	(tile_matrix_set_name, datatype, scale, "offset", precision, data_null, grid_cell_encoding, uom, field_name, quantity_definition)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tile_matrix_set_name) DO UPDATE SET datatype = excluded.datatype, scale = excluded.scale,
	"offset" = excluded."offset", precision = excluded.precision, data_null = excluded.data_null,
	grid_cell_encoding = excluded.grid_cell_encoding, uom = excluded.uom, field_name = excluded.field_name`,
		table, string(cov.Datatype), cov.Scale, cov.Offset, cov.Precision, cov.DataNull,
		string(cov.GridCellEncoding), cov.UOM, cov.FieldName, cov.FieldName)
	if err != nil {
		return fmt.Errorf("write coverage ancillary: %w", err)
	}

	for _, ext := range []struct{ table, column, name, scope string }{
		{"gpkg_2d_gridded_coverage_ancillary", "", "gpkg_2d_gridded_coverage", "read-write"},
		{"gpkg_2d_gridded_tile_ancillary", "", "gpkg_2d_gridded_coverage", "read-write"},
		{table, "tile_data", "gpkg_2d_gridded_coverage", "read-write"},
	} {
		var column any
		if ext.column != "" {
			column = ext.column
		}
		_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO gpkg_extensions
		(table_name, column_name, extension_name, definition, scope) VALUES (?, ?, ?, ?, ?)`,
			ext.table, column, ext.name, "http://docs.opengeospatial.org/is/17-066r1/17-066r1.html", ext.scope)
		if err != nil {
			return fmt.Errorf("register extension: %w", err)
		}
	}
	return nil
}

func nullable(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

func sqlFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
