package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

// coverageControl exposes the gridded coverage extension tables.
type coverageControl struct {
	c   *Container
	cov coverage.GriddedCoverage
}

var _ coverage.Control = (*coverageControl)(nil)

func (cc *coverageControl) Coverage() coverage.GriddedCoverage {
	return cc.cov
}

func (cc *coverageControl) TileAncillary(ctx context.Context, level, x, y int) (coverage.TileAncillary, error) {
	anc := coverage.IdentityAncillary()
	if cc.c.disposed.Load() {
		return anc, tiles.ErrDisposed
	}

	var minV, maxV, mean, std sql.NullFloat64
	err := cc.c.db.QueryRowContext(ctx, `SELECT a.scale, a."offset", a."min", a."max", a.mean, a.std_dev
	FROM gpkg_2d_gridded_tile_ancillary a
	JOIN `+quote(cc.c.table)+` t ON t.id = a.tpudt_id
	WHERE a.tpudt_name = ? AND t.zoom_level = ? AND t.tile_column = ? AND t.tile_row = ?`,
		cc.c.table, level, x, y).Scan(&anc.Scale, &anc.Offset, &minV, &maxV, &mean, &std)
	if errors.Is(err, sql.ErrNoRows) {
		return anc, nil
	}
	if err != nil {
		return anc, fmt.Errorf("read tile ancillary: %w", err)
	}

	anc.Min = nullable(minV)
	anc.Max = nullable(maxV)
	anc.Mean = nullable(mean)
	anc.StdDev = nullable(std)
	return anc, nil
}

func (cc *coverageControl) SetTileAncillary(ctx context.Context, level, x, y int, anc coverage.TileAncillary) error {
	c := cc.c
	if c.disposed.Load() {
		return tiles.ErrDisposed
	}
	if !c.writable {
		return tiles.ErrReadOnly
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM `+quote(c.table)+`
	WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, level, x, y).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return tiles.ErrTileNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM gpkg_2d_gridded_tile_ancillary
	WHERE tpudt_name = ? AND tpudt_id = ?`, c.table, id); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO gpkg_2d_gridded_tile_ancillary
	(tpudt_name, tpudt_id, scale, "offset", "min", "max", mean, std_dev)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.table, id, anc.Scale, anc.Offset, sqlFloat(anc.Min), sqlFloat(anc.Max), sqlFloat(anc.Mean), sqlFloat(anc.StdDev))
	if err != nil {
		return fmt.Errorf("write tile ancillary: %w", err)
	}
	return tx.Commit()
}
