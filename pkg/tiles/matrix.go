// Package tiles provides the tile container abstraction used across tilestack.
//
// A TileMatrix is a read-only pyramid of tiles organised into zoom levels;
// a TileContainer adds writes, string metadata, extension controls and
// disposal. Concrete formats (GeoPackage archives, z/x/y directories,
// streamed tile services) are plugged in as Providers and opened through a
// Registry that probes candidates in priority order.
//
// Example:
//
//	reg := tiles.NewRegistry(l)
//	reg.Register(gpkg.NewProvider())
//	reg.Register(tileclient.NewProvider(nil))
//
//	c, _, err := reg.Open(ctx, "/data/dem.gpkg", tiles.OpenOptions{CacheDir: cacheDir})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Dispose()
//
//	data, err := c.TileData(ctx, 3, 4, 2)
package tiles

import (
	"context"
	"math"
	"sort"
)

// Content types stored under the MetadataContent key.
const (
	ContentTerrain = "terrain"
	ContentImagery = "imagery"
	ContentVector  = "vector"
)

// Well-known metadata keys.
const (
	MetadataContent     = "content"
	MetadataDescription = "description"
	MetadataName        = "name"
)

// Spatial reference identifiers with built-in projections.
const (
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
)

// ZoomLevel describes one level of a tile pyramid.
//
// Resolution is in native CRS units per pixel. OriginX/OriginY is the
// top-left corner of tile (0, 0); columns grow east and rows grow south.
type ZoomLevel struct {
	Level      int
	Resolution float64
	TileWidth  int
	TileHeight int
	GridWidth  int // tiles per row
	GridHeight int // tiles per column
	OriginX    float64
	OriginY    float64
}

// TileSpan returns the native extent of one tile.
func (z ZoomLevel) TileSpan() (dx, dy float64) {
	return z.Resolution * float64(z.TileWidth), z.Resolution * float64(z.TileHeight)
}

// Contains reports whether (x, y) are valid tile indices for this level.
func (z ZoomLevel) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < z.GridWidth && y < z.GridHeight
}

// Locate returns the tile holding the native coordinate (x, y) and the
// fractional pixel position inside that tile.
func (z ZoomLevel) Locate(x, y float64) (col, row int, px, py float64, ok bool) {
	if z.Resolution <= 0 || z.TileWidth <= 0 || z.TileHeight <= 0 {
		return 0, 0, 0, 0, false
	}
	gx := (x - z.OriginX) / z.Resolution
	gy := (z.OriginY - y) / z.Resolution
	if gx < 0 || gy < 0 || math.IsNaN(gx) || math.IsNaN(gy) {
		return 0, 0, 0, 0, false
	}
	col = int(gx) / z.TileWidth
	row = int(gy) / z.TileHeight
	if !z.Contains(col, row) {
		return 0, 0, 0, 0, false
	}
	px = gx - float64(col*z.TileWidth)
	py = gy - float64(row*z.TileHeight)
	return col, row, px, py, true
}

// ValidateZoomLevels checks that levels ascend by index with strictly
// decreasing resolution, and that every level has a usable grid.
func ValidateZoomLevels(levels []ZoomLevel) error {
	for i, z := range levels {
		if z.Resolution <= 0 || math.IsNaN(z.Resolution) || math.IsInf(z.Resolution, 0) {
			return &ErrInvalidMatrix{Reason: "non-positive resolution"}
		}
		if z.TileWidth <= 0 || z.TileHeight <= 0 || z.GridWidth <= 0 || z.GridHeight <= 0 {
			return &ErrInvalidMatrix{Reason: "empty tile grid"}
		}
		if i == 0 {
			continue
		}
		prev := levels[i-1]
		if z.Level <= prev.Level {
			return &ErrInvalidMatrix{Reason: "zoom levels not ascending"}
		}
		if z.Resolution >= prev.Resolution {
			return &ErrInvalidMatrix{Reason: "resolution not strictly decreasing"}
		}
	}
	return nil
}

// SortZoomLevels orders levels by ascending Level.
func SortZoomLevels(levels []ZoomLevel) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
}

// FindZoomLevel returns the level with the given index.
func FindZoomLevel(levels []ZoomLevel, level int) (ZoomLevel, bool) {
	for _, z := range levels {
		if z.Level == level {
			return z, true
		}
	}
	return ZoomLevel{}, false
}

// CheckTile validates (level, x, y) against levels.
func CheckTile(levels []ZoomLevel, level, x, y int) (ZoomLevel, error) {
	z, ok := FindZoomLevel(levels, level)
	if !ok {
		return ZoomLevel{}, &ErrUnknownLevel{Level: level}
	}
	if !z.Contains(x, y) {
		return ZoomLevel{}, &ErrTileOutOfRange{Level: level, X: x, Y: y}
	}
	return z, nil
}

// TileMatrix is a read-only tile pyramid.
//
// TileData returns ErrTileNotFound when a tile inside the grid has no data.
// Implementations must be safe for concurrent readers.
type TileMatrix interface {
	Name() string
	SRID() int
	ZoomLevels() []ZoomLevel
	// Bounds returns the WGS-84 extent of the matrix.
	Bounds() Bounds
	TileData(ctx context.Context, level, x, y int) ([]byte, error)
}

// TileContainer is a TileMatrix that can also be written, carries string
// metadata and exposes optional extension controls.
//
// A container is owned by whoever opened it; Dispose releases its resources.
type TileContainer interface {
	TileMatrix
	SetTileData(ctx context.Context, level, x, y int, data []byte) error
	Metadata(key string) string
	SetMetadata(key, value string) error
	Controls() []any
	Dispose() error
}

// ControlOf returns the first control of c implementing T.
//
// Example:
//
//	cov, ok := tiles.ControlOf[coverage.Control](container)
func ControlOf[T any](c TileContainer) (T, bool) {
	for _, ctl := range c.Controls() {
		if t, ok := ctl.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// Content returns the content type declared by c.
func Content(c TileContainer) string {
	return c.Metadata(MetadataContent)
}
