package tiles

import (
	"fmt"
	"math"
)

// WebMercatorExtent is the half-width of the EPSG:3857 square in meters.
const WebMercatorExtent = 20037508.342789244

// XYZLevels builds the standard quadtree levels for srid between minZoom and
// maxZoom. EPSG:3857 uses a single square tile at zoom 0; EPSG:4326 uses two
// tiles side by side.
func XYZLevels(srid, minZoom, maxZoom, tileSize int) ([]ZoomLevel, error) {
	if minZoom < 0 || maxZoom < minZoom || maxZoom > 30 {
		return nil, &ErrInvalidMatrix{Reason: fmt.Sprintf("zoom range %d-%d", minZoom, maxZoom)}
	}
	if tileSize <= 0 {
		tileSize = 256
	}

	var levels []ZoomLevel
	for z := minZoom; z <= maxZoom; z++ {
		n := 1 << z
		var lv ZoomLevel
		switch srid {
		case SRIDWebMercator:
			lv = ZoomLevel{
				Resolution: 2 * WebMercatorExtent / float64(tileSize*n),
				GridWidth:  n,
				GridHeight: n,
				OriginX:    -WebMercatorExtent,
				OriginY:    WebMercatorExtent,
			}
		case SRIDWGS84:
			lv = ZoomLevel{
				Resolution: 180 / float64(tileSize*n),
				GridWidth:  2 * n,
				GridHeight: n,
				OriginX:    -180,
				OriginY:    90,
			}
		default:
			return nil, &ErrUnsupportedSRID{SRID: srid}
		}
		lv.Level = z
		lv.TileWidth, lv.TileHeight = tileSize, tileSize
		levels = append(levels, lv)
	}
	return levels, nil
}

// MetersPerUnit returns the ground distance of one native unit of srid at
// latitude lat.
func MetersPerUnit(srid int, lat float64) float64 {
	const earthRadius = 6378137.0
	switch srid {
	case SRIDWebMercator:
		return math.Cos(lat * math.Pi / 180)
	default:
		return earthRadius * math.Pi / 180
	}
}
