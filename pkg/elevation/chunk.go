package elevation

import (
	"context"
	"math"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// pointEpsilon is how close a sample must be to a point filter, in degrees.
const pointEpsilon = 1e-9

// Chunk is one source at one zoom level, as selected by a query.
type Chunk struct {
	src        *Source
	level      tiles.ZoomLevel
	resolution float64
	filter     orb.Geometry
	area       tiles.Bounds
	ctx        context.Context
}

func (c *Chunk) Source() *Source { return c.src }

// Level returns the zoom level the chunk samples from.
func (c *Chunk) Level() tiles.ZoomLevel { return c.level }

// Resolution returns the chunk's ground sample distance in meters.
func (c *Chunk) Resolution() float64 { return c.resolution }

// Bounds returns the part of the source that lies inside the query area.
func (c *Chunk) Bounds() tiles.Bounds {
	b, ok := c.src.Bounds().Intersection(c.area)
	if !ok {
		return tiles.Bounds{}
	}
	return b
}

// Sample returns the elevation in meters at (lat, lon), or NaN when the
// point is outside the query filter, outside the source, or has no data.
func (c *Chunk) Sample(lat, lon float64) float64 {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return c.SampleContext(ctx, lat, lon)
}

// SampleContext is Sample with an explicit context for tile reads.
func (c *Chunk) SampleContext(ctx context.Context, lat, lon float64) float64 {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return math.NaN()
	}
	if !filterContains(c.filter, orb.Point{lon, lat}) || !c.src.Bounds().Contains(lon, lat) {
		return math.NaN()
	}
	if !c.src.HasCoverage() {
		return math.NaN()
	}

	x, y := c.src.proj.Forward(lon, lat)
	z := c.level
	if z.Resolution <= 0 {
		return math.NaN()
	}
	gx := (x - z.OriginX) / z.Resolution
	gy := (z.OriginY - y) / z.Resolution

	s := sampler{ctx: ctx, src: c.src, level: z}
	cov, _ := c.src.Coverage()
	switch cov.GridCellEncoding {
	case coverage.GridValueIsArea:
		return s.at(int(math.Floor(gx)), int(math.Floor(gy)))
	case coverage.GridValueIsCorner:
		return s.at(int(math.Round(gx)), int(math.Round(gy)))
	default:
		return s.bilinear(gx-0.5, gy-0.5)
	}
}

// sampler reads single samples by global pixel position within a level.
type sampler struct {
	ctx   context.Context
	src   *Source
	level tiles.ZoomLevel
}

func (s sampler) at(px, py int) float64 {
	if px < 0 || py < 0 {
		return math.NaN()
	}
	z := s.level
	col, row := px/z.TileWidth, py/z.TileHeight
	if !z.Contains(col, row) {
		return math.NaN()
	}
	t, err := s.src.Tile(s.ctx, z.Level, col, row)
	if err != nil || t == nil {
		return math.NaN()
	}
	return t.At(px-col*z.TileWidth, py-row*z.TileHeight)
}

// bilinear interpolates between the four samples around (fx, fy), where
// integer positions are sample centres. It falls back to the nearest
// sample when any neighbour is missing.
func (s sampler) bilinear(fx, fy float64) float64 {
	x0, y0 := math.Floor(fx), math.Floor(fy)
	dx, dy := fx-x0, fy-y0
	ix, iy := int(x0), int(y0)

	v00 := s.at(ix, iy)
	v10 := s.at(ix+1, iy)
	v01 := s.at(ix, iy+1)
	v11 := s.at(ix+1, iy+1)
	if math.IsNaN(v00) || math.IsNaN(v10) || math.IsNaN(v01) || math.IsNaN(v11) {
		return s.at(int(math.Round(fx)), int(math.Round(fy)))
	}

	top := v00*(1-dx) + v10*dx
	bottom := v01*(1-dx) + v11*dx
	return top*(1-dy) + bottom*dy
}

func filterContains(g orb.Geometry, p orb.Point) bool {
	switch f := g.(type) {
	case nil:
		return true
	case orb.Point:
		return math.Abs(f.X()-p.X()) <= pointEpsilon && math.Abs(f.Y()-p.Y()) <= pointEpsilon
	case orb.Bound:
		return f.Contains(p)
	case orb.Ring:
		return planar.RingContains(f, p)
	case orb.Polygon:
		return planar.PolygonContains(f, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(f, p)
	default:
		return false
	}
}
