package tiles

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// Bounds is a WGS-84 bounding box in decimal degrees.
type Bounds struct {
	MinLon float64
	MaxLon float64
	MinLat float64
	MaxLat float64
}

// rectEpsilon gives degenerate (point or line) bounds a non-zero extent,
// rtreego rejects zero-length sides.
const rectEpsilon = 1e-9

// Contains reports whether (lon, lat) lies in b, edges included.
func (b Bounds) Contains(lon, lat float64) bool {
	return b.MinLon <= lon && lon <= b.MaxLon && b.MinLat <= lat && lat <= b.MaxLat
}

// Intersects reports whether b and other share at least an edge.
func (b Bounds) Intersects(other Bounds) bool {
	return b.MinLon <= other.MaxLon && other.MinLon <= b.MaxLon &&
		b.MinLat <= other.MaxLat && other.MinLat <= b.MaxLat
}

// Covers reports whether other lies entirely inside b.
func (b Bounds) Covers(other Bounds) bool {
	return other.MinLon >= b.MinLon && other.MaxLon <= b.MaxLon &&
		other.MinLat >= b.MinLat && other.MaxLat <= b.MaxLat
}

// Expand grows b by margin degrees on every side.
func (b Bounds) Expand(margin float64) Bounds {
	return Bounds{
		MinLon: b.MinLon - margin,
		MaxLon: b.MaxLon + margin,
		MinLat: b.MinLat - margin,
		MaxLat: b.MaxLat + margin,
	}
}

// Union returns the smallest bounds containing both b and other.
func (b Bounds) Union(other Bounds) Bounds {
	return Bounds{
		MinLon: math.Min(b.MinLon, other.MinLon),
		MaxLon: math.Max(b.MaxLon, other.MaxLon),
		MinLat: math.Min(b.MinLat, other.MinLat),
		MaxLat: math.Max(b.MaxLat, other.MaxLat),
	}
}

// Intersection returns the overlap of b and other. ok is false when they
// do not overlap with a positive area.
func (b Bounds) Intersection(other Bounds) (Bounds, bool) {
	out := Bounds{
		MinLon: math.Max(b.MinLon, other.MinLon),
		MaxLon: math.Min(b.MaxLon, other.MaxLon),
		MinLat: math.Max(b.MinLat, other.MinLat),
		MaxLat: math.Min(b.MaxLat, other.MaxLat),
	}
	if out.MinLon >= out.MaxLon || out.MinLat >= out.MaxLat {
		return Bounds{}, false
	}
	return out, true
}

// Area returns the planar area of the bounds in square degrees.
func (b Bounds) Area() float64 {
	if b.MaxLon <= b.MinLon || b.MaxLat <= b.MinLat {
		return 0
	}
	return (b.MaxLon - b.MinLon) * (b.MaxLat - b.MinLat)
}

// Rect converts the bounds to an R-tree rectangle.
func (b Bounds) Rect() rtreego.Rect {
	point := rtreego.Point{b.MinLon, b.MinLat}
	lengths := []float64{
		math.Max(b.MaxLon-b.MinLon, rectEpsilon),
		math.Max(b.MaxLat-b.MinLat, rectEpsilon),
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

// Bound converts to an orb bound (X = longitude, Y = latitude).
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// BoundsFromOrb converts an orb bound to Bounds.
func BoundsFromOrb(b orb.Bound) Bounds {
	return Bounds{
		MinLon: b.Min.Lon(),
		MaxLon: b.Max.Lon(),
		MinLat: b.Min.Lat(),
		MaxLat: b.Max.Lat(),
	}
}
