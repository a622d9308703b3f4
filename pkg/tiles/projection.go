package tiles

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projection converts between WGS-84 and a container's native CRS.
type Projection interface {
	SRID() int
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
}

// ProjectionFor returns the projection for srid.
func ProjectionFor(srid int) (Projection, error) {
	switch srid {
	case SRIDWGS84, 0:
		return geographic{}, nil
	case SRIDWebMercator, 900913:
		return webMercator{}, nil
	default:
		return nil, &ErrUnsupportedSRID{SRID: srid}
	}
}

type geographic struct{}

func (geographic) SRID() int                                   { return SRIDWGS84 }
func (geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (geographic) Inverse(x, y float64) (float64, float64)     { return x, y }

type webMercator struct{}

func (webMercator) SRID() int { return SRIDWebMercator }

func (webMercator) Forward(lon, lat float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p.X(), p.Y()
}

func (webMercator) Inverse(x, y float64) (float64, float64) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p.Lon(), p.Lat()
}

// NativeBounds projects WGS-84 bounds into the native CRS of p.
func NativeBounds(p Projection, b Bounds) (minX, minY, maxX, maxY float64) {
	minX, minY = p.Forward(b.MinLon, b.MinLat)
	maxX, maxY = p.Forward(b.MaxLon, b.MaxLat)
	return minX, minY, maxX, maxY
}

// GeographicBounds unprojects a native extent to WGS-84 bounds.
func GeographicBounds(p Projection, minX, minY, maxX, maxY float64) Bounds {
	minLon, minLat := p.Inverse(minX, minY)
	maxLon, maxLat := p.Inverse(maxX, maxY)
	return Bounds{MinLon: minLon, MaxLon: maxLon, MinLat: minLat, MaxLat: maxLat}
}
