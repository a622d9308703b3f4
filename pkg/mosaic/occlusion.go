package mosaic

import (
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/dhconnelly/rtreego"
)

// occluder is an R-tree entry for an accepted frame.
type occluder struct {
	bounds tiles.Bounds
}

// Bounds method for rtreego.Spatial interface.
func (o *occluder) Bounds() rtreego.Rect {
	return o.bounds.Rect()
}

// OcclusionCalculator answers whether an area is fully covered by the
// frames added so far. Frames must be added in priority order.
type OcclusionCalculator struct {
	rtree *rtreego.Rtree
	count int
}

func NewOcclusionCalculator() *OcclusionCalculator {
	return &OcclusionCalculator{rtree: rtreego.NewTree(2, 25, 50)}
}

// Add records b as covered.
func (o *OcclusionCalculator) Add(b tiles.Bounds) {
	o.rtree.Insert(&occluder{bounds: b})
	o.count++
}

// Len returns the number of added areas.
func (o *OcclusionCalculator) Len() int {
	return o.count
}

// Occluded reports whether b is entirely covered by added areas.
func (o *OcclusionCalculator) Occluded(b tiles.Bounds) bool {
	if o.count == 0 || b.Area() <= 0 {
		return false
	}

	remaining := []tiles.Bounds{b}
	for _, hit := range o.rtree.SearchIntersect(b.Rect()) {
		cover := hit.(*occluder).bounds
		var next []tiles.Bounds
		for _, r := range remaining {
			next = append(next, subtract(r, cover)...)
		}
		remaining = next
		if len(remaining) == 0 {
			return true
		}
	}
	return false
}

// subtract returns the parts of r not covered by cut, as at most four
// non-overlapping rectangles.
func subtract(r, cut tiles.Bounds) []tiles.Bounds {
	in, ok := r.Intersection(cut)
	if !ok {
		return []tiles.Bounds{r}
	}

	var out []tiles.Bounds
	if in.MinLon > r.MinLon {
		out = append(out, tiles.Bounds{MinLon: r.MinLon, MaxLon: in.MinLon, MinLat: r.MinLat, MaxLat: r.MaxLat})
	}
	if in.MaxLon < r.MaxLon {
		out = append(out, tiles.Bounds{MinLon: in.MaxLon, MaxLon: r.MaxLon, MinLat: r.MinLat, MaxLat: r.MaxLat})
	}
	if in.MinLat > r.MinLat {
		out = append(out, tiles.Bounds{MinLon: in.MinLon, MaxLon: in.MaxLon, MinLat: r.MinLat, MaxLat: in.MinLat})
	}
	if in.MaxLat < r.MaxLat {
		out = append(out, tiles.Bounds{MinLon: in.MinLon, MaxLon: in.MaxLon, MinLat: in.MaxLat, MaxLat: r.MaxLat})
	}
	return out
}
