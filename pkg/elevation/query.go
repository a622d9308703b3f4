package elevation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/beetlebugorg/tilestack/pkg/metrics"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/paulmach/orb"
)

// ErrInvalidQuery is returned for unusable query parameters.
var ErrInvalidQuery = errors.New("invalid elevation query")

// QueryParams selects the chunks returned by Manager.Query.
type QueryParams struct {
	// Filter restricts the query to a region given in longitude/latitude.
	// Supported: orb.Point, orb.Bound, orb.Ring, orb.Polygon and
	// orb.MultiPolygon. A nil filter selects the whole world.
	Filter orb.Geometry

	// MaxResolution is the finest acceptable ground sample distance in
	// meters. Zero means unlimited.
	MaxResolution float64
}

func (p QueryParams) validate() error {
	if p.MaxResolution < 0 || math.IsNaN(p.MaxResolution) {
		return fmt.Errorf("%w: max resolution %v", ErrInvalidQuery, p.MaxResolution)
	}
	switch p.Filter.(type) {
	case nil, orb.Point, orb.Bound, orb.Ring, orb.Polygon, orb.MultiPolygon:
		return nil
	default:
		return fmt.Errorf("%w: unsupported filter %s", ErrInvalidQuery, p.Filter.GeoJSONType())
	}
}

// worldBounds is used when the query has no filter.
var worldBounds = tiles.Bounds{MinLon: -180, MaxLon: 180, MinLat: -90, MaxLat: 90}

type plannedChunk struct {
	src        *Source
	seq        uint64
	level      tiles.ZoomLevel
	resolution float64
}

// Query plans one chunk per source intersecting params.Filter. Chunks are
// produced lazily by the returned cursor, finer first and then in attach
// order.
func (m *Manager) Query(ctx context.Context, params QueryParams) (*Cursor, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	metrics.ElevationQueries.Inc()

	area := worldBounds
	if params.Filter != nil {
		area = tiles.BoundsFromOrb(params.Filter.Bound())
	}

	m.mu.RLock()
	hits := m.rtree.SearchIntersect(area.Rect())
	planned := make([]plannedChunk, 0, len(hits))
	for _, h := range hits {
		e := h.(*indexedSource)
		if e.src.Closed() {
			continue
		}
		level, ok := pickLevel(e.src, params.MaxResolution)
		if !ok {
			continue
		}
		planned = append(planned, plannedChunk{
			src:        e.src,
			seq:        e.seq,
			level:      level,
			resolution: e.src.LevelResolution(level),
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(planned, func(i, j int) bool {
		if planned[i].resolution != planned[j].resolution {
			return planned[i].resolution < planned[j].resolution
		}
		return planned[i].seq < planned[j].seq
	})

	return &Cursor{
		ctx:     ctx,
		filter:  params.Filter,
		area:    area,
		planned: planned,
		pos:     -1,
	}, nil
}

// pickLevel returns the finest level of src whose ground resolution is not
// finer than maxRes. When every level is finer, the coarsest level is used.
func pickLevel(src *Source, maxRes float64) (tiles.ZoomLevel, bool) {
	levels := src.levels
	if len(levels) == 0 {
		return tiles.ZoomLevel{}, false
	}
	if maxRes <= 0 {
		return levels[len(levels)-1], true
	}
	for i := len(levels) - 1; i >= 0; i-- {
		if src.LevelResolution(levels[i]) >= maxRes {
			return levels[i], true
		}
	}
	return levels[0], true
}

// Sample returns the first non-NaN elevation at (lat, lon) across the
// chunks of a point query, and the source that supplied it. It returns NaN
// and a nil source when no attached source has data there.
func (m *Manager) Sample(ctx context.Context, lat, lon, maxRes float64) (float64, *Source, error) {
	cur, err := m.Query(ctx, QueryParams{Filter: orb.Point{lon, lat}, MaxResolution: maxRes})
	if err != nil {
		return math.NaN(), nil, err
	}
	defer cur.Close()

	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return math.NaN(), nil, err
		}
		ch := cur.Chunk()
		if v := ch.SampleContext(ctx, lat, lon); !math.IsNaN(v) {
			return v, ch.Source(), nil
		}
	}
	return math.NaN(), nil, nil
}

// Cursor iterates over the chunks of a query. It is not safe for
// concurrent use.
type Cursor struct {
	ctx     context.Context
	filter  orb.Geometry
	area    tiles.Bounds
	planned []plannedChunk
	pos     int
	current *Chunk
	closed  bool
}

// Next advances to the next chunk. It returns false when the cursor is
// exhausted or closed.
func (c *Cursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.planned) {
		c.current = nil
		return false
	}
	c.pos++
	p := c.planned[c.pos]
	c.current = &Chunk{
		src:        p.src,
		level:      p.level,
		resolution: p.resolution,
		filter:     c.filter,
		area:       c.area,
		ctx:        c.ctx,
	}
	return true
}

// Chunk returns the chunk at the cursor position, or nil before the first
// call to Next.
func (c *Cursor) Chunk() *Chunk {
	return c.current
}

// Len returns the total number of chunks the cursor yields.
func (c *Cursor) Len() int {
	return len(c.planned)
}

// Close releases the cursor. Chunks already handed out stay usable while
// their source is open.
func (c *Cursor) Close() error {
	c.closed = true
	c.current = nil
	c.planned = nil
	return nil
}
