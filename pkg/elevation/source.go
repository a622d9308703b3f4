package elevation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/maypok86/otter/v2"
)

// ErrSourceClosed is returned by operations on a closed source.
var ErrSourceClosed = errors.New("elevation source closed")

type tileID struct {
	level, x, y int
}

// Source is a queryable elevation data set backed by a tile container.
//
// Decoded tiles are cached per source. A Source owns its container:
// Close disposes it.
type Source struct {
	path      string
	provider  string
	container tiles.TileContainer
	control   coverage.Control
	codec     *coverage.Codec
	proj      tiles.Projection
	levels    []tiles.ZoomLevel
	bounds    tiles.Bounds
	decoded   *otter.Cache[tileID, *coverage.Tile]
	closed    atomic.Bool
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	// Provider names the provider that opened the container.
	Provider string

	// TileCacheSize bounds the number of decoded tiles kept in memory.
	// Default: 256
	TileCacheSize int
}

// NewSource wraps container. The container's coverage control is optional;
// without one every sample is NaN.
func NewSource(path string, container tiles.TileContainer, opts SourceOptions) (*Source, error) {
	if opts.TileCacheSize <= 0 {
		opts.TileCacheSize = 256
	}

	proj, err := tiles.ProjectionFor(container.SRID())
	if err != nil {
		return nil, err
	}

	s := &Source{
		path:      path,
		provider:  opts.Provider,
		container: container,
		proj:      proj,
		levels:    container.ZoomLevels(),
		bounds:    container.Bounds(),
	}
	tiles.SortZoomLevels(s.levels)

	if ctl, codec, err := coverage.CodecFor(container); err == nil {
		s.control, s.codec = ctl, codec
	} else if !errors.Is(err, coverage.ErrNoCoverage) {
		return nil, err
	}

	s.decoded, err = otter.New(&otter.Options[tileID, *coverage.Tile]{
		MaximumSize: opts.TileCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create tile cache: %w", err)
	}
	return s, nil
}

func (s *Source) Path() string                   { return s.path }
func (s *Source) Name() string                   { return s.container.Name() }
func (s *Source) Provider() string               { return s.provider }
func (s *Source) Container() tiles.TileContainer { return s.container }
func (s *Source) Bounds() tiles.Bounds           { return s.bounds }
func (s *Source) Content() string                { return tiles.Content(s.container) }
func (s *Source) Levels() []tiles.ZoomLevel      { return append([]tiles.ZoomLevel(nil), s.levels...) }

// HasCoverage reports whether the source carries gridded coverage encoding.
func (s *Source) HasCoverage() bool { return s.codec != nil }

// Coverage returns the gridded coverage parameters, if any.
func (s *Source) Coverage() (coverage.GriddedCoverage, bool) {
	if s.codec == nil {
		return coverage.GriddedCoverage{}, false
	}
	return s.codec.Coverage(), true
}

// LevelResolution returns the ground sample distance of z in meters,
// measured at the centre of the source.
func (s *Source) LevelResolution(z tiles.ZoomLevel) float64 {
	lat := (s.bounds.MinLat + s.bounds.MaxLat) / 2
	return z.Resolution * tiles.MetersPerUnit(s.proj.SRID(), lat)
}

// Resolution returns the finest ground sample distance in meters, or +Inf
// for a source without levels.
func (s *Source) Resolution() float64 {
	if len(s.levels) == 0 {
		return math.Inf(1)
	}
	return s.LevelResolution(s.levels[len(s.levels)-1])
}

// Tile returns the decoded tile, or nil when the tile has no data.
func (s *Source) Tile(ctx context.Context, level, x, y int) (*coverage.Tile, error) {
	if s.closed.Load() {
		return nil, ErrSourceClosed
	}
	if s.codec == nil {
		return nil, coverage.ErrNoCoverage
	}
	return s.decoded.Get(ctx, tileID{level, x, y}, otter.LoaderFunc[tileID, *coverage.Tile](s.loadTile))
}

func (s *Source) loadTile(ctx context.Context, id tileID) (*coverage.Tile, error) {
	t, err := coverage.ReadTile(ctx, s.container, id.level, id.x, id.y)
	if errors.Is(err, tiles.ErrTileNotFound) {
		// Cached as a known hole.
		return nil, nil
	}
	return t, err
}

// Close disposes the underlying container. It is safe to call more than once.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.decoded.InvalidateAll()
	return s.container.Dispose()
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	return s.closed.Load()
}
