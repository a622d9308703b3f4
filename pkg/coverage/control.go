package coverage

import (
	"context"
	"fmt"
	"sync"

	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

// Control is the container extension exposing gridded coverage encoding.
//
// Containers that hold elevation data attach a Control to their
// Controls() list; tiles.ControlOf[coverage.Control] retrieves it.
type Control interface {
	Coverage() GriddedCoverage
	// TileAncillary returns the ancillary stored for a tile, or
	// IdentityAncillary when none was recorded.
	TileAncillary(ctx context.Context, level, x, y int) (TileAncillary, error)
	SetTileAncillary(ctx context.Context, level, x, y int, anc TileAncillary) error
}

// MemoryControl is an in-memory Control, paired with tiles.MemoryContainer.
type MemoryControl struct {
	cov GriddedCoverage
	mu  sync.RWMutex
	anc map[[3]int]TileAncillary
}

var _ Control = (*MemoryControl)(nil)

// NewMemoryControl creates an in-memory control for cov.
func NewMemoryControl(cov GriddedCoverage) *MemoryControl {
	return &MemoryControl{cov: cov, anc: make(map[[3]int]TileAncillary)}
}

func (m *MemoryControl) Coverage() GriddedCoverage { return m.cov }

func (m *MemoryControl) TileAncillary(ctx context.Context, level, x, y int) (TileAncillary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.anc[[3]int{level, x, y}]; ok {
		return a, nil
	}
	return IdentityAncillary(), nil
}

func (m *MemoryControl) SetTileAncillary(ctx context.Context, level, x, y int, anc TileAncillary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anc[[3]int{level, x, y}] = anc
	return nil
}

// CodecFor returns the coverage control of c and a codec for it.
func CodecFor(c tiles.TileContainer) (Control, *Codec, error) {
	ctl, ok := tiles.ControlOf[Control](c)
	if !ok {
		return nil, nil, ErrNoCoverage
	}
	codec, err := NewCodec(ctl.Coverage())
	if err != nil {
		return nil, nil, err
	}
	return ctl, codec, nil
}

// WriteTile quantizes t and stores it, with its ancillary, in c.
func WriteTile(ctx context.Context, c tiles.TileContainer, level, x, y int, t *Tile) error {
	ctl, codec, err := CodecFor(c)
	if err != nil {
		return err
	}
	data, anc, err := codec.EncodeTile(t)
	if err != nil {
		return fmt.Errorf("encode tile %d/%d/%d: %w", level, x, y, err)
	}
	if err := c.SetTileData(ctx, level, x, y, data); err != nil {
		return err
	}
	return ctl.SetTileAncillary(ctx, level, x, y, anc)
}

// ReadTile loads and decodes a tile from c.
func ReadTile(ctx context.Context, c tiles.TileContainer, level, x, y int) (*Tile, error) {
	ctl, codec, err := CodecFor(c)
	if err != nil {
		return nil, err
	}
	z, err := tiles.CheckTile(c.ZoomLevels(), level, x, y)
	if err != nil {
		return nil, err
	}
	data, err := c.TileData(ctx, level, x, y)
	if err != nil {
		return nil, err
	}
	anc, err := ctl.TileAncillary(ctx, level, x, y)
	if err != nil {
		return nil, fmt.Errorf("tile ancillary %d/%d/%d: %w", level, x, y, err)
	}
	return codec.DecodeTile(data, z.TileWidth, z.TileHeight, anc)
}
