package tiles

import (
	"context"
	"sync"
)

type tileKey struct {
	level, x, y int
}

// MemoryContainer is a TileContainer held entirely in memory.
//
// It is used to stage tiles before they are written to a persistent
// container, and as a lightweight container in tests.
type MemoryContainer struct {
	mu       sync.RWMutex
	name     string
	srid     int
	bounds   Bounds
	levels   []ZoomLevel
	tiles    map[tileKey][]byte
	meta     map[string]string
	controls []any
	disposed bool
}

var _ TileContainer = (*MemoryContainer)(nil)

// NewMemoryContainer creates an empty container over the given levels.
func NewMemoryContainer(name string, srid int, bounds Bounds, levels []ZoomLevel) (*MemoryContainer, error) {
	lv := append([]ZoomLevel(nil), levels...)
	SortZoomLevels(lv)
	if err := ValidateZoomLevels(lv); err != nil {
		return nil, err
	}
	return &MemoryContainer{
		name:   name,
		srid:   srid,
		bounds: bounds,
		levels: lv,
		tiles:  make(map[tileKey][]byte),
		meta:   make(map[string]string),
	}, nil
}

// AddControl attaches an extension control.
func (m *MemoryContainer) AddControl(ctl any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = append(m.controls, ctl)
}

func (m *MemoryContainer) Name() string { return m.name }
func (m *MemoryContainer) SRID() int    { return m.srid }
func (m *MemoryContainer) Bounds() Bounds {
	return m.bounds
}

func (m *MemoryContainer) ZoomLevels() []ZoomLevel {
	return append([]ZoomLevel(nil), m.levels...)
}

func (m *MemoryContainer) TileData(ctx context.Context, level, x, y int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disposed {
		return nil, ErrDisposed
	}
	if _, err := CheckTile(m.levels, level, x, y); err != nil {
		return nil, err
	}
	data, ok := m.tiles[tileKey{level, x, y}]
	if !ok {
		return nil, ErrTileNotFound
	}
	return data, nil
}

func (m *MemoryContainer) SetTileData(ctx context.Context, level, x, y int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}
	if _, err := CheckTile(m.levels, level, x, y); err != nil {
		return err
	}
	m.tiles[tileKey{level, x, y}] = append([]byte(nil), data...)
	return nil
}

// TileCount returns the number of stored tiles.
func (m *MemoryContainer) TileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tiles)
}

func (m *MemoryContainer) Metadata(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta[key]
}

func (m *MemoryContainer) SetMetadata(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	m.meta[key] = value
	return nil
}

func (m *MemoryContainer) Controls() []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]any(nil), m.controls...)
}

func (m *MemoryContainer) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.tiles = nil
	return nil
}
