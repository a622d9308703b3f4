// Package tiledir serves tile pyramids stored as z/x/y files in a directory
// described by a tileset.yaml file.
//
// Layout:
//
//	dem/
//	  tileset.yaml
//	  0/0/0.png
//	  0/0/0.anc.yaml   (per-tile coverage ancillary, optional)
//	  1/0/0.png
//	  ...
package tiledir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/paulmach/orb/maptile"
	"gopkg.in/yaml.v2"
)

// DescriptorName is the tile-set descriptor file inside a tile directory.
const DescriptorName = "tileset.yaml"

// Descriptor is the YAML tile-set description.
type Descriptor struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Content     string            `yaml:"content"`
	SRID        int               `yaml:"srid"`
	Format      string            `yaml:"format"`
	MinZoom     int               `yaml:"minZoom"`
	MaxZoom     int               `yaml:"maxZoom"`
	TileSize    int               `yaml:"tileSize"`
	Bounds      []float64         `yaml:"bounds,omitempty"` // minLon, minLat, maxLon, maxLat
	Coverage    *CoverageSpec     `yaml:"coverage,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

// CoverageSpec is the YAML form of a gridded coverage.
type CoverageSpec struct {
	Datatype         string  `yaml:"datatype"`
	Scale            float64 `yaml:"scale"`
	Offset           float64 `yaml:"offset"`
	DataNull         float64 `yaml:"dataNull"`
	GridCellEncoding string  `yaml:"gridCellEncoding,omitempty"`
	UnitsToMeters    float64 `yaml:"unitsToMeters,omitempty"`
	UOM              string  `yaml:"uom,omitempty"`
}

// GriddedCoverage converts s, filling datatype defaults.
func (s CoverageSpec) GriddedCoverage(name string) coverage.GriddedCoverage {
	datatype := coverage.Datatype(s.Datatype)
	if datatype == "" {
		datatype = coverage.DatatypeInteger
	}
	cov := coverage.DefaultCoverage(datatype)
	cov.TileMatrixSetName = name
	cov.Scale = s.Scale
	cov.Offset = s.Offset
	if s.DataNull != 0 {
		cov.DataNull = s.DataNull
	}
	if s.GridCellEncoding != "" {
		cov.GridCellEncoding = coverage.GridCellEncoding(s.GridCellEncoding)
	}
	if s.UnitsToMeters != 0 {
		cov.UnitsToMeters = s.UnitsToMeters
	}
	if s.UOM != "" {
		cov.UOM = s.UOM
	}
	return cov
}

// Container is a tile directory.
type Container struct {
	dir      string
	desc     Descriptor
	levels   []tiles.ZoomLevel
	bounds   tiles.Bounds
	writable bool
	mu       sync.RWMutex // guards desc.Metadata and descriptor writes
	controls []any
	disposed atomic.Bool
	log      logger.Logger
}

var _ tiles.TileContainer = (*Container)(nil)

// ReadDescriptor loads dir/tileset.yaml.
func ReadDescriptor(dir string) (Descriptor, error) {
	var d Descriptor
	data, err := os.ReadFile(filepath.Join(dir, DescriptorName))
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", DescriptorName, err)
	}
	return d, nil
}

// Open opens the tile directory dir.
func Open(dir string, writable bool, l logger.Logger) (*Container, error) {
	desc, err := ReadDescriptor(dir)
	if err != nil {
		return nil, err
	}
	return newContainer(dir, desc, writable, l)
}

// Create writes a descriptor into dir (created if needed) and opens it for writing.
func Create(dir string, desc Descriptor, l logger.Logger) (*Container, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := writeDescriptor(dir, desc); err != nil {
		return nil, err
	}
	return newContainer(dir, desc, true, l)
}

func newContainer(dir string, desc Descriptor, writable bool, l logger.Logger) (*Container, error) {
	if desc.SRID == 0 {
		desc.SRID = tiles.SRIDWebMercator
	}
	if desc.Format == "" {
		desc.Format = "png"
	}
	if desc.Name == "" {
		desc.Name = filepath.Base(dir)
	}

	levels, err := tiles.XYZLevels(desc.SRID, desc.MinZoom, desc.MaxZoom, desc.TileSize)
	if err != nil {
		return nil, err
	}

	c := &Container{
		dir:      dir,
		desc:     desc,
		levels:   levels,
		writable: writable,
		log:      logger.OrNop(l),
	}

	if len(desc.Bounds) == 4 {
		c.bounds = tiles.Bounds{MinLon: desc.Bounds[0], MinLat: desc.Bounds[1], MaxLon: desc.Bounds[2], MaxLat: desc.Bounds[3]}
	} else {
		c.bounds = c.scanBounds()
	}

	if desc.Coverage != nil {
		cov := desc.Coverage.GriddedCoverage(desc.Name)
		if _, err := coverage.NewCodec(cov); err != nil {
			return nil, err
		}
		c.controls = append(c.controls, &ancillaryControl{c: c, cov: cov})
	}
	return c, nil
}

// scanBounds derives coverage from the tiles present at the deepest level.
func (c *Container) scanBounds() tiles.Bounds {
	z := c.desc.MaxZoom
	var out tiles.Bounds
	found := false

	root := filepath.Join(c.dir, strconv.Itoa(z))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != "."+c.desc.Format {
			return nil
		}
		x, err1 := strconv.Atoi(filepath.Base(filepath.Dir(path)))
		y, err2 := strconv.Atoi(trimExt(filepath.Base(path)))
		if err1 != nil || err2 != nil {
			return nil
		}
		b := c.tileBounds(z, x, y)
		if !found {
			out, found = b, true
		} else {
			out = out.Union(b)
		}
		return nil
	})

	if !found {
		if c.desc.SRID == tiles.SRIDWGS84 {
			return tiles.Bounds{MinLon: -180, MaxLon: 180, MinLat: -90, MaxLat: 90}
		}
		return tiles.BoundsFromOrb(maptile.New(0, 0, 0).Bound())
	}
	return out
}

func (c *Container) tileBounds(z, x, y int) tiles.Bounds {
	if c.desc.SRID == tiles.SRIDWebMercator {
		return tiles.BoundsFromOrb(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound())
	}
	span := 180 / math.Exp2(float64(z))
	return tiles.Bounds{
		MinLon: -180 + float64(x)*span,
		MaxLon: -180 + float64(x+1)*span,
		MaxLat: 90 - float64(y)*span,
		MinLat: 90 - float64(y+1)*span,
	}
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func (c *Container) tilePath(level, x, y int, ext string) string {
	return filepath.Join(c.dir, strconv.Itoa(level), strconv.Itoa(x), strconv.Itoa(y)+"."+ext)
}

func (c *Container) Name() string                  { return c.desc.Name }
func (c *Container) SRID() int                     { return c.desc.SRID }
func (c *Container) Bounds() tiles.Bounds          { return c.bounds }
func (c *Container) ZoomLevels() []tiles.ZoomLevel { return append([]tiles.ZoomLevel(nil), c.levels...) }

func (c *Container) TileData(ctx context.Context, level, x, y int) ([]byte, error) {
	if c.disposed.Load() {
		return nil, tiles.ErrDisposed
	}
	if _, err := tiles.CheckTile(c.levels, level, x, y); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.tilePath(level, x, y, c.desc.Format))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, tiles.ErrTileNotFound
	}
	return data, err
}

func (c *Container) SetTileData(ctx context.Context, level, x, y int, data []byte) error {
	if c.disposed.Load() {
		return tiles.ErrDisposed
	}
	if !c.writable {
		return tiles.ErrReadOnly
	}
	if _, err := tiles.CheckTile(c.levels, level, x, y); err != nil {
		return err
	}
	path := c.tilePath(level, x, y, c.desc.Format)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (c *Container) Metadata(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch key {
	case tiles.MetadataContent:
		return c.desc.Content
	case tiles.MetadataName:
		return c.desc.Name
	case tiles.MetadataDescription:
		return c.desc.Description
	}
	return c.desc.Metadata[key]
}

// SetMetadata updates the descriptor on disk.
func (c *Container) SetMetadata(key, value string) error {
	if c.disposed.Load() {
		return tiles.ErrDisposed
	}
	if !c.writable {
		return tiles.ErrReadOnly
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch key {
	case tiles.MetadataContent:
		c.desc.Content = value
	case tiles.MetadataDescription:
		c.desc.Description = value
	default:
		if c.desc.Metadata == nil {
			c.desc.Metadata = map[string]string{}
		}
		c.desc.Metadata[key] = value
	}
	return writeDescriptor(c.dir, c.desc)
}

func (c *Container) Controls() []any {
	return append([]any(nil), c.controls...)
}

func (c *Container) Dispose() error {
	c.disposed.Store(true)
	return nil
}

func writeDescriptor(dir string, desc Descriptor) error {
	data, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, DescriptorName), data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
