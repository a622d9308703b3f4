package tiledir

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"gopkg.in/yaml.v2"
)

// ancillaryControl keeps per-tile coverage parameters in z/x/y.anc.yaml files.
type ancillaryControl struct {
	c   *Container
	cov coverage.GriddedCoverage
}

type ancillaryFile struct {
	Scale  float64  `yaml:"scale"`
	Offset float64  `yaml:"offset"`
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`
	Mean   *float64 `yaml:"mean,omitempty"`
	StdDev *float64 `yaml:"stdDev,omitempty"`
}

var _ coverage.Control = (*ancillaryControl)(nil)

func (a *ancillaryControl) Coverage() coverage.GriddedCoverage { return a.cov }

func (a *ancillaryControl) TileAncillary(ctx context.Context, level, x, y int) (coverage.TileAncillary, error) {
	anc := coverage.IdentityAncillary()
	data, err := os.ReadFile(a.c.tilePath(level, x, y, "anc.yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return anc, nil
	}
	if err != nil {
		return anc, err
	}

	var f ancillaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return anc, err
	}
	anc.Scale, anc.Offset = f.Scale, f.Offset
	anc.Min, anc.Max, anc.Mean, anc.StdDev = deref(f.Min), deref(f.Max), deref(f.Mean), deref(f.StdDev)
	return anc, nil
}

func (a *ancillaryControl) SetTileAncillary(ctx context.Context, level, x, y int, anc coverage.TileAncillary) error {
	if !a.c.writable {
		return tiles.ErrReadOnly
	}
	f := ancillaryFile{
		Scale:  anc.Scale,
		Offset: anc.Offset,
		Min:    ref(anc.Min),
		Max:    ref(anc.Max),
		Mean:   ref(anc.Mean),
		StdDev: ref(anc.StdDev),
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	path := a.c.tilePath(level, x, y, "anc.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func ref(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func deref(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}
