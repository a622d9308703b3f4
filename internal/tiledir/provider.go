package tiledir

import (
	"context"
	"os"
	"path/filepath"

	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

// Provider opens tile directories.
type Provider struct{}

var _ tiles.Provider = Provider{}

func NewProvider() Provider { return Provider{} }

func (Provider) Name() string         { return "tiledir" }
func (Provider) Family() tiles.Family { return tiles.FamilyContainer }
func (Provider) Priority() int        { return 5 }

// Probe accepts a directory holding a tile-set descriptor, or the
// descriptor file itself.
func (Provider) Probe(res tiles.Resource) bool {
	dir := res.Path
	if filepath.Base(dir) == DescriptorName {
		dir = filepath.Dir(dir)
	}
	info, err := os.Stat(filepath.Join(dir, DescriptorName))
	return err == nil && info.Mode().IsRegular()
}

func (Provider) Open(ctx context.Context, res tiles.Resource, opts tiles.OpenOptions) (tiles.TileContainer, error) {
	dir := res.Path
	if filepath.Base(dir) == DescriptorName {
		dir = filepath.Dir(dir)
	}
	return Open(dir, opts.Writable, opts.Logger)
}
