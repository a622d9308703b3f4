// Package gpkg reads and writes GeoPackage tile pyramids, including the
// 2D gridded coverage extension used for elevation data.
package gpkg

import (
	"bytes"
	"context"

	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

const (
	sqliteMagic = "SQLite format 3\x00"

	// applicationID is "GPKG" read as a big-endian 32-bit integer.
	applicationID = 0x47504B47
	userVersion   = 10300

	applicationIDOffset = 68
)

// Provider opens GeoPackage archives.
type Provider struct {
	priority int
}

var _ tiles.Provider = (*Provider)(nil)

func NewProvider() *Provider {
	return &Provider{priority: 10}
}

func (p *Provider) Name() string         { return "gpkg" }
func (p *Provider) Family() tiles.Family { return tiles.FamilyContainer }
func (p *Provider) Priority() int        { return p.priority }

// Probe accepts SQLite files whose application id is "GPKG".
func (p *Provider) Probe(res tiles.Resource) bool {
	h := res.Header
	if len(h) < applicationIDOffset+4 || !bytes.HasPrefix(h, []byte(sqliteMagic)) {
		return false
	}
	return string(h[applicationIDOffset:applicationIDOffset+4]) == "GPKG"
}

func (p *Provider) Open(ctx context.Context, res tiles.Resource, opts tiles.OpenOptions) (tiles.TileContainer, error) {
	return Open(ctx, res.Path, OpenOptions{Writable: opts.Writable, Logger: opts.Logger})
}
