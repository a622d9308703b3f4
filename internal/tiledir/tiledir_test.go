package tiledir

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWriteReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "dem")

	c, err := Create(dir, Descriptor{
		Name:     "dem",
		Content:  tiles.ContentTerrain,
		SRID:     tiles.SRIDWGS84,
		MinZoom:  0,
		MaxZoom:  2,
		TileSize: 8,
		Coverage: &CoverageSpec{Datatype: "integer", Scale: 0.5, Offset: -100},
	}, nil)
	require.NoError(t, err)

	tile := coverage.NewTile(8, 8)
	for i := range tile.Values {
		tile.Values[i] = float64(i * 10)
	}
	require.NoError(t, coverage.WriteTile(ctx, c, 2, 1, 3, tile))
	require.NoError(t, c.SetMetadata("source", "survey"))

	p := NewProvider()
	res := tiles.ReadResource(dir)
	require.True(t, p.Probe(res))
	assert.True(t, p.Probe(tiles.ReadResource(filepath.Join(dir, DescriptorName))))

	opened, err := p.Open(ctx, res, tiles.OpenOptions{})
	require.NoError(t, err)
	defer opened.Dispose()

	assert.Equal(t, tiles.ContentTerrain, tiles.Content(opened))
	assert.Equal(t, "survey", opened.Metadata("source"))

	b := opened.Bounds()
	assert.InDelta(t, -135.0, b.MinLon, 1e-9)
	assert.InDelta(t, -90.0, b.MaxLon, 1e-9)
	assert.InDelta(t, -90.0, b.MinLat, 1e-9)
	assert.InDelta(t, -45.0, b.MaxLat, 1e-9)

	back, err := coverage.ReadTile(ctx, opened, 2, 1, 3)
	require.NoError(t, err)
	for i := range tile.Values {
		assert.InDelta(t, tile.Values[i], back.Values[i], 0.5)
	}

	assert.ErrorIs(t, opened.SetTileData(ctx, 2, 0, 0, []byte{1}), tiles.ErrReadOnly)
	_, err = opened.TileData(ctx, 2, 0, 0)
	assert.ErrorIs(t, err, tiles.ErrTileNotFound)
}

func TestProbeRejectsPlainDirectory(t *testing.T) {
	assert.False(t, NewProvider().Probe(tiles.ReadResource(t.TempDir())))
}
