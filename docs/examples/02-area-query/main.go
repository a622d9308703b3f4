package main

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/paulmach/orb"
)

// flatSource builds a terrain source at a single constant height.
func flatSource(ctx context.Context, name string, bounds tiles.Bounds, maxZoom int, height float64) (*elevation.Source, error) {
	levels, err := tiles.XYZLevels(tiles.SRIDWGS84, 0, maxZoom, 32)
	if err != nil {
		return nil, err
	}
	mc, err := tiles.NewMemoryContainer(name, tiles.SRIDWGS84, bounds, levels)
	if err != nil {
		return nil, err
	}
	mc.AddControl(coverage.NewMemoryControl(coverage.DefaultCoverage(coverage.DatatypeInteger)))
	if err := mc.SetMetadata(tiles.MetadataContent, tiles.ContentTerrain); err != nil {
		return nil, err
	}

	for _, z := range levels {
		for x := 0; x < z.GridWidth; x++ {
			for y := 0; y < z.GridHeight; y++ {
				tile := coverage.NewTile(z.TileWidth, z.TileHeight)
				for i := range tile.Values {
					tile.Values[i] = height
				}
				if err := coverage.WriteTile(ctx, mc, z.Level, x, y, tile); err != nil {
					return nil, err
				}
			}
		}
	}
	return elevation.NewSource("memory://"+name, mc, elevation.SourceOptions{Provider: "memory"})
}

func main() {
	ctx := context.Background()
	mgr := elevation.NewManager(nil)

	// A coarse global model and a finer regional one on top of it
	global, err := flatSource(ctx, "global", tiles.Bounds{MinLon: -180, MaxLon: 180, MinLat: -90, MaxLat: 90}, 3, 100)
	if err != nil {
		log.Fatal(err)
	}
	defer global.Close()
	regional, err := flatSource(ctx, "regional", tiles.Bounds{MinLon: 7, MaxLon: 9, MinLat: 45, MaxLat: 47}, 6, 1500)
	if err != nil {
		log.Fatal(err)
	}
	defer regional.Close()

	mgr.Attach(global)
	mgr.Attach(regional)

	area := orb.Polygon{{{6.5, 45.5}, {8.5, 45.5}, {8.5, 46.5}, {6.5, 46.5}, {6.5, 45.5}}}

	cur, err := mgr.Query(ctx, elevation.QueryParams{Filter: area})
	if err != nil {
		log.Fatal(err)
	}
	defer cur.Close()

	fmt.Printf("Query returned %d chunks\n", cur.Len())

	// Chunks come finer first, so the first non-NaN sample wins
	var chunks []*elevation.Chunk
	for cur.Next() {
		ch := cur.Chunk()
		chunks = append(chunks, ch)
		b := ch.Bounds()
		fmt.Printf("  %s: level %d, %.0f m, [%.2f,%.2f] to [%.2f,%.2f]\n",
			ch.Source().Name(), ch.Level().Level, ch.Resolution(),
			b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	}

	minH, maxH := math.Inf(1), math.Inf(-1)
	for lat := 45.55; lat < 46.5; lat += 0.1 {
		for lon := 6.55; lon < 8.5; lon += 0.1 {
			for _, ch := range chunks {
				if h := ch.SampleContext(ctx, lat, lon); !math.IsNaN(h) {
					minH, maxH = math.Min(minH, h), math.Max(maxH, h)
					break
				}
			}
		}
	}
	fmt.Printf("Height range over area: %.0f m to %.0f m\n", minH, maxH)
}
