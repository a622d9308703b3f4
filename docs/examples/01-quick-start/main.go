package main

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

// buildDEM creates an in-memory terrain pyramid over the Alps whose height
// rises from west to east.
func buildDEM(ctx context.Context) (*tiles.MemoryContainer, error) {
	levels, err := tiles.XYZLevels(tiles.SRIDWGS84, 0, 4, 64)
	if err != nil {
		return nil, err
	}
	bounds := tiles.Bounds{MinLon: 5, MaxLon: 11, MinLat: 44, MaxLat: 48}

	mc, err := tiles.NewMemoryContainer("alps", tiles.SRIDWGS84, bounds, levels)
	if err != nil {
		return nil, err
	}
	cov := coverage.DefaultCoverage(coverage.DatatypeFloat)
	mc.AddControl(coverage.NewMemoryControl(cov))
	if err := mc.SetMetadata(tiles.MetadataContent, tiles.ContentTerrain); err != nil {
		return nil, err
	}

	for _, z := range levels {
		for x := 0; x < z.GridWidth; x++ {
			for y := 0; y < z.GridHeight; y++ {
				tile := coverage.NewTile(z.TileWidth, z.TileHeight)
				for col := 0; col < z.TileWidth; col++ {
					lon := z.OriginX + (float64(x*z.TileWidth+col)+0.5)*z.Resolution
					for row := 0; row < z.TileHeight; row++ {
						tile.Set(col, row, math.Max(0, (lon-5)*500))
					}
				}
				if err := coverage.WriteTile(ctx, mc, z.Level, x, y, tile); err != nil {
					return nil, err
				}
			}
		}
	}
	return mc, nil
}

func main() {
	ctx := context.Background()

	dem, err := buildDEM(ctx)
	if err != nil {
		log.Fatal(err)
	}

	src, err := elevation.NewSource("memory://alps", dem, elevation.SourceOptions{Provider: "memory"})
	if err != nil {
		log.Fatal(err)
	}
	defer src.Close()

	mgr := elevation.NewManager(nil)
	mgr.Attach(src)

	fmt.Printf("Source: %s\n", src.Name())
	fmt.Printf("  Levels: %d\n", len(src.Levels()))
	fmt.Printf("  Finest resolution: %.0f m\n", src.Resolution())

	// Sample at full resolution, then at a coarse resolution
	for _, maxRes := range []float64{0, 50000} {
		h, from, err := mgr.Sample(ctx, 46.0, 8.0, maxRes)
		if err != nil {
			log.Fatal(err)
		}
		if from == nil {
			fmt.Println("No elevation data")
			continue
		}
		fmt.Printf("Elevation at 46.0, 8.0 (max res %.0f m): %.1f m from %s\n", maxRes, h, from.Path())
	}
}
