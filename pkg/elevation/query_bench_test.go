package elevation

import (
	"context"
	"math/rand"
	"testing"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/paulmach/orb"
)

// Benchmark point queries against a manager holding many small sources.
// The R-tree keeps planning cost tied to the sources under the point.

func buildManager(b *testing.B, n int) *Manager {
	b.Helper()
	levels, err := tiles.XYZLevels(tiles.SRIDWGS84, 0, 0, testTileSize)
	if err != nil {
		b.Fatal(err)
	}

	rng := rand.New(rand.NewSource(1))
	mgr := NewManager(nil)
	for i := 0; i < n; i++ {
		lon := rng.Float64()*340 - 170
		lat := rng.Float64()*160 - 80
		bounds := tiles.Bounds{MinLon: lon, MaxLon: lon + 1, MinLat: lat, MaxLat: lat + 1}

		mc, err := tiles.NewMemoryContainer("bench", tiles.SRIDWGS84, bounds, levels)
		if err != nil {
			b.Fatal(err)
		}
		mc.AddControl(coverage.NewMemoryControl(coverage.DefaultCoverage(coverage.DatatypeInteger)))
		src, err := NewSource("bench", mc, SourceOptions{})
		if err != nil {
			b.Fatal(err)
		}
		mgr.Attach(src)
	}
	return mgr
}

// BenchmarkQuery_Point benchmarks planning a point query over 10,000 sources.
func BenchmarkQuery_Point(b *testing.B) {
	mgr := buildManager(b, 10000)
	ctx := context.Background()
	filter := orb.Point{-71.05, 42.05}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cur, err := mgr.Query(ctx, QueryParams{Filter: filter})
		if err != nil {
			b.Fatal(err)
		}
		cur.Close()
	}
}

// BenchmarkQuery_LargeBound benchmarks a 20x20 degree area query.
func BenchmarkQuery_LargeBound(b *testing.B) {
	mgr := buildManager(b, 10000)
	ctx := context.Background()
	filter := orb.Bound{Min: orb.Point{-80, 30}, Max: orb.Point{-60, 50}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cur, err := mgr.Query(ctx, QueryParams{Filter: filter})
		if err != nil {
			b.Fatal(err)
		}
		for cur.Next() {
		}
		cur.Close()
	}
}
