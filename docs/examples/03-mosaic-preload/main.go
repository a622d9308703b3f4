package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/beetlebugorg/tilestack/pkg/mosaic"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

// raster is a stand-in for an uploaded texture.
type raster struct {
	frame mosaic.Frame
}

func (r *raster) Frame() mosaic.Frame { return r.frame }
func (r *raster) Size() int64         { return 4 << 20 }
func (r *raster) Release() error {
	fmt.Printf("  released %s\n", r.frame.Path)
	return nil
}

func main() {
	// A strip of sheets at two resolutions
	var frames []mosaic.Frame
	for i := 0; i < 4; i++ {
		lon := 7 + float64(i)*0.5
		frames = append(frames, mosaic.Frame{
			Path:       fmt.Sprintf("sheets/fine-%d", i),
			Bounds:     tiles.Bounds{MinLon: lon, MaxLon: lon + 0.5, MinLat: 46, MaxLat: 46.5},
			Resolution: 10,
		})
	}
	frames = append(frames, mosaic.Frame{
		Path:       "sheets/overview",
		Bounds:     tiles.Bounds{MinLon: 6, MaxLon: 10, MinLat: 45, MaxLat: 48},
		Resolution: 90,
	})

	query := mosaic.FrameQueryFunc(func(ctx context.Context, view mosaic.View) ([]mosaic.Frame, error) {
		return frames, nil
	})
	factory := mosaic.FactoryFunc(func(ctx context.Context, f mosaic.Frame) (mosaic.Renderable, error) {
		time.Sleep(20 * time.Millisecond)
		return &raster{frame: f}, nil
	})

	layer := mosaic.NewLayer(query, factory, mosaic.Config{
		Workers:    2,
		CacheBytes: 16 << 20,
	})
	defer layer.Close()

	layer.Start()

	// Each pump is one render frame
	views := []mosaic.View{
		{Bounds: tiles.Bounds{MinLon: 7, MaxLon: 8, MinLat: 46, MaxLat: 46.5}},
		{Bounds: tiles.Bounds{MinLon: 7, MaxLon: 8, MinLat: 46, MaxLat: 46.5}},
		{Bounds: tiles.Bounds{MinLon: 6, MaxLon: 10, MinLat: 45, MaxLat: 48}},
	}
	for i, view := range views {
		layer.Pump(view)
		n := layer.WaitForPreload()
		fmt.Printf("Frame %d: requested %d, resident %d\n", i, n, len(layer.Resident(view)))
	}

	stats := layer.Frames().Stats()
	fmt.Printf("Cache: %d frames, %d of %d bytes\n", stats.FrameCount, stats.UsedMemory, stats.MaxMemory)
}
