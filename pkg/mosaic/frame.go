// Package mosaic keeps the frames of a tiled layer that are visible in the
// current view resident, creating them in the background ahead of drawing.
//
// A render loop calls Pump once per frame with the current view and may
// call WaitForPreload to block until the frames requested by that pump
// exist. Frames fully hidden behind finer frames are skipped both for
// preloading and for drawing.
//
// Example:
//
//	layer := mosaic.NewLayer(
//	    mosaic.ManagerFrameQuery(manager),
//	    mosaic.ContainerFactory(registry, tiles.OpenOptions{}),
//	    mosaic.Config{CacheBytes: 256 << 20},
//	)
//	defer layer.Close()
//	layer.Start()
//
//	for range ticker.C {
//	    layer.Pump(view)
//	    layer.WaitForPreload()
//	    for _, r := range layer.Resident(view) {
//	        draw(r)
//	    }
//	}
package mosaic

import (
	"context"
	"fmt"
	"sort"

	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

// Frame is one drawable tile set, identified by its path.
type Frame struct {
	Path       string
	Bounds     tiles.Bounds
	Resolution float64 // meters per pixel, smaller is finer
}

// View is the area being drawn.
type View struct {
	Bounds tiles.Bounds
	// Resolution is the finest ground resolution worth loading, in meters.
	// Zero means unlimited.
	Resolution float64
}

// FrameQuery lists the frames relevant to a view.
type FrameQuery interface {
	Frames(ctx context.Context, view View) ([]Frame, error)
}

// FrameQueryFunc adapts a function to FrameQuery.
type FrameQueryFunc func(ctx context.Context, view View) ([]Frame, error)

func (f FrameQueryFunc) Frames(ctx context.Context, view View) ([]Frame, error) {
	return f(ctx, view)
}

// Renderable is the resident form of a frame.
type Renderable interface {
	Frame() Frame
	// Size estimates the memory held, in bytes.
	Size() int64
	Release() error
}

// Factory creates renderables. Create runs on pool workers.
type Factory interface {
	Create(ctx context.Context, f Frame) (Renderable, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, f Frame) (Renderable, error)

func (fn FactoryFunc) Create(ctx context.Context, f Frame) (Renderable, error) {
	return fn(ctx, f)
}

// sortFrames orders frames finer first, then by path.
func sortFrames(frames []Frame) {
	sort.SliceStable(frames, func(i, j int) bool {
		if frames[i].Resolution != frames[j].Resolution {
			return frames[i].Resolution < frames[j].Resolution
		}
		return frames[i].Path < frames[j].Path
	})
}

// ManagerFrameQuery lists one frame per elevation source selected by a query
// over the view.
func ManagerFrameQuery(m *elevation.Manager) FrameQuery {
	return FrameQueryFunc(func(ctx context.Context, view View) ([]Frame, error) {
		cur, err := m.Query(ctx, elevation.QueryParams{
			Filter:        view.Bounds.Bound(),
			MaxResolution: view.Resolution,
		})
		if err != nil {
			return nil, err
		}
		defer cur.Close()

		var frames []Frame
		for cur.Next() {
			ch := cur.Chunk()
			frames = append(frames, Frame{
				Path:       ch.Source().Path(),
				Bounds:     ch.Source().Bounds(),
				Resolution: ch.Resolution(),
			})
		}
		return frames, nil
	})
}

// containerRenderable holds an opened container for a frame.
type containerRenderable struct {
	frame     Frame
	container tiles.TileContainer
	size      int64
}

func (r *containerRenderable) Frame() Frame                   { return r.frame }
func (r *containerRenderable) Size() int64                    { return r.size }
func (r *containerRenderable) Release() error                 { return r.container.Dispose() }
func (r *containerRenderable) Container() tiles.TileContainer { return r.container }

// ContainerFactory creates renderables by opening each frame's path through
// the registry.
func ContainerFactory(reg *tiles.Registry, opts tiles.OpenOptions) Factory {
	return FactoryFunc(func(ctx context.Context, f Frame) (Renderable, error) {
		c, _, err := reg.Open(ctx, f.Path, opts)
		if err != nil {
			return nil, fmt.Errorf("open frame %s: %w", f.Path, err)
		}
		return &containerRenderable{frame: f, container: c, size: estimateContainerMemory(c)}, nil
	})
}

// estimateContainerMemory assumes one resident 32-bit tile per level.
func estimateContainerMemory(c tiles.TileContainer) int64 {
	size := int64(1024)
	for _, z := range c.ZoomLevels() {
		size += int64(z.TileWidth) * int64(z.TileHeight) * 4
	}
	return size
}
