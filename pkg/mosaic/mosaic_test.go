package mosaic

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beetlebugorg/tilestack/internal/gpkg"
	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderable struct {
	frame    Frame
	size     int64
	released atomic.Bool
}

func (r *fakeRenderable) Frame() Frame   { return r.frame }
func (r *fakeRenderable) Size() int64    { return r.size }
func (r *fakeRenderable) Release() error { r.released.Store(true); return nil }

type fakeFactory struct {
	mu      sync.Mutex
	created []string
	gate    chan struct{}
	started chan string
	fail    map[string]bool
}

func (f *fakeFactory) Create(ctx context.Context, fr Frame) (Renderable, error) {
	f.mu.Lock()
	f.created = append(f.created, fr.Path)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- fr.Path
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.fail[fr.Path] {
		return nil, errors.New("broken frame")
	}
	return &fakeRenderable{frame: fr, size: 10}, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func staticQuery(frames []Frame) FrameQuery {
	return FrameQueryFunc(func(ctx context.Context, view View) ([]Frame, error) {
		var out []Frame
		for _, f := range frames {
			if f.Bounds.Intersects(view.Bounds) {
				out = append(out, f)
			}
		}
		return out, nil
	})
}

// strip returns n side-by-side one-degree frames and a view over them.
func strip(n int) ([]Frame, View) {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{
			Path:       fmt.Sprintf("frame-%02d", i),
			Bounds:     tiles.Bounds{MinLon: float64(i), MaxLon: float64(i + 1), MinLat: 0, MaxLat: 1},
			Resolution: 10,
		}
	}
	return frames, View{Bounds: tiles.Bounds{MinLon: 0, MaxLon: float64(n), MinLat: 0, MaxLat: 1}}
}

func newLayer(t *testing.T, q FrameQuery, f Factory) *Layer {
	t.Helper()
	l := NewLayer(q, f, Config{PollInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestPreloadBarrier(t *testing.T) {
	frames, view := strip(5)
	ff := &fakeFactory{}
	layer := newLayer(t, staticQuery(frames), ff)
	layer.Start()

	layer.Pump(view)
	assert.Equal(t, 5, layer.WaitForPreload())
	assert.Equal(t, 0, layer.WaitForPreload())
	assert.Equal(t, 5, layer.Frames().Len())
	assert.Equal(t, 0, layer.Preloading())

	// Everything is loaded now.
	layer.Pump(view)
	assert.Equal(t, 0, layer.WaitForPreload())
	assert.Equal(t, 5, ff.count())
}

func TestPreloadCountsFailedFrames(t *testing.T) {
	frames, view := strip(3)
	ff := &fakeFactory{fail: map[string]bool{"frame-01": true}}
	layer := newLayer(t, staticQuery(frames), ff)
	layer.Start()

	layer.Pump(view)
	assert.Equal(t, 3, layer.WaitForPreload())
	assert.Equal(t, []string{"frame-00", "frame-02"}, layer.Frames().Keys())

	// The failed frame is requested again.
	layer.Pump(view)
	assert.Equal(t, 1, layer.WaitForPreload())
}

func TestPreloadSkipsOccludedFrames(t *testing.T) {
	view := View{Bounds: tiles.Bounds{MinLon: 0, MaxLon: 2, MinLat: 0, MaxLat: 1}}
	frames := []Frame{
		{Path: "coarse", Bounds: tiles.Bounds{MinLon: -5, MaxLon: 5, MinLat: -5, MaxLat: 5}, Resolution: 100},
		{Path: "medium", Bounds: tiles.Bounds{MinLon: 1.5, MaxLon: 3, MinLat: 0, MaxLat: 1}, Resolution: 30},
		{Path: "fine", Bounds: tiles.Bounds{MinLon: 0, MaxLon: 2, MinLat: 0, MaxLat: 1}, Resolution: 10},
	}
	ff := &fakeFactory{}
	layer := newLayer(t, staticQuery(frames), ff)
	layer.Start()

	layer.Pump(view)
	assert.Equal(t, 1, layer.WaitForPreload())
	assert.Equal(t, []string{"fine"}, layer.Frames().Keys())

	resident := layer.Resident(view)
	require.Len(t, resident, 1)
	assert.Equal(t, "fine", resident[0].Frame().Path)

	// Wider view: the coarse frame shows around the fine one.
	wide := View{Bounds: tiles.Bounds{MinLon: -1, MaxLon: 2, MinLat: 0, MaxLat: 1}}
	layer.Pump(wide)
	assert.Equal(t, 1, layer.WaitForPreload())

	resident = layer.Resident(wide)
	require.Len(t, resident, 2)
	assert.Equal(t, "fine", resident[0].Frame().Path)
	assert.Equal(t, "coarse", resident[1].Frame().Path)
}

func TestStopWaitsForInFlightRequest(t *testing.T) {
	frames, view := strip(1)
	ff := &fakeFactory{gate: make(chan struct{}), started: make(chan string, 4)}
	layer := newLayer(t, staticQuery(frames), ff)
	layer.Start()

	layer.Pump(view)
	<-ff.started

	stopped := make(chan struct{})
	go func() {
		layer.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a request was in flight")
	case <-time.After(150 * time.Millisecond):
	}

	close(ff.gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, StateStopped, layer.State())
	assert.Equal(t, 1, layer.WaitForPreload())

	// Nothing is serviced while stopped.
	_, wider := strip(3)
	layer.Pump(wider)
	assert.Equal(t, 0, layer.WaitForPreload())
	assert.Equal(t, 1, ff.count())
}

func TestSuspendIsRemembered(t *testing.T) {
	frames, view := strip(2)
	ff := &fakeFactory{}
	layer := newLayer(t, staticQuery(frames), ff)

	assert.Equal(t, StateStopped, layer.State())
	layer.Suspend()
	layer.Start()
	assert.Equal(t, StateSuspended, layer.State())

	layer.Pump(view)
	assert.Equal(t, 0, layer.WaitForPreload())
	assert.Equal(t, 0, ff.count())

	layer.Resume()
	assert.Equal(t, StateResumed, layer.State())
	layer.Pump(view)
	assert.Equal(t, 2, layer.WaitForPreload())

	// Suspension survives a restart.
	layer.Suspend()
	layer.Stop()
	layer.Start()
	assert.Equal(t, StateSuspended, layer.State())
}

func TestSetVisibleAppliesOnPump(t *testing.T) {
	frames, view := strip(2)
	layer := newLayer(t, staticQuery(frames), &fakeFactory{})
	layer.Start()

	layer.SetVisible(false)
	assert.True(t, layer.Visible())

	layer.Pump(view)
	assert.False(t, layer.Visible())
	assert.Equal(t, 0, layer.WaitForPreload())

	layer.SetVisible(true)
	layer.Pump(view)
	assert.Equal(t, 2, layer.WaitForPreload())
}

func TestCloseReleasesFrames(t *testing.T) {
	frames, view := strip(2)
	layer := NewLayer(staticQuery(frames), &fakeFactory{}, Config{})
	layer.Start()
	layer.Pump(view)
	require.Equal(t, 2, layer.WaitForPreload())

	resident := layer.Resident(view)
	require.Len(t, resident, 2)

	require.NoError(t, layer.Close())
	assert.ErrorIs(t, layer.Close(), ErrClosed)
	for _, r := range resident {
		assert.True(t, r.(*fakeRenderable).released.Load())
	}
	assert.Equal(t, StateStopped, layer.State())
}

func TestFrameCacheEviction(t *testing.T) {
	cache := NewFrameCache(100)
	mk := func(path string, size int64) *fakeRenderable {
		return &fakeRenderable{frame: Frame{Path: path}, size: size}
	}

	a, b, c := mk("a", 40), mk("b", 40), mk("c", 40)
	require.NoError(t, cache.Add(a))
	require.NoError(t, cache.Add(b))
	require.NoError(t, cache.Add(c))
	assert.True(t, a.released.Load())
	assert.Equal(t, []string{"b", "c"}, cache.Keys())

	_, ok := cache.Get("b")
	require.True(t, ok)
	d := mk("d", 40)
	require.NoError(t, cache.Add(d))
	assert.True(t, c.released.Load())
	assert.False(t, b.released.Load())

	assert.Error(t, cache.Add(mk("huge", 200)))

	b2 := mk("b", 20)
	require.NoError(t, cache.Add(b2))
	assert.True(t, b.released.Load())

	st := cache.Stats()
	assert.Equal(t, 2, st.FrameCount)
	assert.Equal(t, int64(60), st.UsedMemory)

	cache.Clear()
	assert.True(t, d.released.Load())
	assert.True(t, b2.released.Load())
	assert.Equal(t, 0, cache.Len())
}

func TestOcclusionCalculator(t *testing.T) {
	occ := NewOcclusionCalculator()
	whole := tiles.Bounds{MinLon: 0, MaxLon: 2, MinLat: 0, MaxLat: 2}
	assert.False(t, occ.Occluded(whole))

	occ.Add(tiles.Bounds{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 2})
	assert.False(t, occ.Occluded(whole))
	assert.True(t, occ.Occluded(tiles.Bounds{MinLon: 0.2, MaxLon: 0.8, MinLat: 0.5, MaxLat: 1}))

	occ.Add(tiles.Bounds{MinLon: 1, MaxLon: 3, MinLat: 0, MaxLat: 1})
	assert.False(t, occ.Occluded(whole))

	occ.Add(tiles.Bounds{MinLon: 0.5, MaxLon: 2.5, MinLat: 0.9, MaxLat: 2.5})
	assert.True(t, occ.Occluded(whole))
	assert.Equal(t, 3, occ.Len())
}

func TestRenderQueueOrder(t *testing.T) {
	var q RenderQueue
	var got []int
	q.Post(func() { got = append(got, 1) })
	q.Post(func() {
		got = append(got, 2)
		q.Post(func() { got = append(got, 3) })
	})

	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.Drain())
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestManagerFramesThroughContainerFactory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dem.gpkg")

	cov := coverage.DefaultCoverage(coverage.DatatypeInteger)
	c, err := gpkg.Create(ctx, path, gpkg.Spec{
		Table:  "dem",
		SRID:   tiles.SRIDWGS84,
		Extent: gpkg.Extent{MinX: 7, MinY: 46, MaxX: 8, MaxY: 47},
		Levels: []tiles.ZoomLevel{
			{Level: 0, Resolution: 1.0 / 16, TileWidth: 16, TileHeight: 16, GridWidth: 1, GridHeight: 1, OriginX: 7, OriginY: 47},
		},
		Coverage: &cov,
	})
	require.NoError(t, err)

	mgr := elevation.NewManager(nil)
	src, err := elevation.NewSource(path, c, elevation.SourceOptions{})
	require.NoError(t, err)
	defer src.Close()
	mgr.Attach(src)

	reg := tiles.NewRegistry(nil)
	reg.Register(gpkg.NewProvider())

	layer := newLayer(t, ManagerFrameQuery(mgr), ContainerFactory(reg, tiles.OpenOptions{}))
	layer.Start()

	view := View{Bounds: tiles.Bounds{MinLon: 7.2, MaxLon: 7.4, MinLat: 46.2, MaxLat: 46.4}}
	layer.Pump(view)
	require.Equal(t, 1, layer.WaitForPreload())

	resident := layer.Resident(view)
	require.Len(t, resident, 1)
	assert.Equal(t, path, resident[0].Frame().Path)
	assert.Equal(t, int64(1024+16*16*4), resident[0].Size())

	cr, ok := resident[0].(*containerRenderable)
	require.True(t, ok)
	assert.Equal(t, "dem", cr.Container().Name())
}
