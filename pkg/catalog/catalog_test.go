package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/beetlebugorg/tilestack/internal/gpkg"
	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pyramid(cov *coverage.GriddedCoverage, meta map[string]string) gpkg.Spec {
	return gpkg.Spec{
		Table:  "dem",
		SRID:   tiles.SRIDWGS84,
		Extent: gpkg.Extent{MinX: 7, MinY: 46, MaxX: 8, MaxY: 47},
		Levels: []tiles.ZoomLevel{
			{Level: 0, Resolution: 1.0 / 16, TileWidth: 16, TileHeight: 16, GridWidth: 1, GridHeight: 1, OriginX: 7, OriginY: 47},
		},
		Coverage: cov,
		Metadata: meta,
	}
}

// writeDEM creates a terrain GeoPackage whose single tile holds height.
func writeDEM(t *testing.T, path string, height float64) string {
	t.Helper()
	ctx := context.Background()

	cov := coverage.DefaultCoverage(coverage.DatatypeInteger)
	c, err := gpkg.Create(ctx, path, pyramid(&cov, nil))
	require.NoError(t, err)

	tile := coverage.NewTile(16, 16)
	for i := range tile.Values {
		tile.Values[i] = height
	}
	require.NoError(t, coverage.WriteTile(ctx, c, 0, 0, 0, tile))
	require.NoError(t, c.Dispose())
	return path
}

func writeImagery(t *testing.T, path string) string {
	t.Helper()
	c, err := gpkg.Create(context.Background(), path, pyramid(nil, nil))
	require.NoError(t, err)
	require.NoError(t, c.Dispose())
	return path
}

type fixture struct {
	store    *BadgerStore
	registry *tiles.Registry
	manager  *elevation.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := OpenBadgerStore(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := tiles.NewRegistry(nil)
	reg.Register(gpkg.NewProvider())

	return &fixture{store: store, registry: reg, manager: elevation.NewManager(nil)}
}

func (f *fixture) catalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(context.Background(), Options{
		Store:    f.store,
		Registry: f.registry,
		Manager:  f.manager,
		Workers:  2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAddIsIdempotent(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	path := writeDEM(t, filepath.Join(t.TempDir(), "alps.gpkg"), 1200)
	ctx := context.Background()

	first, err := cat.Add(ctx, path)
	require.NoError(t, err)
	second, err := cat.Add(ctx, path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.manager.Len())

	rows, err := cat.Records()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, path, rows[0].Path)
	assert.Equal(t, "gpkg", rows[0].Provider)
	assert.Equal(t, tiles.ContentTerrain, rows[0].Content)

	got, ok := cat.File(first)
	assert.True(t, ok)
	assert.Equal(t, path, got)

	v, src, err := f.manager.Sample(ctx, 46.5, 7.5, 0)
	require.NoError(t, err)
	assert.Same(t, first, src)
	assert.InDelta(t, 1200, v, 1e-6)
}

func TestAddReplacesStaleEntry(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	path := writeDEM(t, filepath.Join(t.TempDir(), "alps.gpkg"), 1200)
	ctx := context.Background()

	first, err := cat.Add(ctx, path)
	require.NoError(t, err)
	before, _, err := f.store.Get(path)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := cat.Add(ctx, path)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, first.Closed())
	assert.Equal(t, []*elevation.Source{second}, f.manager.Sources())

	after, ok, err := f.store.Get(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, before.Fingerprint, after.Fingerprint)

	rows, err := cat.Records()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestAddKeepsEntryWhenReopenFails(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	dir := t.TempDir()
	path := writeDEM(t, filepath.Join(dir, "alps.gpkg"), 1200)
	ctx := context.Background()

	first, err := cat.Add(ctx, path)
	require.NoError(t, err)
	before, _, err := f.store.Get(path)
	require.NoError(t, err)

	junk := filepath.Join(dir, "junk")
	require.NoError(t, os.WriteFile(junk, []byte("not a tile container"), 0o644))
	require.NoError(t, os.Rename(junk, path))

	_, err = cat.Add(ctx, path)
	assert.ErrorIs(t, err, tiles.ErrUnsupported)

	got, ok := cat.Lookup(path)
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.False(t, first.Closed())
	assert.Equal(t, 1, f.manager.Len())

	after, ok, err := f.store.Get(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
}

func TestAddRejectsNonElevation(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	dir := t.TempDir()
	ctx := context.Background()

	imagery := writeImagery(t, filepath.Join(dir, "ortho.gpkg"))
	_, err := cat.Add(ctx, imagery)
	assert.True(t, errors.Is(err, ErrNotElevation))

	// Coverage tables, but declared as imagery.
	cov := coverage.DefaultCoverage(coverage.DatatypeInteger)
	c, err := gpkg.Create(ctx, filepath.Join(dir, "declared.gpkg"),
		pyramid(&cov, map[string]string{tiles.MetadataContent: tiles.ContentImagery}))
	require.NoError(t, err)
	require.NoError(t, c.Dispose())
	_, err = cat.Add(ctx, filepath.Join(dir, "declared.gpkg"))
	assert.True(t, errors.Is(err, ErrNotElevation))

	// Declared terrain without coverage.
	c, err = gpkg.Create(ctx, filepath.Join(dir, "plain.gpkg"),
		pyramid(nil, map[string]string{tiles.MetadataContent: tiles.ContentTerrain}))
	require.NoError(t, err)
	require.NoError(t, c.Dispose())
	_, err = cat.Add(ctx, filepath.Join(dir, "plain.gpkg"))
	assert.True(t, errors.Is(err, ErrNotElevation))

	assert.Empty(t, cat.Sources())
	assert.Equal(t, 0, f.manager.Len())
	rows, err := cat.Records()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIngestResults(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	dir := t.TempDir()
	ctx := context.Background()

	dem := writeDEM(t, filepath.Join(dir, "dem.gpkg"), 10)
	imagery := writeImagery(t, filepath.Join(dir, "ortho.gpkg"))
	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o644))

	assert.Equal(t, IngestSuccess, cat.Ingest(ctx, dem))
	assert.Equal(t, IngestIgnore, cat.Ingest(ctx, dem))
	assert.Equal(t, IngestFailure, cat.Ingest(ctx, imagery))
	assert.Equal(t, IngestIgnore, cat.Ingest(ctx, text))
	assert.Equal(t, IngestIgnore, cat.Ingest(ctx, filepath.Join(dir, "missing.gpkg")))

	assert.Equal(t, "success", IngestSuccess.String())
	assert.Len(t, cat.Sources(), 1)
}

func TestRemoveDetachesAndNotifies(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	path := writeDEM(t, filepath.Join(t.TempDir(), "dem.gpkg"), 10)
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	remove := cat.AddListener(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer remove()

	src, err := cat.Add(ctx, path)
	require.NoError(t, err)
	require.NoError(t, cat.Remove(ctx, path))

	assert.True(t, src.Closed())
	assert.Equal(t, 0, f.manager.Len())
	assert.Empty(t, cat.Sources())
	_, ok, err := f.store.Get(path)
	require.NoError(t, err)
	assert.False(t, ok)

	mu.Lock()
	require.Len(t, events, 2)
	assert.Equal(t, EventAdded, events[0].Kind)
	assert.Equal(t, EventRemoved, events[1].Kind)
	assert.Same(t, src, events[1].Source)
	mu.Unlock()

	err = cat.Remove(ctx, path)
	assert.True(t, errors.Is(err, ErrNotCataloged))
}

func TestRemoveAll(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	dir := t.TempDir()
	ctx := context.Background()

	for _, name := range []string{"a.gpkg", "b.gpkg", "c.gpkg"} {
		_, err := cat.Add(ctx, writeDEM(t, filepath.Join(dir, name), 1))
		require.NoError(t, err)
	}
	assert.Len(t, cat.Sources(), 3)

	var removed []string
	cat.AddListener(func(ev Event) {
		if ev.Kind == EventRemoved {
			removed = append(removed, filepath.Base(ev.Path))
		}
	})

	require.NoError(t, cat.RemoveAll(ctx))
	assert.Empty(t, cat.Sources())
	assert.Equal(t, 0, f.manager.Len())
	assert.Equal(t, []string{"a.gpkg", "b.gpkg", "c.gpkg"}, removed)

	st, err := cat.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestReconcileReopensAndKeepsMissing(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	ctx := context.Background()

	kept := writeDEM(t, filepath.Join(dir, "kept.gpkg"), 5)
	gone := writeDEM(t, filepath.Join(dir, "gone.gpkg"), 6)

	first := f.catalog(t)
	_, err := first.Add(ctx, kept)
	require.NoError(t, err)
	_, err = first.Add(ctx, gone)
	require.NoError(t, err)
	require.NoError(t, first.Close())
	assert.Equal(t, 0, f.manager.Len())

	require.NoError(t, os.Remove(gone))

	second := f.catalog(t)
	sources := second.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, kept, sources[0].Path())
	assert.Equal(t, 1, f.manager.Len())

	report, err := second.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Missing: 1}, report)

	rows, err := second.Records()
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// The file comes back.
	writeDEM(t, gone, 6)
	report, err = second.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Opened)
	assert.Len(t, second.Sources(), 2)
}

func TestReconcileHealsChangedFile(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	path := writeDEM(t, filepath.Join(t.TempDir(), "dem.gpkg"), 5)
	ctx := context.Background()

	old, err := cat.Add(ctx, path)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	report, err := cat.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Healed: 1}, report)

	cur, ok := cat.Lookup(path)
	require.True(t, ok)
	assert.NotSame(t, old, cur)
	assert.True(t, old.Closed())
}

func TestAddDir(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	root := t.TempDir()
	sub := filepath.Join(root, "north")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	writeDEM(t, filepath.Join(root, "a.gpkg"), 1)
	writeDEM(t, filepath.Join(sub, "b.gpkg"), 2)
	writeImagery(t, filepath.Join(sub, "ortho.gpkg"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))

	report, err := cat.AddDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, AddDirReport{Added: 2, Failed: 1}, report)

	report, err = cat.AddDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, AddDirReport{Ignored: 2, Failed: 1}, report)
}

func TestContentFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	a, err := ContentFingerprint(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("abd"), 0o644))
	b, err := ContentFingerprint(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = StatFingerprint(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)

	rec := Record{Path: "/data/a.gpkg", Fingerprint: []byte{1, 2}, Provider: "gpkg", Content: "terrain", AddedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, store.Put(rec))
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()

	got, ok, err := store.Get(rec.Path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Fingerprint, got.Fingerprint)
	assert.True(t, rec.AddedAt.Equal(got.AddedAt))

	require.NoError(t, store.Delete(rec.Path))
	rows, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListenersMayReadDuringConcurrentAdds(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	dir := t.TempDir()
	ctx := context.Background()

	const n = 8
	paths := make([]string, n)
	for i := range paths {
		paths[i] = writeDEM(t, filepath.Join(dir, fmt.Sprintf("dem%d.gpkg", i)), float64(i))
	}

	var mu sync.Mutex
	found := make(map[string]bool)
	cat.AddListener(func(ev Event) {
		if ev.Kind != EventAdded {
			return
		}
		time.Sleep(2 * time.Millisecond)
		p, ok := cat.File(ev.Source)
		mu.Lock()
		found[ev.Path] = ok && p == ev.Path
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, p := range paths {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cat.Add(ctx, p)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent adds did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, found, n)
	for _, p := range paths {
		assert.True(t, found[p], p)
	}
	assert.Equal(t, n, f.manager.Len())
}

func TestManagerListenersMayReadCatalog(t *testing.T) {
	f := newFixture(t)
	cat := f.catalog(t)
	path := writeDEM(t, filepath.Join(t.TempDir(), "dem.gpkg"), 3)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []bool
	remove := f.manager.AddListener(func(ev elevation.SourceEvent) {
		_, ok := cat.File(ev.Source)
		mu.Lock()
		seen = append(seen, ok)
		mu.Unlock()
	})
	defer remove()

	done := make(chan error, 1)
	go func() {
		if _, err := cat.Add(ctx, path); err != nil {
			done <- err
			return
		}
		done <- cat.Remove(ctx, path)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("add and remove did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}
