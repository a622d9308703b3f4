// Package catalog keeps the persistent list of elevation files known to the
// process and the live sources opened from them.
//
// Each cataloged file has one row in a Store, keyed by absolute path and
// carrying a fingerprint. Re-adding an unchanged file returns the existing
// source; a changed fingerprint marks the entry stale, and it is replaced.
// Only containers declaring terrain content with a gridded coverage are
// accepted.
//
// Example:
//
//	store, _ := catalog.OpenBadgerStore("/var/lib/tilestack/catalog")
//	cat, err := catalog.New(ctx, catalog.Options{
//	    Store:    store,
//	    Registry: registry,
//	    Manager:  manager,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cat.Close()
//
//	switch cat.Ingest(ctx, "/data/dem/alps.gpkg") {
//	case catalog.IngestSuccess:
//	    fmt.Println("added")
//	case catalog.IngestIgnore:
//	    fmt.Println("already cataloged")
//	}
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/metrics"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
)

var (
	// ErrNotElevation is returned when a container opens but does not hold
	// terrain with a gridded coverage.
	ErrNotElevation = errors.New("container is not an elevation source")

	// ErrNotCataloged is returned by Remove for unknown paths.
	ErrNotCataloged = errors.New("path is not cataloged")
)

// EventKind identifies a catalog change.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
)

func (k EventKind) String() string {
	if k == EventAdded {
		return "added"
	}
	return "removed"
}

// Event is delivered to listeners after the mutation that caused it.
type Event struct {
	Kind   EventKind
	Path   string
	Source *elevation.Source
}

// Options configures a Catalog.
type Options struct {
	// Store persists catalog rows. Required.
	Store Store

	// Registry opens files. Required.
	Registry *tiles.Registry

	// Manager receives attached sources. Required.
	Manager *elevation.Manager

	// CacheDir is passed to client providers for companion caches.
	CacheDir string

	// Fingerprint computes file currency.
	// Default: StatFingerprint
	Fingerprint Fingerprinter

	// Workers bounds parallel opens during reconciliation.
	// Default: runtime.NumCPU()
	Workers int

	// TileCacheSize is the decoded tile cache size of each source.
	TileCacheSize int

	Logger logger.Logger
}

type entry struct {
	src *elevation.Source
	rec Record
}

// Catalog maps cataloged paths to live elevation sources.
//
// Add, Remove, RemoveAll and Reconcile are serialized. Manager attach and
// detach, source close and listener delivery happen after the catalog lock
// is released, in mutation order. Listeners and Manager listeners may read
// the catalog but must not mutate it.
type Catalog struct {
	opts Options
	log  logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	issued  uint64

	// served counts applied mutations. A mutation applies its effects
	// once served reaches its ticket.
	dmu    sync.Mutex
	turn   *sync.Cond
	served uint64

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

// New creates a catalog and reconciles it with its store.
func New(ctx context.Context, opts Options) (*Catalog, error) {
	if opts.Store == nil || opts.Registry == nil || opts.Manager == nil {
		return nil, errors.New("catalog: store, registry and manager are required")
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = StatFingerprint
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	c := &Catalog{
		opts:      opts,
		log:       logger.OrNop(opts.Logger),
		entries:   make(map[string]*entry),
		listeners: make(map[int]func(Event)),
	}
	c.turn = sync.NewCond(&c.dmu)

	report, err := c.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info("catalog reconciled",
		"opened", report.Opened, "healed", report.Healed,
		"missing", report.Missing, "failed", report.Failed)
	return c, nil
}

// normalize returns the catalog key for path.
func normalize(path string) (string, error) {
	if strings.Contains(path, "://") {
		return path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// Add catalogs path and returns its source.
//
// Adding an unchanged path returns the existing source. A changed path is
// reopened, and the old source detached and closed. On error the catalog is
// left as it was.
func (c *Catalog) Add(ctx context.Context, path string) (*elevation.Source, error) {
	src, _, err := c.add(ctx, path)
	return src, err
}

// add reports whether a new source was created.
func (c *Catalog) add(ctx context.Context, path string) (*elevation.Source, bool, error) {
	path, err := normalize(path)
	if err != nil {
		return nil, false, err
	}
	fp, err := c.opts.Fingerprint(path)
	if err != nil {
		return nil, false, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	c.mu.Lock()
	if e, ok := c.entries[path]; ok && bytes.Equal(e.rec.Fingerprint, fp) {
		c.mu.Unlock()
		return e.src, false, nil
	}

	opened, err := c.open(ctx, path)
	if err != nil {
		c.mu.Unlock()
		return nil, false, err
	}

	var fx effects
	err = c.registerLocked(opened, fp, &fx)
	c.unlockAndApply(fx)
	if err != nil {
		return nil, false, err
	}
	return opened.src, true, nil
}

type openedSource struct {
	path     string
	src      *elevation.Source
	provider string
}

// open opens path through the registry and applies the content gate.
func (c *Catalog) open(ctx context.Context, path string) (*openedSource, error) {
	container, prov, err := c.opts.Registry.Open(ctx, path, tiles.OpenOptions{
		CacheDir: c.opts.CacheDir,
		Logger:   c.log,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if content := tiles.Content(container); content != tiles.ContentTerrain {
		_ = container.Dispose()
		return nil, fmt.Errorf("%s declares content %q: %w", path, content, ErrNotElevation)
	}

	src, err := elevation.NewSource(path, container, elevation.SourceOptions{
		Provider:      prov.Name(),
		TileCacheSize: c.opts.TileCacheSize,
	})
	if err != nil {
		_ = container.Dispose()
		return nil, fmt.Errorf("source %s: %w", path, err)
	}
	if !src.HasCoverage() {
		_ = src.Close()
		return nil, fmt.Errorf("%s has no gridded coverage: %w", path, ErrNotElevation)
	}
	return &openedSource{path: path, src: src, provider: prov.Name()}, nil
}

// effects holds what a mutation does outside the catalog lock.
type effects struct {
	ops    []func()
	events []Event
}

// registerLocked persists a freshly opened source and queues its attach,
// replacing any stale entry for the same path. Must be called with mu held.
func (c *Catalog) registerLocked(o *openedSource, fp []byte, fx *effects) error {
	rec := Record{
		Path:        o.path,
		Fingerprint: fp,
		Provider:    o.provider,
		Content:     o.src.Content(),
		AddedAt:     time.Now().UTC(),
	}
	if err := c.opts.Store.Put(rec); err != nil {
		_ = o.src.Close()
		return fmt.Errorf("persist %s: %w", o.path, err)
	}

	if old, ok := c.entries[o.path]; ok {
		c.log.Info("replacing stale source", "path", o.path)
		c.dropLocked(o.path, old, fx)
	}

	src := o.src
	c.entries[o.path] = &entry{src: src, rec: rec}
	metrics.CatalogSources.Set(float64(len(c.entries)))
	c.log.Info("source cataloged", "path", o.path, "provider", o.provider)

	fx.ops = append(fx.ops, func() { c.opts.Manager.Attach(src) })
	fx.events = append(fx.events, Event{Kind: EventAdded, Path: o.path, Source: src})
	return nil
}

// dropLocked unloads an entry without touching the store and queues the
// detach and close of its source.
func (c *Catalog) dropLocked(path string, e *entry, fx *effects) {
	delete(c.entries, path)
	metrics.CatalogSources.Set(float64(len(c.entries)))

	src := e.src
	fx.ops = append(fx.ops, func() {
		c.opts.Manager.Detach(src)
		if err := src.Close(); err != nil {
			c.log.Warn("close source", "path", path, "error", err)
		}
	})
	fx.events = append(fx.events, Event{Kind: EventRemoved, Path: path, Source: src})
}

// Remove deletes the row for path and detaches and closes its source.
func (c *Catalog) Remove(ctx context.Context, path string) error {
	path, err := normalize(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	_, stored, err := c.opts.Store.Get(path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	e, loaded := c.entries[path]
	if !stored && !loaded {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", path, ErrNotCataloged)
	}
	if err := c.opts.Store.Delete(path); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("delete %s: %w", path, err)
	}

	var fx effects
	if loaded {
		c.dropLocked(path, e, &fx)
	} else {
		fx.events = append(fx.events, Event{Kind: EventRemoved, Path: path})
	}
	c.unlockAndApply(fx)
	return nil
}

// RemoveAll empties the catalog.
func (c *Catalog) RemoveAll(ctx context.Context) error {
	c.mu.Lock()
	rows, err := c.opts.Store.List()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("list records: %w", err)
	}

	paths := make(map[string]struct{}, len(rows)+len(c.entries))
	for _, r := range rows {
		paths[r.Path] = struct{}{}
	}
	for p := range c.entries {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var fx effects
	var firstErr error
	for _, p := range sorted {
		if err := c.opts.Store.Delete(p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s: %w", p, err)
		}
		if e, ok := c.entries[p]; ok {
			c.dropLocked(p, e, &fx)
		} else {
			fx.events = append(fx.events, Event{Kind: EventRemoved, Path: p})
		}
	}
	c.unlockAndApply(fx)
	return firstErr
}

// unlockAndApply releases mu and then applies fx once every earlier
// mutation has applied its own.
func (c *Catalog) unlockAndApply(fx effects) {
	if len(fx.ops) == 0 && len(fx.events) == 0 {
		c.mu.Unlock()
		return
	}
	ticket := c.issued
	c.issued++
	c.mu.Unlock()

	c.dmu.Lock()
	for c.served != ticket {
		c.turn.Wait()
	}
	c.dmu.Unlock()

	defer func() {
		c.dmu.Lock()
		c.served++
		c.turn.Broadcast()
		c.dmu.Unlock()
	}()

	for _, op := range fx.ops {
		op()
	}
	listeners := c.snapshotListeners()
	for _, ev := range fx.events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

// AddListener registers fn for catalog changes. The returned function
// unregisters it.
func (c *Catalog) AddListener(fn func(Event)) (remove func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Catalog) snapshotListeners() []func(Event) {
	c.lmu.Lock()
	defer c.lmu.Unlock()

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = c.listeners[id]
	}
	return out
}

// Sources returns the loaded sources ordered by path.
func (c *Catalog) Sources() []*elevation.Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]*elevation.Source, len(paths))
	for i, p := range paths {
		out[i] = c.entries[p].src
	}
	return out
}

// File returns the cataloged path of src.
func (c *Catalog) File(src *elevation.Source) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p, e := range c.entries {
		if e.src == src {
			return p, true
		}
	}
	return "", false
}

// Lookup returns the loaded source for path.
func (c *Catalog) Lookup(path string) (*elevation.Source, bool) {
	path, err := normalize(path)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	return e.src, true
}

// Records returns every persisted row, loaded or not.
func (c *Catalog) Records() ([]Record, error) {
	return c.opts.Store.List()
}

// Stats reports catalog counts.
type Stats struct {
	Loaded  int
	Records int
}

// Stats returns a snapshot of catalog statistics.
func (c *Catalog) Stats() (Stats, error) {
	rows, err := c.opts.Store.List()
	if err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Loaded: len(c.entries), Records: len(rows)}, nil
}

// Close detaches and closes every loaded source. Rows are kept.
func (c *Catalog) Close() error {
	c.mu.Lock()

	var fx effects
	var errs []error
	for p, e := range c.entries {
		src := e.src
		fx.ops = append(fx.ops, func() {
			c.opts.Manager.Detach(src)
			if err := src.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", p, err))
			}
		})
		delete(c.entries, p)
	}
	metrics.CatalogSources.Set(0)
	c.unlockAndApply(fx)
	return errors.Join(errs...)
}
