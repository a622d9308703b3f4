// Package elevation answers point and area elevation queries over the
// terrain sources attached to a Manager.
//
// Sources are indexed by their WGS-84 bounds. A query selects, for every
// source intersecting the filter, the finest zoom level whose ground
// resolution is not finer than the requested one, and hands back one chunk
// per source. Chunks come finer first; the engine never blends them.
//
// Example:
//
//	mgr := elevation.NewManager(nil)
//	mgr.Attach(src)
//
//	cur, err := mgr.Query(ctx, elevation.QueryParams{
//	    Filter:        orb.Point{-122.4, 37.8},
//	    MaxResolution: 30,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cur.Close()
//
//	for cur.Next() {
//	    if h := cur.Chunk().Sample(37.8, -122.4); !math.IsNaN(h) {
//	        fmt.Printf("%.1f m\n", h)
//	        break
//	    }
//	}
package elevation

import (
	"cmp"
	"slices"
	"sync"

	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/dhconnelly/rtreego"
)

// EventKind identifies a Manager change.
type EventKind int

const (
	EventAttached EventKind = iota
	EventDetached
)

func (k EventKind) String() string {
	if k == EventAttached {
		return "attached"
	}
	return "detached"
}

// SourceEvent is delivered to Manager listeners after the change is applied.
type SourceEvent struct {
	Kind   EventKind
	Source *Source
}

// indexedSource is the R-tree entry for an attached source.
type indexedSource struct {
	src *Source
	seq uint64
}

// Bounds method for rtreego.Spatial interface.
func (e *indexedSource) Bounds() rtreego.Rect {
	return e.src.Bounds().Rect()
}

// Manager is the registry of queryable sources. The zero value is not
// usable; create one with NewManager and share it explicitly.
type Manager struct {
	mu        sync.RWMutex
	entries   map[*Source]*indexedSource
	rtree     *rtreego.Rtree
	seq       uint64
	listeners map[int]func(SourceEvent)
	nextID    int
	log       logger.Logger
}

// NewManager creates an empty manager.
func NewManager(l logger.Logger) *Manager {
	return &Manager{
		entries:   make(map[*Source]*indexedSource),
		rtree:     rtreego.NewTree(2, 25, 50),
		listeners: make(map[int]func(SourceEvent)),
		log:       logger.OrNop(l),
	}
}

// Attach makes src queryable. It returns false when src is already attached.
func (m *Manager) Attach(src *Source) bool {
	m.mu.Lock()
	if _, ok := m.entries[src]; ok {
		m.mu.Unlock()
		return false
	}
	m.seq++
	e := &indexedSource{src: src, seq: m.seq}
	m.entries[src] = e
	m.rtree.Insert(e)
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.log.Debug("source attached", "path", src.Path(), "name", src.Name())
	notify(listeners, SourceEvent{Kind: EventAttached, Source: src})
	return true
}

// Detach removes src from the manager. It does not close the source.
func (m *Manager) Detach(src *Source) bool {
	m.mu.Lock()
	e, ok := m.entries[src]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.entries, src)
	m.rtree.Delete(e)
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.log.Debug("source detached", "path", src.Path(), "name", src.Name())
	notify(listeners, SourceEvent{Kind: EventDetached, Source: src})
	return true
}

// Sources returns the attached sources in attach order.
func (m *Manager) Sources() []*Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedSources(m.entries)
}

// Len returns the number of attached sources.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// AddListener registers fn for attach and detach events. The returned
// function unregisters it.
func (m *Manager) AddListener(fn func(SourceEvent)) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// ManagerStats reports what the manager currently holds.
type ManagerStats struct {
	Sources         int
	CoverageSources int
	Listeners       int
}

// Stats returns a snapshot of manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := ManagerStats{Sources: len(m.entries), Listeners: len(m.listeners)}
	for src := range m.entries {
		if src.HasCoverage() {
			st.CoverageSources++
		}
	}
	return st
}

// snapshotListeners must be called with mu held.
func (m *Manager) snapshotListeners() []func(SourceEvent) {
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(SourceEvent), len(ids))
	for i, id := range ids {
		out[i] = m.listeners[id]
	}
	return out
}

func notify(listeners []func(SourceEvent), ev SourceEvent) {
	for _, fn := range listeners {
		fn(ev)
	}
}

// sortedSources returns the sources of entries in attach order.
func sortedSources(entries map[*Source]*indexedSource) []*Source {
	list := make([]*indexedSource, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	slices.SortFunc(list, func(a, b *indexedSource) int {
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]*Source, len(list))
	for i, e := range list {
		out[i] = e.src
	}
	return out
}
