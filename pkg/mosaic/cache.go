package mosaic

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beetlebugorg/tilestack/pkg/metrics"
)

// FrameCache holds resident renderables with LRU eviction.
//
// Memory accounting uses Renderable.Size. Evicted, replaced and removed
// renderables are released.
type FrameCache struct {
	maxMemory  int64 // 0 means unlimited
	usedMemory int64
	frames     map[string]*cacheEntry
	lru        *list.List // most recent at front
	mu         sync.Mutex
}

type cacheEntry struct {
	path         string
	renderable   Renderable
	memorySize   int64
	element      *list.Element
	lastAccessed time.Time
	accessCount  int
}

// NewFrameCache creates a cache holding at most maxMemoryBytes. Zero means
// unlimited.
func NewFrameCache(maxMemoryBytes int64) *FrameCache {
	return &FrameCache{
		maxMemory: maxMemoryBytes,
		frames:    make(map[string]*cacheEntry),
		lru:       list.New(),
	}
}

// Get returns the renderable for path and marks it recently used.
func (c *FrameCache) Get(path string) (Renderable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.frames[path]
	if !ok {
		metrics.FrameCacheMisses.Inc()
		return nil, false
	}
	metrics.FrameCacheHits.Inc()
	entry.lastAccessed = time.Now()
	entry.accessCount++
	c.lru.MoveToFront(entry.element)
	return entry.renderable, true
}

// Contains reports whether path is resident without touching LRU order.
func (c *FrameCache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.frames[path]
	return ok
}

// Add stores r under its frame path, evicting least recently used frames
// to make room. A renderable larger than the cache is rejected.
func (c *FrameCache) Add(r Renderable) error {
	path := r.Frame().Path
	memSize := r.Size()

	c.mu.Lock()
	if c.maxMemory > 0 && memSize > c.maxMemory {
		c.mu.Unlock()
		return fmt.Errorf("frame %s too large for cache (%d bytes > %d bytes max)",
			path, memSize, c.maxMemory)
	}

	var released []Renderable
	if entry, ok := c.frames[path]; ok {
		if entry.renderable != r {
			released = append(released, entry.renderable)
		}
		c.lru.Remove(entry.element)
		delete(c.frames, path)
		c.usedMemory -= entry.memorySize
	}

	if c.maxMemory > 0 {
		for c.usedMemory+memSize > c.maxMemory && c.lru.Len() > 0 {
			released = append(released, c.evictLRU())
		}
	}

	entry := &cacheEntry{
		path:         path,
		renderable:   r,
		memorySize:   memSize,
		lastAccessed: time.Now(),
		accessCount:  1,
	}
	entry.element = c.lru.PushFront(entry)
	c.frames[path] = entry
	c.usedMemory += memSize
	c.mu.Unlock()

	release(released)
	return nil
}

// evictLRU must be called with c.mu locked.
func (c *FrameCache) evictLRU() Renderable {
	elem := c.lru.Back()
	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.frames, entry.path)
	c.usedMemory -= entry.memorySize
	return entry.renderable
}

// Remove evicts path.
func (c *FrameCache) Remove(path string) {
	c.mu.Lock()
	entry, ok := c.frames[path]
	if ok {
		c.lru.Remove(entry.element)
		delete(c.frames, path)
		c.usedMemory -= entry.memorySize
	}
	c.mu.Unlock()

	if ok {
		release([]Renderable{entry.renderable})
	}
}

// Clear evicts everything.
func (c *FrameCache) Clear() {
	c.mu.Lock()
	released := make([]Renderable, 0, len(c.frames))
	for _, entry := range c.frames {
		released = append(released, entry.renderable)
	}
	c.frames = make(map[string]*cacheEntry)
	c.lru.Init()
	c.usedMemory = 0
	c.mu.Unlock()

	release(released)
}

// Keys returns the resident paths, sorted.
func (c *FrameCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.frames))
	for k := range c.frames {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Stats returns cache statistics.
func (c *FrameCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	totalAccess := 0
	for _, entry := range c.frames {
		totalAccess += entry.accessCount
	}
	return CacheStats{
		FrameCount:  len(c.frames),
		UsedMemory:  c.usedMemory,
		MaxMemory:   c.maxMemory,
		TotalAccess: totalAccess,
	}
}

// CacheStats holds frame cache metrics.
type CacheStats struct {
	FrameCount  int   // Number of resident frames
	UsedMemory  int64 // Estimated memory usage in bytes
	MaxMemory   int64 // Maximum memory limit in bytes
	TotalAccess int   // Accesses across resident frames
}

func release(rs []Renderable) {
	for _, r := range rs {
		_ = r.Release()
	}
}
