package mosaic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beetlebugorg/tilestack/internal/workerpool"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/metrics"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("mosaic layer closed")

// State is the servicing state of a Layer.
type State int

const (
	StateStopped State = iota
	StateSuspended
	StateResumed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateResumed:
		return "resumed"
	default:
		return "stopped"
	}
}

// Config configures a Layer.
type Config struct {
	// Workers bounds concurrent frame creation.
	// Default: 4
	Workers int

	// IdleTimeout retires idle workers.
	// Default: 30s
	IdleTimeout time.Duration

	// CacheBytes bounds resident frames. Zero means unlimited.
	CacheBytes int64

	// PollInterval is how often Stop checks for the in-flight request.
	// Default: 100ms
	PollInterval time.Duration

	Logger logger.Logger
}

// PendingState is one pump's preload request. It settles once, with the
// number of frames requested.
type PendingState struct {
	view      View
	loaded    map[string]bool
	occlusion *OcclusionCalculator
	requested int
	settled   chan struct{}
	once      sync.Once
}

func newPendingState(view View, loaded []string) *PendingState {
	ps := &PendingState{
		view:      view,
		loaded:    make(map[string]bool, len(loaded)),
		occlusion: NewOcclusionCalculator(),
		settled:   make(chan struct{}),
	}
	for _, p := range loaded {
		ps.loaded[p] = true
	}
	return ps
}

func (ps *PendingState) settle(n int) {
	ps.once.Do(func() {
		ps.requested = n
		close(ps.settled)
	})
}

// Layer keeps the frames of a view resident.
//
// Start, Stop, Suspend, Resume, SetVisible and Close may be called from
// any goroutine. Pump, WaitForPreload and Resident belong to the render
// thread.
type Layer struct {
	query   FrameQuery
	factory Factory
	cfg     Config
	log     logger.Logger

	pool    *workerpool.Pool
	frames  *FrameCache
	queue   RenderQueue
	visible atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	suspended bool
	closed    bool
	inFlight  bool
	pending   *PendingState // posted, not yet picked up
	current   *PendingState // latest posted, for WaitForPreload

	pmu        sync.Mutex
	preloading map[string]struct{}
}

// NewLayer creates a stopped layer.
func NewLayer(query FrameQuery, factory Factory, cfg Config) *Layer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Layer{
		query:   query,
		factory: factory,
		cfg:     cfg,
		log:     logger.OrNop(cfg.Logger),
		pool: workerpool.New(workerpool.Config{
			WorkerCount: cfg.Workers,
			IdleTimeout: cfg.IdleTimeout,
			Logger:      cfg.Logger,
		}),
		frames:     NewFrameCache(cfg.CacheBytes),
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		preloading: make(map[string]struct{}),
	}
	l.visible.Store(true)

	go l.serve()
	return l
}

// Frames returns the resident frame cache.
func (l *Layer) Frames() *FrameCache {
	return l.frames
}

// State returns the current servicing state.
func (l *Layer) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case !l.started || l.closed:
		return StateStopped
	case l.suspended:
		return StateSuspended
	default:
		return StateResumed
	}
}

func (l *Layer) runningLocked() bool {
	return l.started && !l.suspended && !l.closed
}

// Start leaves the stopped state. Servicing resumes unless a suspension
// was requested.
func (l *Layer) Start() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()
	l.signal()
}

// Stop prevents new requests from being honored and blocks until the
// in-flight request, if any, has completed.
func (l *Layer) Stop() {
	l.mu.Lock()
	l.started = false
	l.dropPendingLocked()
	l.mu.Unlock()

	l.waitIdle()
}

func (l *Layer) waitIdle() {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		l.mu.Lock()
		busy := l.inFlight
		l.mu.Unlock()
		if !busy {
			return
		}
		<-ticker.C
	}
}

// Suspend pauses servicing. The request is remembered across Stop/Start.
func (l *Layer) Suspend() {
	l.mu.Lock()
	l.suspended = true
	l.dropPendingLocked()
	l.mu.Unlock()
}

// Resume clears a suspension.
func (l *Layer) Resume() {
	l.mu.Lock()
	l.suspended = false
	l.mu.Unlock()
	l.signal()
}

// dropPendingLocked settles a request the servicer has not picked up.
func (l *Layer) dropPendingLocked() {
	if l.pending != nil {
		l.pending.settle(0)
		l.pending = nil
	}
}

// SetVisible changes visibility on the next Pump.
func (l *Layer) SetVisible(visible bool) {
	l.queue.Post(func() {
		l.visible.Store(visible)
	})
}

// Visible reports the visibility applied by the last Pump.
func (l *Layer) Visible() bool {
	return l.visible.Load()
}

// Pump runs queued render callbacks and posts a preload request for view.
// An unserviced earlier request is replaced and settles with zero.
func (l *Layer) Pump(view View) {
	l.queue.Drain()

	ps := newPendingState(view, l.frames.Keys())

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending != nil {
		l.pending.settle(0)
		l.pending = nil
	}
	l.current = ps

	if !l.runningLocked() || !l.visible.Load() {
		ps.settle(0)
		return
	}
	l.pending = ps
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// WaitForPreload blocks until the latest pump's request has settled and
// returns the number of frames it requested. The count is reset, so a
// second call without a Pump returns 0.
func (l *Layer) WaitForPreload() int {
	l.mu.Lock()
	ps := l.current
	l.current = nil
	l.mu.Unlock()

	if ps == nil {
		return 0
	}
	<-ps.settled
	return ps.requested
}

func (l *Layer) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// serve is the background servicer.
func (l *Layer) serve() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		l.mu.Lock()
		if !l.runningLocked() || l.pending == nil {
			l.mu.Unlock()
			continue
		}
		ps := l.pending
		l.pending = nil
		l.inFlight = true
		l.mu.Unlock()

		l.service(ps)

		l.mu.Lock()
		l.inFlight = false
		more := l.pending != nil
		l.mu.Unlock()
		if more {
			l.signal()
		}
	}
}

// service runs one preload request to completion.
func (l *Layer) service(ps *PendingState) {
	frames, err := l.query.Frames(l.ctx, ps.view)
	if err != nil {
		l.log.Warn("frame query failed", "error", err)
		ps.settle(0)
		return
	}

	selected, occluded := selectFrames(frames, ps.view, ps.occlusion)
	metrics.FramesOccluded.Add(float64(occluded))

	group := l.pool.NewGroup()
	for _, f := range selected {
		if ps.loaded[f.Path] || !l.markPreloading(f.Path) {
			continue
		}

		f := f
		err := group.Go(func() error {
			defer l.unmarkPreloading(f.Path)
			return l.create(f)
		})
		if err != nil {
			l.unmarkPreloading(f.Path)
			l.log.Warn("preload submit failed", "path", f.Path, "error", err)
			continue
		}
		metrics.PreloadSubmitted.Inc()
	}

	n, err := group.Wait()
	if err != nil {
		l.log.Warn("preload incomplete", "error", err)
	}
	ps.settle(n)
}

func (l *Layer) create(f Frame) error {
	r, err := l.factory.Create(l.ctx, f)
	if err != nil {
		metrics.PreloadFailed.Inc()
		return err
	}
	if err := l.frames.Add(r); err != nil {
		metrics.PreloadFailed.Inc()
		_ = r.Release()
		return err
	}
	return nil
}

// selectFrames orders frames and drops those hidden by finer ones within
// the view. It returns the kept frames and the number dropped as hidden.
func selectFrames(frames []Frame, view View, occ *OcclusionCalculator) ([]Frame, int) {
	frames = append([]Frame(nil), frames...)
	sortFrames(frames)

	var occluded int
	out := frames[:0]
	for _, f := range frames {
		area, ok := f.Bounds.Intersection(view.Bounds)
		if !ok {
			continue
		}
		if occ.Occluded(area) {
			occluded++
			continue
		}
		occ.Add(area)
		out = append(out, f)
	}
	return out, occluded
}

func (l *Layer) markPreloading(path string) bool {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	if _, ok := l.preloading[path]; ok {
		return false
	}
	l.preloading[path] = struct{}{}
	return true
}

func (l *Layer) unmarkPreloading(path string) {
	l.pmu.Lock()
	delete(l.preloading, path)
	l.pmu.Unlock()
}

// Preloading returns the number of frames being created.
func (l *Layer) Preloading() int {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	return len(l.preloading)
}

// Resident returns the resident renderables for view, finer first and
// without frames hidden by finer ones.
func (l *Layer) Resident(view View) []Renderable {
	var frames []Frame
	for _, path := range l.frames.Keys() {
		if r, ok := l.frames.Get(path); ok {
			frames = append(frames, r.Frame())
		}
	}

	selected, _ := selectFrames(frames, view, NewOcclusionCalculator())
	var out []Renderable
	for _, f := range selected {
		if r, ok := l.frames.Get(f.Path); ok {
			out = append(out, r)
		}
	}
	return out
}

// Close stops the layer, waits for background work and releases every
// resident frame.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.started = false
	l.closed = true
	l.dropPendingLocked()
	l.mu.Unlock()

	l.waitIdle()

	close(l.done)
	l.cancel()
	l.pool.Close()
	l.frames.Clear()
	return nil
}
