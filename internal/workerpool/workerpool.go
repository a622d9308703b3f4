// Package workerpool runs tasks on a bounded set of goroutines that are
// started on demand and retire after an idle timeout. The task queue is
// unbounded; Submit never blocks.
package workerpool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/beetlebugorg/tilestack/pkg/logger"
)

var ErrClosed = errors.New("worker pool closed")

type Config struct {
	// WorkerCount bounds the number of concurrently running tasks.
	// If 0, defaults to runtime.NumCPU().
	WorkerCount int

	// IdleTimeout is how long an idle worker waits for work before exiting.
	// If 0, defaults to 30s.
	IdleTimeout time.Duration

	Logger logger.Logger
}

type Pool struct {
	cfg    Config
	log    logger.Logger
	mu     sync.Mutex
	queue  []func()
	live   int // running worker goroutines
	idle   int // workers waiting for work
	closed bool
	notify chan struct{}
	quit   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config) *Pool {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = runtime.NumCPU()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}

	return &Pool{
		cfg:    cfg,
		log:    logger.OrNop(cfg.Logger),
		notify: make(chan struct{}, cfg.WorkerCount),
		quit:   make(chan struct{}),
	}
}

// Submit queues task. A worker is started while queued tasks outnumber idle
// workers and the pool is below its limit.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, task)

	if p.idle > 0 {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	// idle only drops once a woken worker runs, so a burst must not count
	// one idle worker against every queued task.
	if len(p.queue) > p.idle && p.live < p.cfg.WorkerCount {
		p.live++
		p.wg.Add(1)
		go p.worker()
	}
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()

	timer := time.NewTimer(p.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.run(task)
			continue
		}
		if p.closed {
			p.live--
			p.mu.Unlock()
			return
		}
		p.idle++
		p.mu.Unlock()

		timer.Reset(p.cfg.IdleTimeout)
		select {
		case <-p.notify:
			p.mu.Lock()
			p.idle--
			p.mu.Unlock()
		case <-p.quit:
			p.mu.Lock()
			p.idle--
			p.mu.Unlock()
		case <-timer.C:
			p.mu.Lock()
			p.idle--
			if len(p.queue) == 0 {
				p.live--
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

// Workers returns the number of live worker goroutines.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops accepting tasks, lets queued tasks finish and waits for every
// worker to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
}
