package mosaic

import "sync"

// RenderQueue holds callbacks that must run on the render thread. Any
// goroutine may Post; the render thread runs them with Drain.
type RenderQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *RenderQueue) Post(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

// Drain runs the queued callbacks in posting order and returns how many ran.
// Callbacks posted while draining run on the next Drain.
func (q *RenderQueue) Drain() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

func (q *RenderQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
