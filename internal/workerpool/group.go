package workerpool

import (
	"errors"
	"sync"
)

// Group is a join barrier over tasks submitted to a Pool.
//
// Wait blocks until every task submitted since the previous Wait has
// finished, then reports how many there were.
type Group struct {
	pool  *Pool
	wg    sync.WaitGroup
	mu    sync.Mutex
	count int
	errs  []error
}

func (p *Pool) NewGroup() *Group {
	return &Group{pool: p}
}

// Go submits task as part of the group.
func (g *Group) Go(task func() error) error {
	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer g.wg.Done()
		if err := task(); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	})
	if err != nil {
		g.wg.Done()
		return err
	}

	g.mu.Lock()
	g.count++
	g.mu.Unlock()
	return nil
}

// Wait blocks until all submitted tasks finish and returns the number of
// tasks and their joined errors. The group is reset for reuse.
func (g *Group) Wait() (int, error) {
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.count, errors.Join(g.errs...)
	g.count = 0
	g.errs = nil
	return n, err
}
