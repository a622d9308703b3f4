package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(Config{WorkerCount: 4, IdleTimeout: time.Second})
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.LessOrEqual(t, p.Workers(), 4)
}

func TestPoolWorkersRetireWhenIdle(t *testing.T) {
	p := New(Config{WorkerCount: 2, IdleTimeout: 20 * time.Millisecond})
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	<-done

	assert.Eventually(t, func() bool { return p.Workers() == 0 }, time.Second, 5*time.Millisecond)

	done = make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task not run after workers retired")
	}
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := New(Config{WorkerCount: 1})
	defer p.Close()

	g := p.NewGroup()
	require.NoError(t, g.Go(func() error { panic("boom") }))
	require.NoError(t, g.Go(func() error { return nil }))

	n, err := g.Wait()
	assert.Equal(t, 2, n)
	assert.NoError(t, err)
}

func TestGroupWaitCountsAndResets(t *testing.T) {
	p := New(Config{WorkerCount: 3})
	defer p.Close()

	g := p.NewGroup()
	var done atomic.Int32
	boom := errors.New("boom")
	for i := 0; i < 7; i++ {
		i := i
		require.NoError(t, g.Go(func() error {
			time.Sleep(time.Millisecond)
			done.Add(1)
			if i == 3 {
				return boom
			}
			return nil
		}))
	}

	n, err := g.Wait()
	assert.Equal(t, 7, n)
	assert.Equal(t, int32(7), done.Load())
	assert.ErrorIs(t, err, boom)

	n, err = g.Wait()
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(Config{WorkerCount: 1})
	ran := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(ran) }))
	p.Close()

	<-ran
	assert.ErrorIs(t, p.Submit(func() {}), ErrClosed)
	assert.ErrorIs(t, p.NewGroup().Go(func() error { return nil }), ErrClosed)
}

func TestPoolScalesUpAfterIdle(t *testing.T) {
	p := New(Config{WorkerCount: 4, IdleTimeout: 10 * time.Second})
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	<-done
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, p.Workers())

	gate := make(chan struct{})
	var running atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			running.Add(1)
			<-gate
		}))
	}

	assert.Eventually(t, func() bool { return running.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, p.Workers())
	close(gate)
	wg.Wait()
}
