package catalog

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	Opened  int // rows reopened
	Healed  int // loaded entries replaced after their file changed
	Missing int // rows whose file is unavailable, kept for later
	Failed  int // rows whose file exists but could not be opened
}

type reconcileJob struct {
	rec    Record
	fp     []byte
	loaded bool
}

// Reconcile brings the loaded sources in line with the store: rows that are
// not loaded are reopened, and loaded entries whose file changed are
// replaced. Rows whose file is missing or unreadable are logged and kept.
//
// Files are opened in parallel; registration is serialized and follows row
// order.
func (c *Catalog) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	c.mu.Lock()
	rows, err := c.opts.Store.List()
	if err != nil {
		c.mu.Unlock()
		return report, fmt.Errorf("list records: %w", err)
	}

	var jobs []reconcileJob
	for _, rec := range rows {
		fp, err := c.opts.Fingerprint(rec.Path)
		if err != nil {
			c.log.Warn("cataloged file unavailable", "path", rec.Path, "error", err)
			report.Missing++
			continue
		}
		e, loaded := c.entries[rec.Path]
		if loaded && bytes.Equal(e.rec.Fingerprint, fp) {
			continue
		}
		jobs = append(jobs, reconcileJob{rec: rec, fp: fp, loaded: loaded})
	}

	results := c.openParallel(ctx, jobs)

	var fx effects
	for i, res := range results {
		job := jobs[i]
		if res.err != nil {
			c.log.Warn("cataloged file could not be opened", "path", job.rec.Path, "error", res.err)
			report.Failed++
			continue
		}
		if err := c.registerLocked(res.opened, job.fp, &fx); err != nil {
			c.log.Warn("cataloged file could not be registered", "path", job.rec.Path, "error", err)
			report.Failed++
			continue
		}
		if job.loaded {
			report.Healed++
		} else {
			report.Opened++
		}
	}
	c.unlockAndApply(fx)
	return report, nil
}

type openResult struct {
	opened *openedSource
	err    error
}

// openParallel opens every job with a bounded set of workers. Results are
// returned in job order.
func (c *Catalog) openParallel(ctx context.Context, jobs []reconcileJob) []openResult {
	results := make([]openResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workers := c.opts.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	indices := make(chan int, len(jobs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indices {
				if err := ctx.Err(); err != nil {
					results[index] = openResult{err: err}
					continue
				}
				opened, err := c.open(ctx, jobs[index].rec.Path)
				results[index] = openResult{opened: opened, err: err}
			}
		}()
	}

	for i := range jobs {
		indices <- i
	}
	close(indices)
	wg.Wait()

	return results
}
