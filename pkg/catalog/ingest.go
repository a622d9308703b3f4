package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/beetlebugorg/tilestack/pkg/metrics"
)

// IngestResult is the outcome of Ingest.
type IngestResult int

const (
	// IngestSuccess means a new source was cataloged.
	IngestSuccess IngestResult = iota
	// IngestFailure means a recognized file was rejected or failed to open.
	IngestFailure
	// IngestIgnore means the file is already cataloged and unchanged, or
	// no provider recognizes it.
	IngestIgnore
)

func (r IngestResult) String() string {
	switch r {
	case IngestSuccess:
		return "success"
	case IngestFailure:
		return "failure"
	default:
		return "ignore"
	}
}

// Ingest catalogs path and reports the outcome as a single result.
func (c *Catalog) Ingest(ctx context.Context, path string) IngestResult {
	res := c.ingest(ctx, path)
	metrics.CatalogIngest.WithLabelValues(res.String()).Inc()
	return res
}

func (c *Catalog) ingest(ctx context.Context, path string) IngestResult {
	if _, ok := c.opts.Registry.Probe(path); !ok {
		c.log.Debug("ingest ignored, unrecognized format", "path", path)
		return IngestIgnore
	}

	_, created, err := c.add(ctx, path)
	if err != nil {
		c.log.Warn("ingest failed", "path", path, "error", err)
		return IngestFailure
	}
	if !created {
		return IngestIgnore
	}
	return IngestSuccess
}

// AddDirReport counts the outcomes of AddDir.
type AddDirReport struct {
	Added   int
	Ignored int
	Failed  int
}

// AddDir walks root and ingests every file or directory the registry
// recognizes. Recognized directories are not descended into.
func (c *Catalog) AddDir(ctx context.Context, root string) (AddDirReport, error) {
	var report AddDirReport

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := c.opts.Registry.Probe(path); !ok {
			return nil
		}

		switch c.Ingest(ctx, path) {
		case IngestSuccess:
			report.Added++
		case IngestFailure:
			report.Failed++
		default:
			report.Ignored++
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipDir) {
		return report, fmt.Errorf("walk %s: %w", root, err)
	}

	c.log.Info("directory scanned", "root", root,
		"added", report.Added, "ignored", report.Ignored, "failed", report.Failed)
	return report, nil
}
