// Package metrics holds the Prometheus collectors exported by tilestack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogIngest = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestack_catalog_ingest_total",
		Help: "Ingestion attempts by result (success, failure, ignore)",
	}, []string{"result"})

	CatalogSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilestack_catalog_sources",
		Help: "Number of live elevation sources held by the catalog",
	})

	TileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestack_tile_fetches_total",
		Help: "Remote tile fetches by outcome (cache_hit, fetched, error)",
	}, []string{"outcome"})

	TileFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilestack_tile_fetch_latency_seconds",
		Help:    "Latency of remote tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	PreloadSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestack_mosaic_preload_submitted_total",
		Help: "Frames submitted for background creation",
	})

	PreloadFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestack_mosaic_preload_failed_total",
		Help: "Frame creations that failed",
	})

	FramesOccluded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestack_mosaic_frames_occluded_total",
		Help: "Frames skipped because finer frames fully covered them",
	})

	FrameCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestack_mosaic_frame_cache_hits_total",
		Help: "Resident frame lookups served from the frame cache",
	})

	FrameCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestack_mosaic_frame_cache_misses_total",
		Help: "Resident frame lookups that missed the frame cache",
	})

	ElevationQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestack_elevation_queries_total",
		Help: "Elevation queries executed",
	})
)
