// Package app wires the tilestackd service together.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beetlebugorg/tilestack/internal/gpkg"
	"github.com/beetlebugorg/tilestack/internal/server"
	"github.com/beetlebugorg/tilestack/internal/tilecache"
	"github.com/beetlebugorg/tilestack/internal/tileclient"
	"github.com/beetlebugorg/tilestack/internal/tiledir"
	"github.com/beetlebugorg/tilestack/pkg/catalog"
	"github.com/beetlebugorg/tilestack/pkg/config"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/mosaic"
	"github.com/beetlebugorg/tilestack/pkg/telemetry"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

func Run() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l := logger.NewZapLogger(cfg.Logger.Level)
	defer l.Sync()

	l.Info("starting tilestackd", "config", cfg)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
		l.Info("telemetry initialized", "service", cfg.Telemetry.ServiceName)
	}

	ctx := logger.WithLogger(context.Background(), l)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = tilecache.NewRedisClient(ctx, tilecache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			l.Fatal("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		l.Info("redis companion cache enabled", "addr", cfg.Redis.Addr)
	}

	registry := newRegistry(l, redisClient, cfg.Redis.TTL)

	store, err := catalog.OpenBadgerStore(cfg.Catalog.DBDir)
	if err != nil {
		l.Fatal("failed to open catalog store", "error", err, "dir", cfg.Catalog.DBDir)
	}
	defer store.Close()

	fingerprint := catalog.StatFingerprint
	if cfg.Catalog.Hash {
		fingerprint = catalog.ContentFingerprint
	}

	manager := elevation.NewManager(l)
	cat, err := catalog.New(ctx, catalog.Options{
		Store:         store,
		Registry:      registry,
		Manager:       manager,
		CacheDir:      cfg.Catalog.CacheDir,
		Fingerprint:   fingerprint,
		Workers:       cfg.Catalog.Workers,
		TileCacheSize: cfg.Query.TileCacheSize,
		Logger:        l,
	})
	if err != nil {
		l.Fatal("failed to open catalog", "error", err)
	}
	defer cat.Close()

	for _, root := range cfg.Catalog.Scan {
		if _, err := cat.AddDir(ctx, root); err != nil {
			l.Error("failed to scan directory", "root", root, "error", err)
		}
	}

	var layer *mosaic.Layer
	if cfg.Mosaic.Enabled {
		layer = mosaic.NewLayer(
			mosaic.ManagerFrameQuery(manager),
			mosaic.ContainerFactory(registry, tiles.OpenOptions{CacheDir: cfg.Catalog.CacheDir, Logger: l}),
			mosaic.Config{
				Workers:     cfg.Mosaic.Workers,
				IdleTimeout: cfg.Mosaic.IdleTimeout,
				CacheBytes:  cfg.Mosaic.CacheBytes,
				Logger:      l,
			},
		)
		layer.Start()
		defer layer.Close()

		// Resident frames of a removed source must not outlive it.
		removeListener := cat.AddListener(func(ev catalog.Event) {
			if ev.Kind == catalog.EventRemoved {
				layer.Frames().Remove(ev.Path)
			}
		})
		defer removeListener()
	}

	h := server.NewHandler(cat, manager, layer, validator.New())
	router := server.NewRouter(h, l, cfg.Telemetry.Enabled)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.Server.ReadTimeout,
		WriteTimeout: cfg.HTTP.Server.WriteTimeout,
		IdleTimeout:  cfg.HTTP.Server.IdleTimeout,
	}

	go func() {
		l.Info("starting http server", "port", cfg.HTTP.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("server forced to shutdown", "error", err)
	}

	l.Info("server stopped")
}

func newRegistry(l logger.Logger, redisClient *redis.Client, ttl time.Duration) *tiles.Registry {
	registry := tiles.NewRegistry(l)
	registry.Register(gpkg.NewProvider())
	registry.Register(tiledir.NewProvider())
	registry.Register(tileclient.NewProvider(tileclient.ProviderOptions{
		Redis:    redisClient,
		RedisTTL: ttl,
	}))
	return registry
}
