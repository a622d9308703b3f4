// Package config loads tilestackd configuration from the environment.
package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Catalog   Catalog   `envPrefix:"CATALOG_"`
		Mosaic    Mosaic    `envPrefix:"MOSAIC_"`
		Query     Query     `envPrefix:"QUERY_"`
		Redis     Redis     `envPrefix:"REDIS_"`
	}

	HTTP struct {
		Server Server `envPrefix:"SERVER_"`
	}

	Server struct {
		Port         string        `env:"PORT" envDefault:"8080"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"tilestackd"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`
		Environment    string `env:"ENVIRONMENT" envDefault:"development"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	}

	// Catalog locates the persistent source catalog and the directory where
	// streamed sources keep their companion caches.
	Catalog struct {
		DBDir    string   `env:"DB_DIR" envDefault:"./data/catalog"`
		CacheDir string   `env:"CACHE_DIR" envDefault:"./data/cache"`
		Workers  int      `env:"WORKERS" envDefault:"4"`
		Scan     []string `env:"SCAN" envSeparator:","`
		Hash     bool     `env:"HASH" envDefault:"false"`
	}

	// Mosaic configures the frame preloading layer behind the preload endpoint.
	Mosaic struct {
		Enabled     bool          `env:"ENABLED" envDefault:"true"`
		Workers     int           `env:"WORKERS" envDefault:"4"`
		IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"30s"`
		CacheBytes  int64         `env:"CACHE_BYTES" envDefault:"268435456"`
	}

	Query struct {
		TileCacheSize int `env:"TILE_CACHE_SIZE" envDefault:"256"`
	}

	// Redis configures the optional shared companion cache for streamed
	// sources. Empty Addr keeps companion caches in local SQLite files.
	Redis struct {
		Addr     string        `env:"ADDR"`
		Password string        `env:"PASSWORD"`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
