package tileclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/redis/go-redis/v9"
)

// Provider opens tile service descriptors.
type Provider struct {
	http     *http.Client
	redis    *redis.Client
	redisTTL time.Duration
}

var _ tiles.Provider = (*Provider)(nil)

type ProviderOptions struct {
	HTTPClient *http.Client
	// Redis, when set, replaces per-source SQLite companion caches with a
	// shared redis namespace per source.
	Redis    *redis.Client
	RedisTTL time.Duration
}

func NewProvider(opts ProviderOptions) *Provider {
	return &Provider{http: opts.HTTPClient, redis: opts.Redis, redisTTL: opts.RedisTTL}
}

func (p *Provider) Name() string         { return "tileclient" }
func (p *Provider) Family() tiles.Family { return tiles.FamilyClient }
func (p *Provider) Priority() int        { return 10 }

func (p *Provider) Probe(res tiles.Resource) bool {
	return res.HasPrefix(Marker)
}

func (p *Provider) Open(ctx context.Context, res tiles.Resource, opts tiles.OpenOptions) (tiles.TileContainer, error) {
	desc, err := ReadDescriptor(res.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotDescriptor, err)
	}
	return New(desc, Options{
		HTTPClient: p.http,
		CacheDir:   opts.CacheDir,
		Redis:      p.redis,
		RedisTTL:   p.redisTTL,
		Logger:     opts.Logger,
	})
}
