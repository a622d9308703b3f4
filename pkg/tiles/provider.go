package tiles

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/beetlebugorg/tilestack/pkg/logger"
)

// HeaderSize is the number of leading bytes captured for probing.
const HeaderSize = 512

// Family groups providers for open ordering. Client providers (streamed
// services described by a small local file) are always tried before
// container providers (self-contained local archives).
type Family int

const (
	FamilyClient Family = iota
	FamilyContainer
)

func (f Family) String() string {
	switch f {
	case FamilyClient:
		return "client"
	case FamilyContainer:
		return "container"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Resource identifies something a provider may open.
//
// Header holds up to HeaderSize leading bytes of a regular file and is nil
// for directories and unreadable paths.
type Resource struct {
	Path   string
	Header []byte
}

// IsDir reports whether the resource names a directory.
func (r Resource) IsDir() bool {
	info, err := os.Stat(r.Path)
	return err == nil && info.IsDir()
}

// HasPrefix reports whether the header starts with prefix.
func (r Resource) HasPrefix(prefix string) bool {
	return bytes.HasPrefix(r.Header, []byte(prefix))
}

// OpenOptions controls how a provider opens a resource.
type OpenOptions struct {
	// CacheDir is where client providers keep companion caches.
	// Empty disables on-disk companion caches.
	CacheDir string

	// Writable opens local containers for writing.
	Writable bool

	Logger logger.Logger
}

// Provider opens one family of tile containers.
//
// Probe must be side-effect free and must not fail loudly: a resource it
// cannot recognise simply returns false.
type Provider interface {
	Name() string
	Family() Family
	Priority() int
	Probe(res Resource) bool
	Open(ctx context.Context, res Resource, opts OpenOptions) (TileContainer, error)
}

// Registry holds the installed providers and resolves resources to them.
//
// Providers are ordered by family (client first), then by descending
// priority, then by registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	log       logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(l logger.Logger) *Registry {
	return &Registry{log: logger.OrNop(l)}
}

// Register installs p. Registering a provider name twice replaces the earlier one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.providers {
		if existing.Name() == p.Name() {
			r.providers = append(r.providers[:i], r.providers[i+1:]...)
			break
		}
	}
	r.providers = append(r.providers, p)
	sort.SliceStable(r.providers, func(i, j int) bool {
		a, b := r.providers[i], r.providers[j]
		if a.Family() != b.Family() {
			return a.Family() < b.Family()
		}
		return a.Priority() > b.Priority()
	})
}

// Providers returns the installed providers in probe order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	for _, p := range r.Providers() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Probe returns the first provider accepting the file or directory at path.
func (r *Registry) Probe(path string) (Provider, bool) {
	return r.probe(ReadResource(path))
}

// ProbeStream returns the first provider accepting the leading bytes of rd.
// name is passed through as the resource path.
func (r *Registry) ProbeStream(name string, rd io.Reader) (Provider, bool) {
	header := make([]byte, HeaderSize)
	n, _ := io.ReadFull(rd, header)
	return r.probe(Resource{Path: name, Header: header[:n]})
}

func (r *Registry) probe(res Resource) (Provider, bool) {
	for _, p := range r.Providers() {
		if safeProbe(p, res) {
			return p, true
		}
	}
	return nil, false
}

// Open opens path with the first accepting provider that succeeds.
//
// Every accepting provider is tried in order; an open failure falls through
// to the next candidate. When none succeeds the last open error is
// returned, or ErrUnsupported when no provider accepted the resource.
func (r *Registry) Open(ctx context.Context, path string, opts OpenOptions) (TileContainer, Provider, error) {
	res := ReadResource(path)
	if opts.Logger == nil {
		opts.Logger = r.log
	}

	var lastErr error
	for _, p := range r.Providers() {
		if !safeProbe(p, res) {
			continue
		}
		c, err := p.Open(ctx, res, opts)
		if err == nil {
			r.log.Debug("opened tile container", "path", path, "provider", p.Name())
			return c, p, nil
		}
		r.log.Debug("provider failed to open", "path", path, "provider", p.Name(), "error", err)
		lastErr = err
	}

	if lastErr != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, lastErr)
	}
	return nil, nil, fmt.Errorf("open %s: %w", path, ErrUnsupported)
}

func safeProbe(p Provider, res Resource) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return p.Probe(res)
}

// ReadResource captures the probe header of path. Errors are swallowed:
// an unreadable path yields a resource no header-based provider accepts.
func ReadResource(path string) Resource {
	res := Resource{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return res
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return res
	}

	header := make([]byte, HeaderSize)
	n, _ := io.ReadFull(f, header)
	res.Header = header[:n]
	return res
}

// CacheFileName derives the companion cache file name for a streamed source
// from its declared name. The result is stable across sessions.
func CacheFileName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	base := strings.Trim(sb.String(), "._")
	if base == "" {
		base = "unnamed"
	}
	return base + ".cache.sqlite"
}
