package graph

import (
	"context"
	"log/slog"

	"github.com/starford/assetgraph/internal/content"
	"github.com/starford/assetgraph/internal/urlutil"
)

// Resource is what a Loader returns for one URL.
type Resource struct {
	Data        []byte
	ContentType string
}

// Loader fetches the bytes behind a URL.
type Loader interface {
	Load(ctx context.Context, url string) (*Resource, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string) (*Resource, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, url string) (*Resource, error) {
	return f(ctx, url)
}

// Option configures a Graph.
type Option func(*Graph)

// WithRoot sets the root URL that relative asset URLs and root-relative
// hrefs resolve against. A plain file system path is converted to a file: URL.
func WithRoot(root string) Option {
	return func(g *Graph) {
		if root == "" {
			return
		}
		if !urlutil.HasScheme(root) {
			root = urlutil.FileURL(root)
		}
		g.root = urlutil.EnsureTrailingSlash(urlutil.Normalize(root))
	}
}

// WithCanonicalRoot sets the public URL the root is served from.
func WithCanonicalRoot(root string) Option {
	return func(g *Graph) {
		if root != "" {
			g.canonicalRoot = urlutil.EnsureTrailingSlash(urlutil.Normalize(root))
		}
	}
}

// WithLoader sets the transport used by Populate and LoadAssets.
func WithLoader(l Loader) Option {
	return func(g *Graph) {
		g.loader = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRegistry replaces the content type registry.
func WithRegistry(r *content.Registry) Option {
	return func(g *Graph) {
		if r != nil {
			g.registry = r
		}
	}
}
