package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/urlutil"
)

// ErrUnsupportedScheme is returned by Mux for URLs it has no loader for.
var ErrUnsupportedScheme = errors.New("storage: unsupported scheme")

// FileLoader loads and writes file: URLs under a Provider root.
type FileLoader struct {
	store Provider
	root  string
}

// NewFileLoader returns a loader for the files of store.
func NewFileLoader(store Provider) *FileLoader {
	return &FileLoader{
		store: store,
		root:  urlutil.EnsureTrailingSlash(urlutil.FileURL(store.Root())),
	}
}

// RootURL returns the file: URL of the provider root, with a trailing slash.
func (l *FileLoader) RootURL() string { return l.root }

// URL returns the file: URL of a path relative to the root.
func (l *FileLoader) URL(rel string) string {
	return urlutil.FileURL(filepath.Join(l.store.Root(), filepath.FromSlash(rel)))
}

// Path maps a file: URL to a slash separated path relative to the root.
func (l *FileLoader) Path(u string) (string, error) {
	u, _ = urlutil.SplitFragment(u)
	abs, err := urlutil.FilePath(u)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(l.store.Root(), abs)
	if err != nil {
		return "", fmt.Errorf("storage: %s: %w", u, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: %s is outside %s", u, l.root)
	}
	return filepath.ToSlash(rel), nil
}

// Load implements graph.Loader.
func (l *FileLoader) Load(ctx context.Context, u string) (*graph.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := l.Path(u)
	if err != nil {
		return nil, err
	}
	data, err := l.store.Read(rel)
	if err != nil {
		return nil, err
	}
	return &graph.Resource{Data: data, ContentType: ContentTypeFor(rel)}, nil
}

// Write implements graph.Writer.
func (l *FileLoader) Write(ctx context.Context, u string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := l.Path(u)
	if err != nil {
		return err
	}
	return l.store.Write(rel, data)
}

// ContentTypeFor guesses a content type from a file name, or returns "".
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case "":
		return ""
	case ".md", ".markdown":
		return "text/markdown"
	}
	ct := mime.TypeByExtension(ext)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}

// Mux dispatches loads by URL scheme.
type Mux map[string]graph.Loader

// Load implements graph.Loader.
func (m Mux) Load(ctx context.Context, u string) (*graph.Resource, error) {
	scheme := urlutil.Scheme(u)
	l, ok := m[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return l.Load(ctx, u)
}
