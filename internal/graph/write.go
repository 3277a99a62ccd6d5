package graph

import (
	"context"
	"fmt"

	"github.com/starford/assetgraph/internal/query"
)

// Writer persists the bytes of one asset at its URL.
type Writer interface {
	Write(ctx context.Context, url string, data []byte) error
}

// WriteAssets writes every loaded, non-inline asset that matches q and has
// a URL. It returns the number of assets written.
func (g *Graph) WriteAssets(ctx context.Context, w Writer, q query.Query) (int, error) {
	assets, err := g.FindAssets(q)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, a := range assets {
		if !a.isLoaded || a.isInline || a.url == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := w.Write(ctx, a.url, a.raw); err != nil {
			return written, fmt.Errorf("graph: write %s: %w", a.url, err)
		}
		written++
	}
	return written, nil
}
