package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/starford/assetgraph/internal/query"
	"github.com/starford/assetgraph/internal/urlutil"
)

const defaultConcurrency = 8

// PopulateOptions configures Populate.
type PopulateOptions struct {
	// FollowRelations decides whether a relation's target is loaded and
	// expanded. It is a query.Query or a func(*Relation) bool. The default
	// follows file: targets and targets on the origin of the source document.
	FollowRelations any
	// Concurrency bounds the loads in flight. Defaults to 8.
	Concurrency int
}

// PopulateReport summarizes a Populate run.
type PopulateReport struct {
	// Loaded lists the assets loaded by this run, in completion order.
	Loaded []*Asset
	// Relations counts the relations registered by this run.
	Relations int
	// Failed lists the per-asset load failures.
	Failed []*LoadError
}

// Err joins the load failures, or returns nil.
func (r *PopulateReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

type loadResult struct {
	url string
	res *Resource
	err error
}

// Populate expands every loaded asset to a fixed point: relations found in
// content are registered, followed targets are loaded concurrently and
// expanded in turn. A target is loaded at most once. Load failures do not
// stop the run; they are listed in the report and joined into the error.
// Every graph mutation happens on the calling goroutine.
func (g *Graph) Populate(ctx context.Context, opts PopulateOptions) (*PopulateReport, error) {
	follow, err := g.followFunc(opts.FollowRelations)
	if err != nil {
		return nil, err
	}
	n := opts.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	sem := semaphore.NewWeighted(int64(n))
	results := make(chan loadResult)
	report := &PopulateReport{}
	attempted := make(map[string]*Asset)
	inflight := 0

	schedule := func(r *Relation) {
		to := r.to
		if to == nil || to.isLoaded || to.isInline || to.url == "" {
			return
		}
		if _, seen := attempted[to.url]; seen || !follow(r) {
			return
		}
		attempted[to.url] = to
		if g.loader == nil {
			report.Failed = append(report.Failed, &LoadError{URL: to.url, Err: ErrNoLoader})
			return
		}
		inflight++
		g.logger.Debug("graph: load", slog.String("url", to.url))
		go g.fetch(ctx, sem, to.url, results)
	}

	var frontier []*Asset
	for _, a := range g.assets {
		if a.isLoaded && !a.isPopulated {
			frontier = append(frontier, a)
		}
	}
	// Relations registered before this run may point at unloaded targets.
	for _, r := range append([]*Relation(nil), g.relations...) {
		schedule(r)
	}

	for {
		for len(frontier) > 0 {
			a := frontier[0]
			frontier = frontier[1:]
			if a.g != g {
				continue
			}
			rels, err := g.expand(a)
			report.Relations += len(rels)
			if err != nil {
				report.Failed = append(report.Failed, &LoadError{URL: a.String(), Err: err})
			}
			for _, r := range rels {
				schedule(r)
			}
		}
		if inflight == 0 {
			break
		}
		res := <-results
		inflight--
		a := attempted[res.url]
		if res.err != nil {
			g.logger.Warn("graph: load failed",
				slog.String("url", res.url),
				slog.String("error", res.err.Error()))
			report.Failed = append(report.Failed, &LoadError{URL: res.url, Err: res.err})
			continue
		}
		if a.g != g || a.isLoaded {
			continue
		}
		if err := g.load(a, res.res.Data, res.res.ContentType); err != nil {
			var le *LoadError
			if !errors.As(err, &le) {
				le = &LoadError{URL: res.url, Err: err}
			}
			report.Failed = append(report.Failed, le)
			continue
		}
		report.Loaded = append(report.Loaded, a)
		frontier = append(frontier, a)
	}

	g.logger.Info("graph: populate done",
		slog.Int("loaded", len(report.Loaded)),
		slog.Int("relations", report.Relations),
		slog.Int("failed", len(report.Failed)))
	return report, report.Err()
}

func (g *Graph) fetch(ctx context.Context, sem *semaphore.Weighted, u string, out chan<- loadResult) {
	if err := sem.Acquire(ctx, 1); err != nil {
		out <- loadResult{url: u, err: err}
		return
	}
	defer sem.Release(1)
	res, err := g.loader.Load(ctx, u)
	if err == nil && res == nil {
		err = fmt.Errorf("loader returned no resource")
	}
	out <- loadResult{url: u, res: res, err: err}
}

func (g *Graph) followFunc(f any) (func(*Relation) bool, error) {
	switch v := f.(type) {
	case nil:
		return g.defaultFollow, nil
	case func(*Relation) bool:
		return v, nil
	case query.Query:
		if err := query.Validate(v); err != nil {
			return nil, err
		}
		return func(r *Relation) bool { return query.Match(v, r) }, nil
	case map[string]any:
		return g.followFunc(query.Query(v))
	}
	return nil, fmt.Errorf("%w: follow predicate of type %T", query.ErrMalformed, f)
}

// defaultFollow follows local files and same-origin targets.
func (g *Graph) defaultFollow(r *Relation) bool {
	target := r.to.url
	if urlutil.Scheme(target) == "file" {
		return true
	}
	base := r.from.baseURL()
	return urlutil.IsHTTPScheme(urlutil.Scheme(target)) && urlutil.SameOrigin(base, target)
}

// LoadAssets adds the given URLs as assets, resolved against the root, and
// loads them concurrently. URLs naming the same asset are loaded once.
// The assets are expanded by the next Populate. Assets that fail to load
// stay in the graph unloaded.
func (g *Graph) LoadAssets(ctx context.Context, urls ...string) ([]*Asset, error) {
	if g.loader == nil {
		return nil, ErrNoLoader
	}
	assets := make([]*Asset, 0, len(urls))
	seen := make(map[*Asset]bool, len(urls))
	for _, u := range urls {
		abs, _, err := g.resolveURL("", u)
		if err != nil {
			return nil, err
		}
		a := g.ensureAsset(abs, "")
		if !seen[a] {
			seen[a] = true
			assets = append(assets, a)
		}
	}

	results := make([]loadResult, len(assets))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(defaultConcurrency)
	for i, a := range assets {
		if a.isLoaded {
			continue
		}
		eg.Go(func() error {
			res, err := g.loader.Load(egCtx, a.url)
			results[i] = loadResult{url: a.url, res: res, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	loaded := make([]*Asset, 0, len(assets))
	for i, a := range assets {
		if a.isLoaded {
			loaded = append(loaded, a)
			continue
		}
		res := results[i]
		err := res.err
		if err == nil && res.res == nil {
			err = fmt.Errorf("loader returned no resource")
		}
		if err == nil {
			err = g.load(a, res.res.Data, res.res.ContentType)
		}
		if err != nil {
			var le *LoadError
			if !errors.As(err, &le) {
				le = &LoadError{URL: a.url, Err: err}
			}
			errs = append(errs, le)
			continue
		}
		loaded = append(loaded, a)
	}
	return loaded, errors.Join(errs...)
}
