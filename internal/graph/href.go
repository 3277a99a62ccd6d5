package graph

import (
	"fmt"
	"strings"

	"github.com/starford/assetgraph/internal/urlutil"
)

// enqueue schedules r for re-rendering. A relation already waiting is not
// queued twice.
func (g *Graph) enqueue(r *Relation) {
	if r == nil || r.g != g || g.pending[r] {
		return
	}
	g.pending[r] = true
	g.queue = append(g.queue, r)
}

// enqueueSubtree schedules the outgoing relations of a and of every
// inline asset below it: their base URL depends on a's.
func (g *Graph) enqueueSubtree(a *Asset) {
	stack := []*Asset{a}
	seen := map[*Asset]bool{a: true}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, r := range g.outgoing[cur] {
			g.enqueue(r)
			if child := r.to; child != nil && child.incomingInline == r && !seen[child] {
				seen[child] = true
				stack = append(stack, child)
			}
		}
	}
}

// flush drains the refresh queue. On error the remaining work is dropped.
func (g *Graph) flush() error {
	for len(g.queue) > 0 {
		r := g.queue[0]
		g.queue = g.queue[1:]
		delete(g.pending, r)
		if r.g != g {
			continue
		}
		if err := g.refresh(r); err != nil {
			for _, rest := range g.queue {
				delete(g.pending, rest)
			}
			g.queue = nil
			return err
		}
	}
	return nil
}

// refresh renders r and writes the result into its source. A changed
// inline source is re-embedded in its own host.
func (g *Graph) refresh(r *Relation) error {
	from := r.from
	if from.tree == nil || r.site == nil {
		return nil
	}
	c, err := from.codec()
	if err != nil {
		return err
	}
	if to := r.to; to != nil && to.isInline && to.incomingInline == r {
		if err := c.SetInline(from.tree, r.site, to.raw, to.contentType); err != nil {
			return fmt.Errorf("graph: inline %s: %w", r, err)
		}
		r.hrefType = HrefInline
		r.href = ""
	} else {
		href, hrefType, ok := g.renderHref(r)
		if !ok {
			// Target not resolvable yet.
			return nil
		}
		if href == r.href && hrefType == r.hrefType {
			return nil
		}
		if err := c.SetHref(from.tree, r.site, href); err != nil {
			return fmt.Errorf("graph: set href of %s: %w", r, err)
		}
		r.href = href
		r.hrefType = hrefType
	}
	if err := from.sync(); err != nil {
		return err
	}
	if from.isInline && from.incomingInline != nil {
		g.enqueue(from.incomingInline)
	}
	return nil
}

// renderHref computes the href text of a non-inline relation. The stored
// form is kept when it can express the target from the base document;
// otherwise the form is derived from the origins. The bool is false while
// the target has no URL.
func (g *Graph) renderHref(r *Relation) (string, HrefType, bool) {
	to := r.to
	if to == nil {
		return "", r.hrefType, false
	}
	if r.selfRef && to == r.from {
		return urlutil.WithFragment("", r.fragment), r.hrefType, true
	}
	if to.url == "" {
		return "", r.hrefType, false
	}
	target := to.url
	if r.omitIndex && strings.HasSuffix(target, "/index.html") {
		target = strings.TrimSuffix(target, "index.html")
	}

	if r.canonical && g.canonicalRoot != "" {
		if rootRel, ok := urlutil.RootRelativeRef(g.root, target); ok {
			href := g.canonicalRoot + strings.TrimPrefix(rootRel, "/")
			return urlutil.WithFragment(href, r.fragment), r.hrefType, true
		}
	}

	base := r.from.baseURL()
	hrefType := r.hrefType
	if !g.renderable(hrefType, base, target) {
		hrefType = classify(base, target)
	}
	var href string
	switch hrefType {
	case HrefRelative:
		rel, err := urlutil.RelativeRef(base, target)
		if err != nil {
			return "", r.hrefType, false
		}
		href = rel
	case HrefRootRelative:
		href, _ = g.rootRelative(target)
	case HrefProtocolRelative:
		href = urlutil.StripScheme(target)
	default:
		href = target
	}
	return urlutil.WithFragment(href, r.fragment), hrefType, true
}

// renderable reports whether target can be written in form t from base.
func (g *Graph) renderable(t HrefType, base, target string) bool {
	switch t {
	case HrefRelative:
		return base != "" && urlutil.SameOrigin(base, target)
	case HrefRootRelative:
		if base == "" || !urlutil.SameOrigin(base, target) {
			return false
		}
		_, ok := g.rootRelative(target)
		return ok
	case HrefProtocolRelative:
		ts := urlutil.Scheme(target)
		if !urlutil.IsHTTPScheme(ts) {
			return false
		}
		bs := urlutil.Scheme(base)
		return bs == ts || (!urlutil.IsHTTPScheme(bs) && ts == "http")
	case HrefAbsolute:
		return true
	}
	return false
}

// rootRelative renders target as "/path": against the graph root for file
// URLs, against the origin otherwise.
func (g *Graph) rootRelative(target string) (string, bool) {
	if urlutil.Scheme(target) == "file" {
		return urlutil.RootRelativeRef(g.root, target)
	}
	return urlutil.RootRelativeRef(urlutil.OriginRoot(target), target)
}

// classify picks the form for a target from the origins alone.
func classify(base, target string) HrefType {
	switch {
	case base != "" && urlutil.SameOrigin(base, target):
		return HrefRelative
	case urlutil.IsHTTPScheme(urlutil.Scheme(target)) && urlutil.SameSchemeDifferentHost(base, target):
		return HrefProtocolRelative
	}
	return HrefAbsolute
}

func (g *Graph) inline(r *Relation) error {
	to := r.to
	if to == nil {
		return fmt.Errorf("graph: inline %s: %w", r, ErrNotLoaded)
	}
	if to.isInline {
		if to.incomingInline == r {
			return fmt.Errorf("graph: inline %s: %w", r, ErrAlreadyInline)
		}
		return fmt.Errorf("graph: inline %s: %w", r, ErrInlineOwned)
	}
	for _, other := range g.incoming[to] {
		if other != r && other.from != to {
			return fmt.Errorf("graph: inline %s: also referenced by %s: %w", r, other, ErrInlineOwned)
		}
	}
	if !to.isLoaded {
		return fmt.Errorf("graph: inline %s: %w", r, ErrNotLoaded)
	}
	to.isInline = true
	to.incomingInline = r
	r.hrefType = HrefInline
	g.enqueueSubtree(to)
	g.enqueue(r)
	return g.flush()
}

// checkUninline reports why r cannot be taken out of line.
func (g *Graph) checkUninline(r *Relation) error {
	to := r.to
	if to == nil || !to.isInline || to.incomingInline != r {
		return fmt.Errorf("graph: uninline %s: %w", r, ErrNotInline)
	}
	if to.url == "" {
		return fmt.Errorf("graph: uninline %s: %w", r, ErrNoURL)
	}
	return nil
}

func (g *Graph) uninline(r *Relation) error {
	if err := g.checkUninline(r); err != nil {
		return err
	}
	to := r.to
	to.isInline = false
	to.incomingInline = nil
	g.enqueueSubtree(to)
	g.enqueue(r)
	return g.flush()
}
