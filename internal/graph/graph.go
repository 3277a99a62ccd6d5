// Package graph holds the asset graph: the entity store with its indices,
// query evaluation, href rendering and asynchronous population.
//
// A Graph is not safe for concurrent use. Populate performs I/O on
// background goroutines but applies every mutation on the calling goroutine.
package graph

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/starford/assetgraph/internal/content"
	"github.com/starford/assetgraph/internal/urlutil"
)

// Graph is the entity store.
type Graph struct {
	root          string
	canonicalRoot string
	loader        Loader
	logger        *slog.Logger
	registry      *content.Registry

	seq uint64

	assets       []*Asset
	assetsByType map[string][]*Asset
	assetsByURL  map[string]*Asset

	relations       []*Relation
	relationsByType map[string][]*Relation
	outgoing        map[*Asset][]*Relation
	incoming        map[*Asset][]*Relation

	queue   []*Relation
	pending map[*Relation]bool
}

// New creates an empty graph. The root defaults to the working directory.
func New(opts ...Option) *Graph {
	g := &Graph{
		logger:          slog.Default(),
		registry:        content.Default(),
		assetsByType:    make(map[string][]*Asset),
		assetsByURL:     make(map[string]*Asset),
		relationsByType: make(map[string][]*Relation),
		outgoing:        make(map[*Asset][]*Relation),
		incoming:        make(map[*Asset][]*Relation),
		pending:         make(map[*Relation]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "/"
		}
		g.root = urlutil.EnsureTrailingSlash(urlutil.FileURL(wd))
	}
	return g
}

// Root returns the root URL with a trailing slash.
func (g *Graph) Root() string { return g.root }

// CanonicalRoot returns the canonical root, or "".
func (g *Graph) CanonicalRoot() string { return g.canonicalRoot }

// Registry returns the content type registry.
func (g *Graph) Registry() *content.Registry { return g.registry }

// AssetByURL returns the asset at the absolute URL u.
func (g *Graph) AssetByURL(u string) (*Asset, bool) {
	base, _ := urlutil.SplitFragment(u)
	a, ok := g.assetsByURL[urlutil.Normalize(base)]
	return a, ok
}

// Assets returns every asset in discovery order.
func (g *Graph) Assets() []*Asset {
	return append([]*Asset(nil), g.assets...)
}

// Relations returns every relation in discovery order.
func (g *Graph) Relations() []*Relation {
	return append([]*Relation(nil), g.relations...)
}

func (g *Graph) nextSeq() uint64 {
	g.seq++
	return g.seq
}

func (g *Graph) underRoot(u string) bool {
	_, ok := urlutil.RootRelativeRef(g.root, u)
	return u != "" && ok
}

// resolveURL resolves u against base, or the root when base is empty,
// and strips the fragment.
func (g *Graph) resolveURL(base, u string) (string, string, error) {
	if base == "" {
		base = g.root
	}
	abs, err := urlutil.Resolve(base, u)
	if err != nil {
		return "", "", fmt.Errorf("graph: resolve %q: %w", u, err)
	}
	abs, frag := urlutil.SplitFragment(abs)
	return abs, frag, nil
}

// resolveHref resolves a reference found in a document at base.
// Root-relative references in file: documents resolve against the root.
func (g *Graph) resolveHref(base, ref string) (string, string, error) {
	if urlutil.DetectHrefType(ref) == HrefRootRelative && (base == "" || urlutil.Scheme(base) == "file") {
		return g.resolveURL(g.root, strings.TrimPrefix(strings.TrimSpace(ref), "/"))
	}
	return g.resolveURL(base, ref)
}

// inferType picks a type name from the URL extension, then the media
// type, then the bytes.
func (g *Graph) inferType(u, contentType string, data []byte) string {
	if ext := urlutil.Extension(u); ext != "" {
		if ti, ok := g.registry.ForExtension(ext); ok {
			return ti.Name
		}
	}
	if contentType != "" {
		if ti, ok := g.registry.ForContentType(contentType); ok {
			return ti.Name
		}
	}
	if len(data) > 0 {
		if ti, ok := g.registry.Sniff(data); ok {
			return ti.Name
		}
	}
	return ""
}

func (g *Graph) newAsset(u, typ string, attrs map[string]any) *Asset {
	a := &Asset{
		id:    uuid.NewString(),
		url:   u,
		typ:   typ,
		attrs: orderedmap.New[string, any](),
	}
	for k, v := range attrs {
		a.attrs.Set(k, v)
	}
	if typ != "" {
		if ti, ok := g.registry.Lookup(typ); ok {
			a.contentType = ti.ContentType
		}
	}
	return a
}

func (g *Graph) registerAsset(a *Asset) {
	a.g = g
	a.seq = g.nextSeq()
	g.assets = append(g.assets, a)
	g.assetsByType[a.typ] = append(g.assetsByType[a.typ], a)
	if a.url != "" {
		g.assetsByURL[a.url] = a
	}
}

func (g *Graph) setAssetType(a *Asset, typ string) {
	if a.typ == typ {
		return
	}
	g.assetsByType[a.typ] = removeItem(g.assetsByType[a.typ], a)
	a.typ = typ
	g.assetsByType[typ] = insertBySeq(g.assetsByType[typ], a, func(x *Asset) uint64 { return x.seq })
}

// AddAsset creates an asset and adds it to the graph. When content is
// supplied the asset is loaded and its relations are registered at once.
func (g *Graph) AddAsset(cfg AssetConfig) (*Asset, error) {
	var u string
	if cfg.URL != "" {
		abs, _, err := g.resolveURL("", cfg.URL)
		if err != nil {
			return nil, err
		}
		if _, taken := g.assetsByURL[abs]; taken {
			return nil, fmt.Errorf("graph: add %s: %w", abs, ErrDuplicateURL)
		}
		u = abs
	}
	data, hasContent := cfg.content()
	typ := cfg.Type
	if typ == "" {
		typ = g.inferType(u, cfg.ContentType, data)
	}
	a := g.newAsset(u, typ, cfg.Attrs)
	g.registerAsset(a)
	if hasContent {
		if err := g.load(a, data, cfg.ContentType); err != nil {
			g.unregisterAsset(a)
			return nil, err
		}
		if _, err := g.expand(a); err != nil {
			return a, err
		}
	}
	return a, nil
}

// ensureAsset returns the asset at u, creating an unloaded placeholder.
func (g *Graph) ensureAsset(u, typeHint string) *Asset {
	if a, ok := g.assetsByURL[u]; ok {
		if a.typ == "" && typeHint != "" {
			g.setAssetType(a, typeHint)
		}
		return a
	}
	typ := typeHint
	if typ == "" {
		typ = g.inferType(u, "", nil)
	}
	a := g.newAsset(u, typ, nil)
	g.registerAsset(a)
	return a
}

// load attaches fetched bytes to a.
func (g *Graph) load(a *Asset, data []byte, contentType string) error {
	if a.typ == "" {
		g.setAssetType(a, g.inferType(a.url, contentType, data))
	}
	if contentType != "" {
		a.contentType = contentType
	}
	a.raw = data
	a.tree = nil
	if ti, ok := g.registry.Lookup(a.typ); ok && ti.Codec != nil {
		tree, err := ti.Codec.Parse(data)
		if err != nil {
			return &LoadError{URL: a.String(), Err: err}
		}
		a.tree = tree
		if ap, ok := ti.Codec.(content.AttrProvider); ok {
			for k, v := range ap.Attrs(tree) {
				a.attrs.Set(k, v)
			}
		}
	}
	a.isLoaded = true
	return nil
}

// expand registers the relations found in a's content and, recursively,
// in the inline assets they embed. It returns the new relations.
func (g *Graph) expand(a *Asset) ([]*Relation, error) {
	if a.isPopulated || a.tree == nil {
		a.isPopulated = a.isLoaded
		return nil, nil
	}
	c, err := a.codec()
	if err != nil {
		return nil, err
	}
	descs, err := c.Relations(a.tree)
	if err != nil {
		return nil, fmt.Errorf("graph: relations of %s: %w", a, err)
	}
	a.isPopulated = true
	var out []*Relation
	for _, d := range descs {
		r, err := g.discover(a, d)
		if err != nil {
			g.logger.Warn("graph: skip reference",
				slog.String("from", a.String()),
				slog.String("href", d.Href),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, r)
		if r.to.isInline && r.to.incomingInline == r {
			nested, err := g.expand(r.to)
			if err != nil {
				return out, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

// discover registers the relation described by d.
func (g *Graph) discover(from *Asset, d content.Descriptor) (*Relation, error) {
	r := g.newRelation(d.Type, from)
	r.site = d.Site
	if d.Inline() {
		child := g.newAsset("", d.TargetType, nil)
		if child.typ == "" {
			child.typ = g.inferType("", d.ContentType, d.Content)
		}
		g.registerAsset(child)
		if err := g.load(child, d.Content, d.ContentType); err != nil {
			g.unregisterAsset(child)
			return nil, err
		}
		child.isInline = true
		child.incomingInline = r
		r.to = child
		r.hrefType = HrefInline
		g.registerRelation(r, Last, nil)
		return r, nil
	}

	r.href = d.Href
	r.hrefType = urlutil.DetectHrefType(d.Href)
	ref, frag := urlutil.SplitFragment(d.Href)
	r.fragment = frag
	if ref == "" {
		r.to = from
		r.selfRef = true
		g.registerRelation(r, Last, nil)
		return r, nil
	}

	var target string
	canon := urlutil.Normalize(ref)
	switch {
	case g.canonicalRoot != "" && strings.HasPrefix(urlutil.EnsureTrailingSlash(canon), g.canonicalRoot):
		target = g.root + strings.TrimPrefix(canon, g.canonicalRoot)
		if canon+"/" == g.canonicalRoot {
			target = g.root
		}
		r.canonical = true
		r.hrefType = HrefAbsolute
	default:
		abs, _, err := g.resolveHref(from.baseURL(), ref)
		if err != nil {
			return nil, err
		}
		target = abs
	}
	if urlutil.Scheme(target) == "file" && strings.HasSuffix(target, "/") {
		target += "index.html"
		r.omitIndex = true
	}
	r.to = g.ensureAsset(target, d.TargetType)
	g.registerRelation(r, Last, nil)
	return r, nil
}

func (g *Graph) newRelation(typ string, from *Asset) *Relation {
	return &Relation{
		id:    uuid.NewString(),
		typ:   typ,
		from:  from,
		attrs: orderedmap.New[string, any](),
	}
}

// registerRelation adds r to every index. pos and adjacent order it among
// the source's outgoing relations.
func (g *Graph) registerRelation(r *Relation, pos Position, adjacent *Relation) {
	r.g = g
	r.seq = g.nextSeq()
	g.relations = append(g.relations, r)
	g.relationsByType[r.typ] = append(g.relationsByType[r.typ], r)

	out := g.outgoing[r.from]
	switch {
	case pos == First:
		out = slices.Insert(out, 0, r)
	case (pos == Before || pos == After) && adjacent != nil:
		i := slices.Index(out, adjacent)
		if i < 0 {
			out = append(out, r)
		} else {
			if pos == After {
				i++
			}
			out = slices.Insert(out, i, r)
		}
	default:
		out = append(out, r)
	}
	g.outgoing[r.from] = out
	if r.to != nil {
		g.incoming[r.to] = append(g.incoming[r.to], r)
	}
}

func (g *Graph) unregisterRelation(r *Relation) {
	g.relations = removeItem(g.relations, r)
	g.relationsByType[r.typ] = removeItem(g.relationsByType[r.typ], r)
	g.outgoing[r.from] = removeItem(g.outgoing[r.from], r)
	if r.to != nil {
		g.incoming[r.to] = removeItem(g.incoming[r.to], r)
		if r.to.incomingInline == r {
			r.to.incomingInline = nil
			r.to.isInline = false
		}
	}
	delete(g.pending, r)
	r.g = nil
}

func (g *Graph) unregisterAsset(a *Asset) {
	g.assets = removeItem(g.assets, a)
	g.assetsByType[a.typ] = removeItem(g.assetsByType[a.typ], a)
	if a.url != "" && g.assetsByURL[a.url] == a {
		delete(g.assetsByURL, a.url)
	}
	delete(g.outgoing, a)
	delete(g.incoming, a)
	a.g = nil
}

// AddRelation attaches a new reference to cfg.From's content and adds the
// relation to the graph. The target is created as an unloaded asset when
// given as a URL that is not in the graph yet.
func (g *Graph) AddRelation(cfg RelationConfig, pos Position) (*Relation, error) {
	from := cfg.From
	if from == nil || from.g != g {
		return nil, fmt.Errorf("graph: add %s relation: %w", cfg.Type, ErrDanglingFrom)
	}
	if !from.isLoaded || from.tree == nil {
		return nil, fmt.Errorf("graph: add %s relation to %s: %w", cfg.Type, from, ErrNotLoaded)
	}
	c, err := from.codec()
	if err != nil {
		return nil, err
	}
	var adjSite content.Site
	if pos == Before || pos == After {
		if cfg.Adjacent == nil || cfg.Adjacent.g != g || cfg.Adjacent.from != from {
			return nil, fmt.Errorf("graph: add %s relation: adjacent relation must belong to the source: %w", cfg.Type, ErrNotInGraph)
		}
		adjSite = cfg.Adjacent.site
	}
	to, frag, err := g.resolveTarget(from, cfg.To)
	if err != nil {
		return nil, err
	}
	if to.isInline {
		return nil, fmt.Errorf("graph: add %s relation to %s: %w", cfg.Type, to, ErrInlineOwned)
	}
	site, err := c.Attach(from.tree, cfg.Type, pos, adjSite)
	if err != nil {
		return nil, fmt.Errorf("graph: attach %s to %s: %w", cfg.Type, from, err)
	}

	r := g.newRelation(cfg.Type, from)
	r.site = site
	r.to = to
	r.fragment = frag
	r.hrefType = cfg.HrefType
	if r.hrefType == "" || r.hrefType == HrefInline {
		r.hrefType = HrefRelative
	}
	for k, v := range cfg.Attrs {
		r.attrs.Set(k, v)
	}
	g.registerRelation(r, pos, cfg.Adjacent)
	if cfg.Canonical && g.canonicalRoot != "" && g.underRoot(to.url) {
		r.canonical = true
	}
	if cfg.HrefType == HrefInline {
		return r, r.Inline()
	}
	return r, r.RefreshHref()
}

// resolveTarget turns a target given as *Asset, URL string or AssetConfig
// into a graph member. The fragment of a URL string is returned separately.
func (g *Graph) resolveTarget(from *Asset, target any) (*Asset, string, error) {
	switch t := target.(type) {
	case *Asset:
		if t == nil || t.g != g {
			return nil, "", fmt.Errorf("graph: target: %w", ErrNotInGraph)
		}
		return t, "", nil
	case string:
		if t == "" {
			return nil, "", fmt.Errorf("graph: empty target url")
		}
		base := ""
		if from != nil {
			base = from.baseURL()
		}
		u, frag, err := g.resolveHref(base, t)
		if err != nil {
			return nil, "", err
		}
		return g.ensureAsset(u, ""), frag, nil
	case AssetConfig:
		if t.URL != "" {
			base := ""
			if from != nil {
				base = from.baseURL()
			}
			u, _, err := g.resolveURL(base, t.URL)
			if err != nil {
				return nil, "", err
			}
			if existing, ok := g.assetsByURL[u]; ok {
				return existing, "", nil
			}
			t.URL = u
		}
		a, err := g.AddAsset(t)
		return a, "", err
	}
	return nil, "", fmt.Errorf("graph: unsupported target %T", target)
}

func (g *Graph) retarget(r *Relation, to *Asset) error {
	if to == r.to {
		return nil
	}
	if to.isInline && to.incomingInline != r {
		return fmt.Errorf("graph: retarget to %s: %w", to, ErrInlineOwned)
	}
	old := r.to
	if old != nil {
		g.incoming[old] = removeItem(g.incoming[old], r)
		if old.incomingInline == r {
			old.incomingInline = nil
			old.isInline = false
			if r.hrefType == HrefInline {
				r.hrefType = HrefRelative
			}
			if old.url == "" {
				// Nothing else can reach an inline-only asset.
				g.dropOutgoing(old)
				g.unregisterAsset(old)
			}
		}
	}
	r.to = to
	r.selfRef = false
	g.incoming[to] = append(g.incoming[to], r)
	return nil
}

// RemoveRelation removes r from the graph without touching the source content.
func (g *Graph) RemoveRelation(r *Relation) error {
	if r == nil || r.g != g {
		return fmt.Errorf("graph: remove relation: %w", ErrNotInGraph)
	}
	g.unregisterRelation(r)
	return nil
}

// RemoveAsset removes a and its outgoing relations. Relations from other
// assets that still point at a are detached when detachIncoming is set;
// otherwise their presence fails the call.
func (g *Graph) RemoveAsset(a *Asset, detachIncoming bool) error {
	if a == nil || a.g != g {
		return fmt.Errorf("graph: remove asset: %w", ErrNotInGraph)
	}
	var foreign []*Relation
	for _, r := range g.incoming[a] {
		if r.from != a {
			foreign = append(foreign, r)
		}
	}
	if len(foreign) > 0 && !detachIncoming {
		return fmt.Errorf("graph: remove %s: %d incoming relations: %w", a, len(foreign), ErrAssetReferenced)
	}
	for _, r := range foreign {
		if r.from.tree != nil && r.site != nil {
			if err := g.detach(r); err != nil {
				return err
			}
			continue
		}
		g.unregisterRelation(r)
	}
	g.dropOutgoing(a)
	g.unregisterAsset(a)
	return nil
}

// dropOutgoing removes a's outgoing relations together with the inline
// assets they own.
func (g *Graph) dropOutgoing(a *Asset) {
	for _, r := range append([]*Relation(nil), g.outgoing[a]...) {
		child := r.to
		owned := child != nil && child.incomingInline == r
		g.unregisterRelation(r)
		if owned && child.g == g {
			g.dropOutgoing(child)
			g.unregisterAsset(child)
		}
	}
	a.isPopulated = false
}

func (g *Graph) detach(r *Relation) error {
	from := r.from
	c, err := from.codec()
	if err != nil {
		return err
	}
	if err := c.Detach(from.tree, r.site); err != nil {
		return fmt.Errorf("graph: detach %s: %w", r, err)
	}
	child := r.to
	owned := child != nil && child.incomingInline == r
	g.unregisterRelation(r)
	if owned && child.g == g && child.url == "" {
		g.dropOutgoing(child)
		g.unregisterAsset(child)
	}
	if err := from.sync(); err != nil {
		return err
	}
	if from.isInline && from.incomingInline != nil {
		g.enqueue(from.incomingInline)
	}
	return g.flush()
}

func (g *Graph) replaceContent(a *Asset, raw []byte) error {
	g.dropOutgoing(a)
	if err := g.load(a, raw, a.contentType); err != nil {
		return err
	}
	if _, err := g.expand(a); err != nil {
		return err
	}
	if a.isInline && a.incomingInline != nil {
		g.enqueue(a.incomingInline)
	}
	return g.flush()
}

func (g *Graph) moveAsset(a *Asset, u string) error {
	abs, _, err := g.resolveURL(a.url, u)
	if err != nil {
		return err
	}
	if abs == a.url {
		return nil
	}
	if other, taken := g.assetsByURL[abs]; taken && other != a {
		return fmt.Errorf("graph: move %s to %s: %w", a, abs, ErrDuplicateURL)
	}
	if a.url != "" && g.assetsByURL[a.url] == a {
		delete(g.assetsByURL, a.url)
	}
	a.url = abs
	g.assetsByURL[abs] = a

	// An inline asset with a URL of its own is no longer inline; its
	// embedding relation renders a URL from now on.
	a.isInline = false
	a.incomingInline = nil
	for _, r := range g.incoming[a] {
		g.enqueue(r)
	}
	g.enqueueSubtree(a)
	return g.flush()
}

func removeItem[T comparable](s []T, item T) []T {
	if i := slices.Index(s, item); i >= 0 {
		return slices.Delete(s, i, i+1)
	}
	return s
}

func insertBySeq[T any](s []T, item T, seq func(T) uint64) []T {
	i, _ := slices.BinarySearchFunc(s, seq(item), func(x T, target uint64) int {
		switch {
		case seq(x) < target:
			return -1
		case seq(x) > target:
			return 1
		}
		return 0
	})
	return slices.Insert(s, i, item)
}
