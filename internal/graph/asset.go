package graph

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/starford/assetgraph/internal/content"
	"github.com/starford/assetgraph/internal/urlutil"
)

// AssetConfig describes an asset to add to the graph.
type AssetConfig struct {
	// URL is resolved against the graph root. Empty for inline-only assets.
	URL string
	// Type is the asset type name. Inferred from the URL, the content type
	// or the bytes when empty.
	Type string
	// Text or Raw, when set, make the asset loaded on creation.
	Text        string
	Raw         []byte
	ContentType string
	// Attrs are extra queryable attributes.
	Attrs map[string]any
}

func (c AssetConfig) content() ([]byte, bool) {
	switch {
	case c.Raw != nil:
		return c.Raw, true
	case c.Text != "":
		return []byte(c.Text), true
	}
	return nil, false
}

// Asset is a graph node: one resource and its parsed content.
type Asset struct {
	g   *Graph
	id  string
	seq uint64

	url         string
	typ         string
	contentType string

	isInline    bool
	isLoaded    bool
	isPopulated bool

	raw  []byte
	tree content.Tree

	incomingInline *Relation
	attrs          *orderedmap.OrderedMap[string, any]
}

// ID returns the asset id, stable for the life of the asset.
func (a *Asset) ID() string { return a.id }

// URL returns the absolute URL, or "" for an inline-only asset.
func (a *Asset) URL() string { return a.url }

// Type returns the type name, or "" when not yet known.
func (a *Asset) Type() string { return a.typ }

// ContentType returns the media type of the content.
func (a *Asset) ContentType() string { return a.contentType }

// IsInline reports whether the content is embedded in another asset.
func (a *Asset) IsInline() bool { return a.isInline }

// IsLoaded reports whether the content has been fetched and parsed.
func (a *Asset) IsLoaded() bool { return a.isLoaded }

// IsPopulated reports whether outgoing relations have been registered.
func (a *Asset) IsPopulated() bool { return a.isPopulated }

// Raw returns the current serialized content.
func (a *Asset) Raw() []byte { return a.raw }

// Text returns the content as a string.
func (a *Asset) Text() string { return string(a.raw) }

// FileName returns the last path segment of the URL.
func (a *Asset) FileName() string {
	if a.url == "" {
		return ""
	}
	return urlutil.FileName(a.url)
}

// Extension returns the file extension of the URL including the dot.
func (a *Asset) Extension() string {
	if a.url == "" {
		return ""
	}
	return urlutil.Extension(a.url)
}

// IsText reports whether the asset type has a content codec.
func (a *Asset) IsText() bool {
	if a.g == nil {
		return false
	}
	ti, ok := a.g.registry.Lookup(a.typ)
	return ok && ti.Codec != nil
}

// IncomingInlineRelation returns the relation embedding this asset, if inline.
func (a *Asset) IncomingInlineRelation() *Relation { return a.incomingInline }

// Graph returns the owning graph, or nil once removed.
func (a *Asset) Graph() *Graph { return a.g }

// Outgoing returns the relations from this asset in attachment order.
func (a *Asset) Outgoing() []*Relation {
	if a.g == nil {
		return nil
	}
	return append([]*Relation(nil), a.g.outgoing[a]...)
}

// Incoming returns the relations pointing at this asset.
func (a *Asset) Incoming() []*Relation {
	if a.g == nil {
		return nil
	}
	return append([]*Relation(nil), a.g.incoming[a]...)
}

// Set stores an extra attribute. Built-in attribute names shadow extras.
func (a *Asset) Set(name string, value any) {
	a.attrs.Set(name, value)
}

// Extras returns the extra attributes in insertion order.
func (a *Asset) Extras() map[string]any {
	out := make(map[string]any, a.attrs.Len())
	for pair := a.attrs.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// Attr implements query.Subject. Built-in attributes are checked first,
// then extras. Empty built-ins read as undefined.
func (a *Asset) Attr(name string) (any, bool) {
	switch name {
	case "id":
		return a.id, true
	case "url":
		return a.url, a.url != ""
	case "type":
		return a.typ, a.typ != ""
	case "contentType":
		return a.contentType, a.contentType != ""
	case "isInline":
		return a.isInline, true
	case "isLoaded":
		return a.isLoaded, true
	case "isPopulated":
		return a.isPopulated, true
	case "text", "rawSrc":
		return string(a.raw), a.isLoaded
	case "fileName":
		n := a.FileName()
		return n, n != ""
	case "extension":
		e := a.Extension()
		return e, e != ""
	case "incomingInlineRelation":
		if a.incomingInline == nil {
			return nil, false
		}
		return a.incomingInline, true
	}
	return a.attrs.Get(name)
}

// String returns the URL or a synthetic label for inline assets.
func (a *Asset) String() string {
	if a.url != "" {
		return a.url
	}
	return fmt.Sprintf("inline %s %s", a.typ, a.id)
}

// baseURL is the URL of the nearest non-inline ancestor.
func (a *Asset) baseURL() string {
	cur := a
	for hops := 0; cur != nil && hops < 1024; hops++ {
		if !cur.isInline || cur.incomingInline == nil {
			return cur.url
		}
		cur = cur.incomingInline.from
	}
	return ""
}

func (a *Asset) codec() (content.Codec, error) {
	ti, ok := a.g.registry.Lookup(a.typ)
	if !ok || ti.Codec == nil {
		return nil, fmt.Errorf("graph: %s (%q): %w", a, a.typ, ErrNoCodec)
	}
	return ti.Codec, nil
}

// sync re-serializes the tree after a mutation.
func (a *Asset) sync() error {
	if a.tree == nil {
		return nil
	}
	c, err := a.codec()
	if err != nil {
		return err
	}
	raw, err := c.Serialize(a.tree)
	if err != nil {
		return fmt.Errorf("graph: serialize %s: %w", a, err)
	}
	a.raw = raw
	return nil
}

// SetURL moves the asset. Relative URLs resolve against the current URL,
// or the graph root. Every relation to or from the asset is re-rendered.
// Setting the URL of an inline asset takes it out of line.
func (a *Asset) SetURL(u string) error {
	if a.g == nil {
		return ErrNotInGraph
	}
	return a.g.moveAsset(a, u)
}

// SetFileName renames the asset within its directory.
func (a *Asset) SetFileName(name string) error {
	if a.url == "" {
		return fmt.Errorf("graph: rename %s: %w", a, ErrNoURL)
	}
	u, err := urlutil.ReplaceFileName(a.url, name)
	if err != nil {
		return fmt.Errorf("graph: rename %s: %w", a, err)
	}
	return a.SetURL(u)
}

// SetText replaces the content. Outgoing relations are dropped and
// extracted again from the new content.
func (a *Asset) SetText(text string) error {
	return a.SetRaw([]byte(text))
}

// SetRaw replaces the content with raw bytes.
func (a *Asset) SetRaw(raw []byte) error {
	if a.g == nil {
		return ErrNotInGraph
	}
	return a.g.replaceContent(a, raw)
}
