package graph

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/starford/assetgraph/internal/content"
	"github.com/starford/assetgraph/internal/urlutil"
)

// HrefType is the textual form of a reference.
type HrefType = urlutil.HrefType

// Href forms.
const (
	HrefRelative         = urlutil.Relative
	HrefRootRelative     = urlutil.RootRelative
	HrefProtocolRelative = urlutil.ProtocolRelative
	HrefAbsolute         = urlutil.Absolute
	HrefInline           = urlutil.Inline
)

// Position selects where AddRelation places the reference in the source.
type Position = content.Position

// Attachment positions.
const (
	Last   = content.Last
	First  = content.First
	Before = content.Before
	After  = content.After
)

// RelationConfig describes a relation to add to the graph.
type RelationConfig struct {
	Type string
	From *Asset
	// To is an *Asset already in the graph, a URL string resolved against
	// From, or an AssetConfig.
	To any
	// HrefType defaults to relative.
	HrefType  HrefType
	Canonical bool
	// Adjacent is required for Before and After.
	Adjacent *Relation
	Attrs    map[string]any
}

// Relation is a typed edge: one reference in From's content to To.
type Relation struct {
	g   *Graph
	id  string
	seq uint64

	typ  string
	from *Asset
	to   *Asset

	href      string
	hrefType  HrefType
	canonical bool
	fragment  string
	// omitIndex renders ".../index.html" targets as ".../".
	omitIndex bool
	// selfRef marks a bare "#fragment" reference to the source itself.
	selfRef bool

	site  content.Site
	attrs *orderedmap.OrderedMap[string, any]
}

// ID returns the relation id.
func (r *Relation) ID() string { return r.id }

// Type returns the relation type, e.g. "HtmlAnchor".
func (r *Relation) Type() string { return r.typ }

// From returns the asset holding the reference.
func (r *Relation) From() *Asset { return r.from }

// To returns the target asset.
func (r *Relation) To() *Asset { return r.to }

// HrefType returns the current textual form.
func (r *Relation) HrefType() HrefType { return r.hrefType }

// Canonical reports whether the href renders against the canonical root.
func (r *Relation) Canonical() bool { return r.canonical }

// Fragment returns the fragment identifier without '#'.
func (r *Relation) Fragment() string { return r.fragment }

// Graph returns the owning graph, or nil once removed.
func (r *Relation) Graph() *Graph { return r.g }

// Href returns the reference text as written in the source. Inline
// relations render their target as a data: URI.
func (r *Relation) Href() string {
	if r.hrefType == HrefInline && r.to != nil && r.to.isInline {
		return content.EncodeDataURL(r.to.raw, r.to.contentType)
	}
	return r.href
}

// Crossorigin reports whether the target lives on another origin than the
// document the reference resolves against.
func (r *Relation) Crossorigin() bool {
	to := r.to
	if to == nil || to.isInline || r.canonical || r.selfRef || to.url == "" {
		return false
	}
	base := r.from.baseURL()
	if base == "" {
		return false
	}
	return urlutil.Origin(base) != urlutil.Origin(to.url)
}

// Set stores an extra attribute.
func (r *Relation) Set(name string, value any) {
	r.attrs.Set(name, value)
}

// Attr implements query.Subject.
func (r *Relation) Attr(name string) (any, bool) {
	switch name {
	case "id":
		return r.id, true
	case "type":
		return r.typ, r.typ != ""
	case "href":
		h := r.Href()
		return h, h != ""
	case "hrefType":
		return r.hrefType, r.hrefType != ""
	case "canonical":
		return r.canonical, true
	case "crossorigin":
		return r.Crossorigin(), true
	case "fragment":
		return r.fragment, r.fragment != ""
	case "from":
		if r.from == nil {
			return nil, false
		}
		return r.from, true
	case "to":
		if r.to == nil {
			return nil, false
		}
		return r.to, true
	}
	return r.attrs.Get(name)
}

func (r *Relation) String() string {
	return fmt.Sprintf("%s %s -> %s", r.typ, r.from, r.to)
}

// RefreshHref re-renders the href for the current form and target and
// writes it into the source content.
func (r *Relation) RefreshHref() error {
	if r.g == nil {
		return ErrNotInGraph
	}
	r.g.enqueue(r)
	return r.g.flush()
}

// SetHrefType re-renders the href in another form. HrefInline inlines the
// target; leaving HrefInline takes it out of line.
func (r *Relation) SetHrefType(t HrefType) error {
	if r.g == nil {
		return ErrNotInGraph
	}
	if !t.Valid() {
		return fmt.Errorf("graph: unknown href type %q", t)
	}
	if t == HrefInline {
		if r.to != nil && r.to.isInline && r.to.incomingInline == r {
			return nil
		}
		return r.Inline()
	}
	if r.to != nil && r.to.isInline && r.to.incomingInline == r {
		if err := r.g.checkUninline(r); err != nil {
			return err
		}
		r.hrefType = t
		return r.Uninline()
	}
	r.hrefType = t
	return r.RefreshHref()
}

// SetCanonical toggles rendering against the canonical root. Without a
// canonical root, or for targets outside the graph root, enabling is a no-op.
func (r *Relation) SetCanonical(canonical bool) error {
	if r.g == nil {
		return ErrNotInGraph
	}
	g := r.g
	if canonical {
		if g.canonicalRoot == "" || r.to == nil || !g.underRoot(r.to.url) {
			return nil
		}
	} else if r.canonical && r.hrefType == HrefAbsolute && r.to != nil && g.underRoot(r.to.url) {
		r.hrefType = HrefRootRelative
	}
	r.canonical = canonical
	return r.RefreshHref()
}

// SetTo retargets the relation. target is an *Asset in the graph, a URL
// resolved against the source document, or an AssetConfig.
func (r *Relation) SetTo(target any) error {
	if r.g == nil {
		return ErrNotInGraph
	}
	to, frag, err := r.g.resolveTarget(r.from, target)
	if err != nil {
		return err
	}
	if err := r.g.retarget(r, to); err != nil {
		return err
	}
	if frag != "" {
		r.fragment = frag
	}
	return r.RefreshHref()
}

// Inline embeds the target's content at the reference. Outgoing relations
// of the target now resolve against the embedding document and are
// re-rendered.
func (r *Relation) Inline() error {
	if r.g == nil {
		return ErrNotInGraph
	}
	return r.g.inline(r)
}

// Uninline writes the target back as a URL reference.
func (r *Relation) Uninline() error {
	if r.g == nil {
		return ErrNotInGraph
	}
	return r.g.uninline(r)
}

// Detach removes the reference from the source content and the relation
// from the graph.
func (r *Relation) Detach() error {
	if r.g == nil {
		return ErrNotInGraph
	}
	return r.g.detach(r)
}
