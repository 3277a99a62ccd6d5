// Package content provides the per-format parsers and serializers the
// asset graph delegates to: relation extraction, href rewriting,
// reference attachment and inline embedding.
package content

import (
	"errors"
	"mime"
	"net/http"
	"strings"
)

// Errors returned by codecs.
var (
	ErrUnsupported = errors.New("content: operation not supported for this type")
	ErrBadSite     = errors.New("content: site does not belong to document")
)

// Tree is the structured representation of a parsed asset.
type Tree any

// Site identifies where a reference lives inside a Tree.
type Site any

// Position selects where Attach places a new reference.
type Position int

// Attachment positions.
const (
	Last Position = iota
	First
	Before
	After
)

// Descriptor describes one reference found in a parsed asset.
type Descriptor struct {
	// Type is the relation type, e.g. "HtmlAnchor".
	Type string
	// Href is the raw reference text. Empty when Content is set.
	Href string
	// Site locates the reference for later rewriting.
	Site Site
	// TargetType is the asset type the reference is expected to point at, if known.
	TargetType string
	// Content holds embedded bytes for inline references (data: URIs, srcdoc).
	Content []byte
	// ContentType is the media type of Content.
	ContentType string
}

// Inline reports whether the descriptor carries embedded content.
func (d Descriptor) Inline() bool {
	return d.Content != nil
}

// Codec parses, inspects and mutates one asset format.
type Codec interface {
	Parse(raw []byte) (Tree, error)
	Relations(tree Tree) ([]Descriptor, error)
	Serialize(tree Tree) ([]byte, error)
	SetHref(tree Tree, site Site, href string) error
	SetInline(tree Tree, site Site, data []byte, contentType string) error
	Attach(tree Tree, relType string, pos Position, adjacent Site) (Site, error)
	Detach(tree Tree, site Site) error
}

// AttrProvider is implemented by codecs that expose document metadata as
// asset attributes (Markdown front matter).
type AttrProvider interface {
	Attrs(tree Tree) map[string]any
}

// TypeInfo describes one asset type.
type TypeInfo struct {
	Name        string
	ContentType string
	Extensions  []string
	Codec       Codec
}

// Registry maps type names, extensions and media types to TypeInfo.
type Registry struct {
	byName        map[string]*TypeInfo
	byExt         map[string]*TypeInfo
	byContentType map[string]*TypeInfo
}

// NewRegistry builds a registry from infos. Later entries win on conflicts.
func NewRegistry(infos ...TypeInfo) *Registry {
	r := &Registry{
		byName:        make(map[string]*TypeInfo),
		byExt:         make(map[string]*TypeInfo),
		byContentType: make(map[string]*TypeInfo),
	}
	for i := range infos {
		r.Register(infos[i])
	}
	return r
}

// Register adds or replaces a type.
func (r *Registry) Register(info TypeInfo) {
	ti := info
	r.byName[ti.Name] = &ti
	for _, ext := range ti.Extensions {
		r.byExt[strings.ToLower(ext)] = &ti
	}
	if ti.ContentType != "" {
		r.byContentType[ti.ContentType] = &ti
	}
}

// Lookup returns the type called name.
func (r *Registry) Lookup(name string) (*TypeInfo, bool) {
	ti, ok := r.byName[name]
	return ti, ok
}

// ForExtension returns the type registered for ext (with leading dot).
func (r *Registry) ForExtension(ext string) (*TypeInfo, bool) {
	ti, ok := r.byExt[strings.ToLower(ext)]
	return ti, ok
}

// ForContentType returns the type registered for a media type; parameters are ignored.
func (r *Registry) ForContentType(ct string) (*TypeInfo, bool) {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.TrimSpace(strings.ToLower(ct))
	}
	ti, ok := r.byContentType[mt]
	return ti, ok
}

// Sniff guesses the type of raw bytes from their content.
func (r *Registry) Sniff(data []byte) (*TypeInfo, bool) {
	return r.ForContentType(http.DetectContentType(data))
}

// Default returns a registry with the built-in web asset types.
func Default() *Registry {
	return NewRegistry(
		TypeInfo{Name: "Html", ContentType: "text/html", Extensions: []string{".html", ".htm"}, Codec: NewHTML()},
		TypeInfo{Name: "Svg", ContentType: "image/svg+xml", Extensions: []string{".svg"}, Codec: NewSVG()},
		TypeInfo{Name: "Css", ContentType: "text/css", Extensions: []string{".css"}, Codec: NewCSS()},
		TypeInfo{Name: "Markdown", ContentType: "text/markdown", Extensions: []string{".md", ".markdown"}, Codec: NewMarkdown()},
		TypeInfo{Name: "JavaScript", ContentType: "application/javascript", Extensions: []string{".js", ".mjs"}, Codec: NewText()},
		TypeInfo{Name: "Json", ContentType: "application/json", Extensions: []string{".json"}, Codec: NewText()},
		TypeInfo{Name: "Text", ContentType: "text/plain", Extensions: []string{".txt"}, Codec: NewText()},
		TypeInfo{Name: "Png", ContentType: "image/png", Extensions: []string{".png"}},
		TypeInfo{Name: "Jpeg", ContentType: "image/jpeg", Extensions: []string{".jpg", ".jpeg"}},
		TypeInfo{Name: "Gif", ContentType: "image/gif", Extensions: []string{".gif"}},
		TypeInfo{Name: "Webp", ContentType: "image/webp", Extensions: []string{".webp"}},
		TypeInfo{Name: "Ico", ContentType: "image/x-icon", Extensions: []string{".ico"}},
		TypeInfo{Name: "Woff", ContentType: "font/woff", Extensions: []string{".woff"}},
		TypeInfo{Name: "Woff2", ContentType: "font/woff2", Extensions: []string{".woff2"}},
		TypeInfo{Name: "Video", ContentType: "video/mp4", Extensions: []string{".mp4", ".mov", ".wmv", ".flc", ".webm"}},
		TypeInfo{Name: "Audio", ContentType: "audio/mpeg", Extensions: []string{".mp3", ".ogg", ".wav"}},
	)
}
