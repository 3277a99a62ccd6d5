package content

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// Document is the Tree shared by the text codecs: the source split into
// literal parts and reference parts, so that rewriting a reference never
// disturbs the surrounding bytes.
type Document struct {
	parts []*part
}

type part struct {
	text string
	ref  *ref
}

// embedKind says how an embedded reference stores its content.
type embedKind int

const (
	notEmbedded embedKind = iota
	// embedAttr content is an escaped attribute value (srcdoc, style).
	embedAttr
	// embedBody content is the raw text of a <style> or <script> element.
	embedBody
)

// ref is the payload of a reference part. open and close are the first
// and last parts of the element that contains the reference. For an
// attribute, lead and trail count the bytes of the attribute around the
// value: the name, the equals sign and the quotes.
type ref struct {
	relType     string
	targetType  string
	embed       embedKind
	contentType string
	lead, trail int
	open        *part
	close       *part
}

// String returns the current serialization.
func (d *Document) String() string {
	var b strings.Builder
	for _, p := range d.parts {
		b.WriteString(p.text)
	}
	return b.String()
}

func (d *Document) indexOf(p *part) int {
	for i, q := range d.parts {
		if q == p {
			return i
		}
	}
	return -1
}

// match is one reference found by a scanner. Element bounds enclose the
// value bounds.
type match struct {
	elemStart, elemEnd   int
	valueStart, valueEnd int
	lead, trail          int
	relType              string
	targetType           string
	embed                embedKind
	contentType          string
}

// buildDocument splits src along the given matches. Matches sharing an
// element must be adjacent in the slice.
func buildDocument(src string, matches []match) *Document {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].elemStart != matches[j].elemStart {
			return matches[i].elemStart < matches[j].elemStart
		}
		return matches[i].valueStart < matches[j].valueStart
	})
	doc := &Document{}
	cursor := 0
	for i := 0; i < len(matches); {
		elemStart, elemEnd := matches[i].elemStart, matches[i].elemEnd
		j := i
		for j < len(matches) && matches[j].elemStart == elemStart {
			j++
		}
		if elemStart < cursor {
			// Overlapping element; skip it.
			i = j
			continue
		}
		if elemStart > cursor {
			doc.parts = append(doc.parts, &part{text: src[cursor:elemStart]})
		}
		first := len(doc.parts)
		pos := elemStart
		var refs []*ref
		for _, m := range matches[i:j] {
			doc.parts = append(doc.parts, &part{text: src[pos:m.valueStart]})
			r := &ref{
				relType:     m.relType,
				targetType:  m.targetType,
				embed:       m.embed,
				contentType: m.contentType,
				lead:        m.lead,
				trail:       m.trail,
			}
			doc.parts = append(doc.parts, &part{text: src[m.valueStart:m.valueEnd], ref: r})
			refs = append(refs, r)
			pos = m.valueEnd
		}
		doc.parts = append(doc.parts, &part{text: src[pos:elemEnd]})
		for _, r := range refs {
			r.open = doc.parts[first]
			r.close = doc.parts[len(doc.parts)-1]
		}
		cursor = elemEnd
		i = j
	}
	if cursor < len(src) {
		doc.parts = append(doc.parts, &part{text: src[cursor:]})
	}
	return doc
}

// base implements the Document-backed parts of Codec. Formats supply a
// scanner, attachment templates and href decoration.
type base struct {
	scan      func(src string) []match
	templates map[string]string
	// formatHref adjusts an href before it is written for a relation type.
	formatHref func(relType, href string) string
	// parseHref turns the raw reference text back into an href.
	parseHref func(relType, raw string) string
}

func (b *base) doc(tree Tree) (*Document, error) {
	d, ok := tree.(*Document)
	if !ok || d == nil {
		return nil, fmt.Errorf("content: unexpected tree %T", tree)
	}
	return d, nil
}

func (b *base) site(d *Document, site Site) (*part, error) {
	p, ok := site.(*part)
	if !ok || p.ref == nil || d.indexOf(p) < 0 {
		return nil, ErrBadSite
	}
	return p, nil
}

func (b *base) Parse(raw []byte) (Tree, error) {
	src := string(raw)
	return buildDocument(src, b.scan(src)), nil
}

func (b *base) Serialize(tree Tree) ([]byte, error) {
	d, err := b.doc(tree)
	if err != nil {
		return nil, err
	}
	return []byte(d.String()), nil
}

func (b *base) Relations(tree Tree) ([]Descriptor, error) {
	d, err := b.doc(tree)
	if err != nil {
		return nil, err
	}
	var out []Descriptor
	for _, p := range d.parts {
		if p.ref == nil {
			continue
		}
		desc := Descriptor{Type: p.ref.relType, Site: p, TargetType: p.ref.targetType}
		switch {
		case p.ref.embed == embedAttr:
			desc.Content = []byte(unescapeAttr(p.text))
			desc.ContentType = p.ref.contentType
		case p.ref.embed == embedBody:
			desc.Content = []byte(p.text)
			desc.ContentType = p.ref.contentType
		default:
			href := strings.TrimSpace(p.text)
			if b.parseHref != nil {
				href = b.parseHref(p.ref.relType, href)
			}
			if data, ct, ok := DecodeDataURL(href); ok {
				desc.Content, desc.ContentType = data, ct
			} else {
				desc.Href = href
			}
		}
		out = append(out, desc)
	}
	return out, nil
}

func (b *base) SetHref(tree Tree, site Site, href string) error {
	d, err := b.doc(tree)
	if err != nil {
		return err
	}
	p, err := b.site(d, site)
	if err != nil {
		return err
	}
	if b.formatHref != nil {
		href = b.formatHref(p.ref.relType, href)
	}
	p.text = strings.ReplaceAll(href, `"`, "%22")
	return nil
}

func (b *base) SetInline(tree Tree, site Site, data []byte, contentType string) error {
	d, err := b.doc(tree)
	if err != nil {
		return err
	}
	p, err := b.site(d, site)
	if err != nil {
		return err
	}
	switch p.ref.embed {
	case embedAttr:
		p.text = escapeAttr(string(data))
	case embedBody:
		p.text = escapeBody(string(data))
	default:
		p.text = EncodeDataURL(data, contentType)
	}
	return nil
}

func (b *base) Attach(tree Tree, relType string, pos Position, adjacent Site) (Site, error) {
	d, err := b.doc(tree)
	if err != nil {
		return nil, err
	}
	tmpl, ok := b.templates[relType]
	if !ok {
		return nil, fmt.Errorf("%w: attach %s", ErrUnsupported, relType)
	}
	pre, post, _ := strings.Cut(tmpl, "%s")
	r := &ref{relType: relType}
	open, value, closing := &part{text: pre}, &part{text: "", ref: r}, &part{text: post}
	r.open, r.close = open, closing
	inserted := []*part{open, value, closing}

	var at int
	switch pos {
	case First:
		at = 0
	case Last:
		at = len(d.parts)
	case Before, After:
		adj, err := b.site(d, adjacent)
		if err != nil {
			return nil, err
		}
		if pos == Before {
			at = d.indexOf(adj.ref.open)
		} else {
			at = d.indexOf(adj.ref.close) + 1
		}
	default:
		return nil, fmt.Errorf("content: unknown position %d", pos)
	}
	d.parts = append(d.parts[:at], append(inserted, d.parts[at:]...)...)
	return value, nil
}

func (b *base) Detach(tree Tree, site Site) error {
	d, err := b.doc(tree)
	if err != nil {
		return err
	}
	p, err := b.site(d, site)
	if err != nil {
		return err
	}
	from, to := d.indexOf(p.ref.open), d.indexOf(p.ref.close)
	if from < 0 || to < from {
		return ErrBadSite
	}
	for _, q := range d.parts[from : to+1] {
		if q != p && q.ref != nil {
			// The element holds other references; drop only this one.
			d.cut(p)
			return nil
		}
	}
	d.parts = append(d.parts[:from], d.parts[to+1:]...)
	return nil
}

// cut removes a reference part together with the attribute syntax around
// it, leaving the rest of its element in place.
func (d *Document) cut(p *part) {
	i := d.indexOf(p)
	if i > 0 && p.ref.lead > 0 {
		prev := d.parts[i-1]
		prev.text = prev.text[:max(len(prev.text)-p.ref.lead, 0)]
	}
	if i+1 < len(d.parts) && p.ref.trail > 0 {
		next := d.parts[i+1]
		next.text = next.text[min(p.ref.trail, len(next.text)):]
	}
	d.parts = append(d.parts[:i], d.parts[i+1:]...)
}

// EncodeDataURL renders data as a base64 data: URI.
func EncodeDataURL(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return dataurl.New(data, contentType).String()
}

// DecodeDataURL decodes a data: URI. The bool is false when href is not one.
func DecodeDataURL(href string) ([]byte, string, bool) {
	if !strings.HasPrefix(strings.ToLower(href), "data:") {
		return nil, "", false
	}
	du, err := dataurl.DecodeString(href)
	if err != nil {
		return nil, "", false
	}
	return du.Data, du.ContentType(), true
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;")

var attrUnescaper = strings.NewReplacer("&quot;", `"`, "&#34;", `"`, "&amp;", `&`, "&lt;", "<", "&gt;", ">")

var bodyCloseRe = regexp.MustCompile(`(?i)</(style|script)`)

func escapeAttr(s string) string   { return attrEscaper.Replace(s) }
func unescapeAttr(s string) string { return attrUnescaper.Replace(s) }

// escapeBody keeps embedded text from closing its element early.
func escapeBody(s string) string { return bodyCloseRe.ReplaceAllString(s, `<\/$1`) }
