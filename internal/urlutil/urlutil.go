// Package urlutil implements the URL algebra used by the asset graph:
// resolution, origin comparison with default-port equivalence, relative
// path computation and classification of the textual form of an href.
package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// HrefType classifies how a reference is written in its source text.
type HrefType string

// Href forms.
const (
	Relative         HrefType = "relative"
	RootRelative     HrefType = "rootRelative"
	ProtocolRelative HrefType = "protocolRelative"
	Absolute         HrefType = "absolute"
	Inline           HrefType = "inline"
)

// Valid reports whether t is one of the known href forms.
func (t HrefType) Valid() bool {
	switch t {
	case Relative, RootRelative, ProtocolRelative, Absolute, Inline:
		return true
	}
	return false
}

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// DetectHrefType infers the form of a raw href as it appears in source text.
// Leading and trailing white space is ignored.
func DetectHrefType(href string) HrefType {
	h := strings.TrimSpace(href)
	switch {
	case strings.HasPrefix(strings.ToLower(h), "data:"):
		return Inline
	case strings.HasPrefix(h, "//"):
		return ProtocolRelative
	case strings.HasPrefix(h, "/"):
		return RootRelative
	case schemeRe.MatchString(h):
		return Absolute
	}
	return Relative
}

// HasScheme reports whether s starts with a URL scheme.
func HasScheme(s string) bool {
	return schemeRe.MatchString(s)
}

// Resolve resolves ref against the absolute base URL. Protocol-relative
// references resolved against a non-http base default to http.
func Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("urlutil: parse base %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("urlutil: parse ref %q: %w", ref, err)
	}
	if strings.HasPrefix(ref, "//") && !IsHTTPScheme(b.Scheme) {
		r.Scheme = "http"
		return normalize(r).String(), nil
	}
	return normalize(b.ResolveReference(r)).String(), nil
}

// Normalize puts an absolute URL in the form used as asset identity: the
// scheme and host are lower-cased, a default port is dropped and an empty
// http(s) path becomes "/". Unparsable input is returned unchanged.
func Normalize(u string) string {
	p, err := url.Parse(u)
	if err != nil || p.Scheme == "" {
		return u
	}
	return normalize(p).String()
}

func normalize(p *url.URL) *url.URL {
	p.Scheme = strings.ToLower(p.Scheme)
	if p.Opaque != "" || p.Host == "" {
		return p
	}
	host, port := strings.ToLower(p.Hostname()), p.Port()
	if port == defaultPorts[p.Scheme] {
		port = ""
	}
	switch {
	case port != "":
		p.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		p.Host = "[" + host + "]"
	default:
		p.Host = host
	}
	if p.Path == "" && IsHTTPScheme(p.Scheme) {
		p.Path = "/"
	}
	return p
}

// IsHTTPScheme reports whether scheme is http or https.
func IsHTTPScheme(scheme string) bool {
	s := strings.ToLower(scheme)
	return s == "http" || s == "https"
}

// Scheme returns the lower-cased scheme of u, or "" if u has none.
func Scheme(u string) string {
	m := schemeRe.FindString(u)
	return strings.ToLower(strings.TrimSuffix(m, ":"))
}

// Origin returns the normalized origin of u: scheme, lower-cased host and
// the port, which is dropped when it equals the scheme's default.
// Opaque URLs such as mailto: have an origin of just their scheme.
func Origin(u string) string {
	p, err := url.Parse(u)
	if err != nil || p.Scheme == "" {
		return ""
	}
	scheme := strings.ToLower(p.Scheme)
	if p.Opaque != "" {
		return scheme + ":"
	}
	host := strings.ToLower(p.Hostname())
	if port := p.Port(); port != "" && port != defaultPorts[scheme] {
		host += ":" + port
	}
	return scheme + "://" + host
}

// SameOrigin reports whether a and b share scheme, host and effective port.
func SameOrigin(a, b string) bool {
	oa := Origin(a)
	return oa != "" && oa == Origin(b)
}

// SameSchemeDifferentHost reports whether a and b share a scheme but not an origin.
func SameSchemeDifferentHost(a, b string) bool {
	sa := Scheme(a)
	return sa != "" && sa == Scheme(b) && !SameOrigin(a, b)
}

// SplitFragment separates the fragment identifier (without '#') from u.
func SplitFragment(u string) (string, string) {
	base, frag, _ := strings.Cut(u, "#")
	return base, frag
}

// WithFragment appends "#frag" to u unless frag is empty.
func WithFragment(u, frag string) string {
	if frag == "" {
		return u
	}
	return u + "#" + frag
}

// RelativeRef computes the shortest relative reference from the document at
// from to the resource at to. Both must share an origin.
func RelativeRef(from, to string) (string, error) {
	f, err := url.Parse(from)
	if err != nil {
		return "", fmt.Errorf("urlutil: parse %q: %w", from, err)
	}
	t, err := url.Parse(to)
	if err != nil {
		return "", fmt.Errorf("urlutil: parse %q: %w", to, err)
	}
	fromSegs := strings.Split(f.EscapedPath(), "/")
	toSegs := strings.Split(t.EscapedPath(), "/")
	fromDir := fromSegs[:len(fromSegs)-1]
	toDir, toFile := toSegs[:len(toSegs)-1], toSegs[len(toSegs)-1]

	common := 0
	for common < len(fromDir) && common < len(toDir) && fromDir[common] == toDir[common] {
		common++
	}
	var b strings.Builder
	for range fromDir[common:] {
		b.WriteString("../")
	}
	for _, seg := range toDir[common:] {
		b.WriteString(seg)
		b.WriteString("/")
	}
	b.WriteString(toFile)
	rel := b.String()
	if rel == "" {
		rel = "./"
	}
	if t.RawQuery != "" {
		rel += "?" + t.RawQuery
	}
	return rel, nil
}

// RootRelativeRef renders to as a root-relative reference ("/path") against
// root, which must be a prefix of to. The bool is false when to is not
// under root.
func RootRelativeRef(root, to string) (string, bool) {
	root = EnsureTrailingSlash(root)
	if !strings.HasPrefix(to, root) {
		return "", false
	}
	return "/" + strings.TrimPrefix(to, root), true
}

// OriginRoot returns the origin of u followed by a slash.
func OriginRoot(u string) string {
	o := Origin(u)
	if o == "" {
		return ""
	}
	return o + "/"
}

// StripScheme renders an absolute URL in protocol-relative form ("//host/path").
func StripScheme(u string) string {
	i := strings.Index(u, "//")
	if i < 0 {
		return u
	}
	return u[i:]
}

// EnsureTrailingSlash appends "/" to s unless already present.
func EnsureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// FileName returns the last path segment of u, unescaped, without query.
func FileName(u string) string {
	p, err := url.Parse(u)
	if err != nil {
		return ""
	}
	if p.Opaque != "" {
		return ""
	}
	return path.Base("/" + strings.TrimPrefix(p.Path, "/"))
}

// Extension returns the file extension of u including the dot, or "".
func Extension(u string) string {
	name := FileName(u)
	if name == "/" || name == "." {
		return ""
	}
	return path.Ext(name)
}

// ReplaceFileName swaps the last path segment of u for name.
func ReplaceFileName(u, name string) (string, error) {
	return Resolve(u, url.PathEscape(name))
}

// FileURL converts an absolute file system path into a file: URL.
func FileURL(p string) string {
	abs, err := filepath.Abs(p)
	if err == nil {
		p = abs
	}
	slashed := filepath.ToSlash(p)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

// FilePath converts a file: URL back into a file system path.
func FilePath(u string) (string, error) {
	p, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("urlutil: parse %q: %w", u, err)
	}
	if !strings.EqualFold(p.Scheme, "file") {
		return "", fmt.Errorf("urlutil: not a file url: %s", u)
	}
	return filepath.FromSlash(p.Path), nil
}
