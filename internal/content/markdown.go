package content

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	mdLinkRe   = regexp.MustCompile(`(!?)\[[^\]]*\]\(\s*([^)\s]+)(?:\s+"[^"]*")?\s*\)`)
	wikilinkRe = regexp.MustCompile(`\[\[([^\]|]*?)(?:\|[^\]]*)?\]\]`)
	mdTagRe    = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

type markdown struct {
	base
}

// NewMarkdown returns the Markdown codec. Front matter is exposed as
// asset attributes; inline links, images and [[wikilinks]] are relations.
func NewMarkdown() Codec {
	m := &markdown{}
	m.base = base{
		scan:       scanMarkdown,
		templates:  markdownTemplates,
		formatHref: formatWikiHref,
		parseHref:  parseWikiHref,
	}
	return m
}

var markdownTemplates = map[string]string{
	"MarkdownLink":     "[link](%s)",
	"MarkdownImage":    "![](%s)",
	"MarkdownWikiLink": "[[%s]]",
}

func scanMarkdown(src string) []match {
	_, body, offset := splitFrontmatter([]byte(src))
	var out []match
	for _, m := range mdLinkRe.FindAllStringSubmatchIndex(body, -1) {
		relType := "MarkdownLink"
		if m[3] > m[2] {
			relType = "MarkdownImage"
		}
		out = append(out, match{
			elemStart: offset + m[0], elemEnd: offset + m[1],
			valueStart: offset + m[4], valueEnd: offset + m[5],
			relType: relType,
		})
	}
	for _, m := range wikilinkRe.FindAllStringSubmatchIndex(body, -1) {
		if strings.TrimSpace(body[m[2]:m[3]]) == "" {
			continue
		}
		out = append(out, match{
			elemStart: offset + m[0], elemEnd: offset + m[1],
			valueStart: offset + m[2], valueEnd: offset + m[3],
			relType: "MarkdownWikiLink", targetType: "Markdown",
		})
	}
	return out
}

// parseWikiHref maps a wikilink target to a note path: "[[Note]]" -> "Note.md".
func parseWikiHref(relType, raw string) string {
	if relType != "MarkdownWikiLink" {
		return raw
	}
	if path.Ext(raw) == "" {
		return raw + ".md"
	}
	return raw
}

func formatWikiHref(relType, href string) string {
	if relType != "MarkdownWikiLink" {
		return href
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	return strings.TrimPrefix(strings.TrimSuffix(href, ".md"), "./")
}

// Attrs exposes the front matter keys plus derived title and tags.
func (m *markdown) Attrs(tree Tree) map[string]any {
	d, err := m.doc(tree)
	if err != nil {
		return nil
	}
	fm, body, _ := splitFrontmatter([]byte(d.String()))
	out := make(map[string]any, len(fm)+2)
	for k, v := range fm {
		out[k] = v
	}
	out["title"] = deriveTitle(fm, body)
	out["tags"] = extractTags(body, fm)
	return out
}

// splitFrontmatter separates YAML front matter (between leading ---
// delimiters) from the body. offset is the byte index where body starts
// in data. Invalid YAML is treated as body.
func splitFrontmatter(data []byte) (map[string]any, string, int) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), 0
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), 0
	}
	yamlBlock := rest[:idx]
	after := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(after), "\n\r")
	offset := len(data) - len(body)

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data), 0
	}
	return fm, body, offset
}

// extractTags collects #tags from the body and the front matter "tags" list.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	if raw, ok := fm["tags"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				s = strings.TrimSpace(s)
				if _, dup := seen[s]; s != "" && !dup {
					seen[s] = struct{}{}
					out = append(out, s)
				}
			}
		}
	}
	for _, m := range mdTagRe.FindAllStringSubmatch(body, -1) {
		if _, dup := seen[m[1]]; !dup {
			seen[m[1]] = struct{}{}
			out = append(out, m[1])
		}
	}
	return out
}

// deriveTitle prefers the front matter title, then the first H1.
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
