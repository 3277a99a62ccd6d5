package content

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var attrRe = regexp.MustCompile(`(?is)\s([a-z][a-z0-9:-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// attrRule maps a (tag, attribute) pair to a relation. An empty attr asks
// about the text body of the element. embedded marks references whose
// content is written in place rather than behind an href.
type attrRule func(tag, attr string, attrs map[string]string, st *scanState) (relType, targetType string, embedded bool)

type scanState struct {
	media string
}

// token is one markup token and its byte span in the source.
type token struct {
	typ        html.TokenType
	tag        string
	start, end int
}

// tokenize splits src into markup tokens. Comments and the bodies of raw
// text elements such as <script> come out as single tokens, so markup
// inside them is never read as tags.
func tokenize(src string) []token {
	z := html.NewTokenizer(strings.NewReader(src))
	var out []token
	pos := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		n := len(z.Raw())
		tok := token{typ: tt, start: pos, end: pos + n}
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tok.tag = string(name)
		}
		out = append(out, tok)
		pos += n
	}
}

var embedContentTypes = map[string]string{
	"Html":       "text/html",
	"Css":        "text/css",
	"JavaScript": "application/javascript",
}

// scanTags finds every quoted attribute and element body the rule maps to
// a relation.
func scanTags(src string, rule attrRule) []match {
	toks := tokenize(src)
	var out []match
	st := &scanState{}
	for i, tok := range toks {
		switch tok.typ {
		case html.EndTagToken:
			if tok.tag == st.media {
				st.media = ""
			}
			continue
		case html.StartTagToken:
			if tok.tag == "video" || tok.tag == "audio" {
				st.media = tok.tag
			}
		case html.SelfClosingTagToken:
		default:
			continue
		}

		raw := src[tok.start:tok.end]
		attrMatches := attrRe.FindAllStringSubmatchIndex(raw, -1)
		attrs := make(map[string]string, len(attrMatches))
		for _, am := range attrMatches {
			attrs[strings.ToLower(raw[am[2]:am[3]])] = attrValue(raw, am)
		}
		elemEnd := elementEnd(toks, i)
		for _, am := range attrMatches {
			name := strings.ToLower(raw[am[2]:am[3]])
			relType, targetType, embedded := rule(tok.tag, name, attrs, st)
			if relType == "" {
				continue
			}
			vs, ve := am[4], am[5]
			if vs < 0 {
				vs, ve = am[6], am[7]
			}
			m := match{
				elemStart:  tok.start,
				elemEnd:    elemEnd,
				valueStart: tok.start + vs,
				valueEnd:   tok.start + ve,
				lead:       vs - am[0],
				trail:      1,
				relType:    relType,
				targetType: targetType,
			}
			if embedded {
				m.embed = embedAttr
				m.contentType = embedContentTypes[targetType]
			}
			out = append(out, m)
		}

		if body, ok := textBody(toks, i); ok {
			if relType, targetType, _ := rule(tok.tag, "", attrs, st); relType != "" {
				out = append(out, match{
					elemStart:   tok.start,
					elemEnd:     elemEnd,
					valueStart:  body.start,
					valueEnd:    body.end,
					relType:     relType,
					targetType:  targetType,
					embed:       embedBody,
					contentType: embedContentTypes[targetType],
				})
			}
		}
	}
	return out
}

var voidTags = map[string]bool{
	"area": true, "base": true, "embed": true, "img": true, "input": true,
	"link": true, "meta": true, "source": true, "track": true,
}

// textBody returns the text token of an element that holds only text.
func textBody(toks []token, i int) (token, bool) {
	if toks[i].typ != html.StartTagToken || i+2 >= len(toks) {
		return token{}, false
	}
	body, end := toks[i+1], toks[i+2]
	if body.typ != html.TextToken || end.typ != html.EndTagToken || end.tag != toks[i].tag {
		return token{}, false
	}
	return body, true
}

// elementEnd extends a start tag over its closing tag when the element
// holds only text, so that detaching a reference removes the element.
func elementEnd(toks []token, i int) int {
	tok := toks[i]
	if tok.typ != html.StartTagToken || voidTags[tok.tag] {
		return tok.end
	}
	j := i + 1
	if j < len(toks) && toks[j].typ == html.TextToken {
		j++
	}
	if j < len(toks) && toks[j].typ == html.EndTagToken && toks[j].tag == tok.tag {
		return toks[j].end
	}
	return tok.end
}

func attrValue(raw string, am []int) string {
	if am[4] >= 0 {
		return raw[am[4]:am[5]]
	}
	return raw[am[6]:am[7]]
}

// javaScriptType reports whether a <script> type attribute denotes code.
func javaScriptType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "module", "text/javascript", "application/javascript", "text/ecmascript", "application/ecmascript":
		return true
	}
	return false
}

// inlineRule covers the element bodies and style attributes shared by
// Html and Svg. prefix is the relation type prefix.
func inlineRule(prefix, tag, attr string, attrs map[string]string) (string, string, bool) {
	switch {
	case attr == "" && tag == "style":
		return prefix + "Style", "Css", true
	case attr == "" && tag == "script":
		if _, external := attrs["src"]; external {
			return "", "", false
		}
		if _, external := attrs["xlink:href"]; external {
			return "", "", false
		}
		if !javaScriptType(attrs["type"]) {
			return "", "", false
		}
		return prefix + "Script", "JavaScript", true
	case attr == "style" && strings.TrimSpace(attrs["style"]) != "":
		return prefix + "StyleAttribute", "Css", true
	}
	return "", "", false
}

func htmlRule(tag, attr string, attrs map[string]string, st *scanState) (string, string, bool) {
	if attr == "" || attr == "style" {
		return inlineRule("Html", tag, attr, attrs)
	}
	switch {
	case tag == "a" && attr == "href":
		return "HtmlAnchor", "", false
	case tag == "link" && attr == "href":
		return linkRelation(attrs["rel"])
	case tag == "script" && attr == "src":
		return "HtmlScript", "JavaScript", false
	case tag == "img" && attr == "src":
		return "HtmlImage", "", false
	case tag == "iframe" && attr == "src":
		return "HtmlIFrame", "Html", false
	case tag == "iframe" && attr == "srcdoc":
		return "HtmlIFrameSrcDoc", "Html", true
	case tag == "video" && attr == "src":
		return "HtmlVideo", "", false
	case tag == "video" && attr == "poster":
		return "HtmlVideoPoster", "", false
	case tag == "audio" && attr == "src":
		return "HtmlAudio", "", false
	case tag == "source" && attr == "src":
		if st.media == "audio" {
			return "HtmlAudio", "", false
		}
		return "HtmlVideo", "", false
	case tag == "embed" && attr == "src":
		return "HtmlEmbed", "", false
	case tag == "object" && attr == "data":
		return "HtmlObject", "", false
	}
	return "", "", false
}

func linkRelation(rel string) (string, string, bool) {
	rels := strings.Fields(strings.ToLower(rel))
	for _, r := range rels {
		switch r {
		case "stylesheet":
			return "HtmlStyle", "Css", false
		case "prefetch":
			return "HtmlPrefetchLink", "", false
		case "preload":
			return "HtmlPreloadLink", "", false
		case "icon":
			return "HtmlShortcutIcon", "", false
		case "alternate":
			return "HtmlAlternateLink", "", false
		}
	}
	return "HtmlLink", "", false
}

var htmlTemplates = map[string]string{
	"HtmlAnchor":        `<a href="%s"></a>`,
	"HtmlStyle":         `<link rel="stylesheet" href="%s">`,
	"HtmlScript":        `<script src="%s"></script>`,
	"HtmlImage":         `<img src="%s">`,
	"HtmlIFrame":        `<iframe src="%s"></iframe>`,
	"HtmlIFrameSrcDoc":  `<iframe srcdoc="%s"></iframe>`,
	"HtmlPrefetchLink":  `<link rel="prefetch" href="%s">`,
	"HtmlPreloadLink":   `<link rel="preload" href="%s">`,
	"HtmlShortcutIcon":  `<link rel="icon" href="%s">`,
	"HtmlAlternateLink": `<link rel="alternate" href="%s">`,
	"HtmlLink":          `<link href="%s">`,
	"HtmlVideo":         `<video src="%s"></video>`,
	"HtmlAudio":         `<audio src="%s"></audio>`,
	"HtmlEmbed":         `<embed src="%s">`,
	"HtmlObject":        `<object data="%s"></object>`,
}

// NewHTML returns the Html codec.
func NewHTML() Codec {
	return &base{
		scan:      func(src string) []match { return scanTags(src, htmlRule) },
		templates: htmlTemplates,
	}
}

func svgRule(tag, attr string, attrs map[string]string, _ *scanState) (string, string, bool) {
	if attr == "" || attr == "style" {
		return inlineRule("Svg", tag, attr, attrs)
	}
	if attr != "href" && attr != "xlink:href" {
		return "", "", false
	}
	switch tag {
	case "use":
		return "SvgUse", "", false
	case "image":
		return "SvgImage", "", false
	case "a":
		return "SvgAnchor", "", false
	case "script":
		return "SvgScript", "JavaScript", false
	}
	return "", "", false
}

var svgTemplates = map[string]string{
	"SvgUse":    `<use xlink:href="%s"/>`,
	"SvgImage":  `<image xlink:href="%s"/>`,
	"SvgAnchor": `<a xlink:href="%s"></a>`,
	"SvgScript": `<script xlink:href="%s"></script>`,
}

// NewSVG returns the Svg codec.
func NewSVG() Codec {
	return &base{
		scan:      func(src string) []match { return scanTags(src, svgRule) },
		templates: svgTemplates,
	}
}
