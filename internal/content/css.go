package content

import (
	"regexp"
	"strings"
)

var (
	cssURLRe     = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\)`)
	cssImportRe  = regexp.MustCompile(`(?i)@import\s+(?:"([^"]*)"|'([^']*)')`)
	cssCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func scanCSS(src string) []match {
	var out []match
	comments := cssCommentRe.FindAllStringIndex(src, -1)
	imports := cssImportRe.FindAllStringSubmatchIndex(src, -1)
	for _, m := range imports {
		if insideAny(m[0], comments) {
			continue
		}
		vs, ve := firstGroup(m, 1, 2)
		out = append(out, match{
			elemStart: m[0], elemEnd: m[1],
			valueStart: vs, valueEnd: ve,
			relType: "CssImport", targetType: "Css",
		})
	}
	for _, m := range cssURLRe.FindAllStringSubmatchIndex(src, -1) {
		if insideAny(m[0], imports) || insideAny(m[0], comments) {
			continue
		}
		vs, ve := firstGroup(m, 1, 3)
		relType := "CssImage"
		if inFontFace(src[:m[0]]) {
			relType = "CssFontFaceSrc"
		}
		out = append(out, match{
			elemStart: m[0], elemEnd: m[1],
			valueStart: vs, valueEnd: ve,
			relType: relType,
		})
	}
	return out
}

// firstGroup returns the bounds of the first participating group in [lo, hi].
func firstGroup(m []int, lo, hi int) (int, int) {
	for g := lo; g <= hi; g++ {
		if m[2*g] >= 0 {
			return m[2*g], m[2*g+1]
		}
	}
	return m[1], m[1]
}

func insideAny(pos int, spans [][]int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

func inFontFace(before string) bool {
	at := strings.LastIndex(strings.ToLower(before), "@font-face")
	return at >= 0 && strings.LastIndex(before, "}") < at
}

var cssTemplates = map[string]string{
	"CssImport":      "@import \"%s\";\n",
	"CssImage":       "\nbody { background-image: url(%s); }\n",
	"CssFontFaceSrc": "\n@font-face { src: url(%s); }\n",
}

// NewCSS returns the Css codec.
func NewCSS() Codec {
	return &base{
		scan:      scanCSS,
		templates: cssTemplates,
	}
}
