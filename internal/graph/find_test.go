package graph

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/assetgraph/internal/query"
)

const testRoot = "file:///site/"

func newTestGraph(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	return New(append([]Option{WithRoot(testRoot)}, opts...)...)
}

func mustAsset(t *testing.T, g *Graph, cfg AssetConfig) *Asset {
	t.Helper()
	a, err := g.AddAsset(cfg)
	require.NoError(t, err, "add asset %s", cfg.URL)
	return a
}

func mustRelation(t *testing.T, g *Graph, typ string, from, to *Asset) *Relation {
	t.Helper()
	r, err := g.AddRelation(RelationConfig{Type: typ, From: from, To: to}, Last)
	require.NoError(t, err, "add %s relation", typ)
	return r
}

// sixAssets builds assets a..f labelled by name with relations
// a->d, a->b, a->c, b->c, b->e, d->f, e->f.
func sixAssets(t *testing.T) (*Graph, map[string]*Asset) {
	t.Helper()
	g := newTestGraph(t)
	fixtures := []struct{ name, typ, ext, foo string }{
		{"a", "Html", ".html", "bar"},
		{"b", "Html", ".html", "bar"},
		{"c", "Html", ".html", "quux"},
		{"d", "Css", ".css", "baz"},
		{"e", "Css", ".css", ""},
		{"f", "Png", ".png", "baz"},
	}
	assets := make(map[string]*Asset)
	for _, s := range fixtures {
		attrs := map[string]any{"label": s.name}
		if s.foo != "" {
			attrs["foo"] = s.foo
		}
		assets[s.name] = mustAsset(t, g, AssetConfig{URL: s.name + s.ext, Type: s.typ, Text: s.name, Attrs: attrs})
	}
	mustRelation(t, g, "HtmlStyle", assets["a"], assets["d"])
	mustRelation(t, g, "HtmlAnchor", assets["a"], assets["b"])
	mustRelation(t, g, "HtmlAnchor", assets["a"], assets["c"])
	mustRelation(t, g, "HtmlAnchor", assets["b"], assets["c"])
	mustRelation(t, g, "HtmlStyle", assets["b"], assets["e"])
	mustRelation(t, g, "CssImage", assets["d"], assets["f"])
	mustRelation(t, g, "CssImage", assets["e"], assets["f"])
	return g, assets
}

func TestFindRelations_Matchers(t *testing.T) {
	g, _ := sixAssets(t)

	cases := []struct {
		name string
		q    query.Query
		want int
	}{
		{"all", nil, 7},
		{"type literal", query.Query{"type": "CssImage"}, 2},
		{"type and nested from", query.Query{"type": "HtmlAnchor", "from": query.Query{"label": "a"}}, 2},
		{"type and nested to", query.Query{"type": "HtmlAnchor", "to": query.Query{"label": "c", "foo": "quux"}}, 2},
		{"type array", query.Query{"type": []string{"HtmlAnchor", "CssImage"}}, 5},
		{"regexps", query.Query{
			"type": regexp.MustCompile(`CssIm|HtmlAn`),
			"from": query.Query{"label": regexp.MustCompile(`^[ad]$`)},
		}, 3},
		{"regexp type", query.Query{"type": regexp.MustCompile(`Style`), "from": query.Query{"label": "a"}}, 1},
		{"negations", query.Query{
			"type": query.Not("CssImage"),
			"from": query.Query{"label": query.Not("a")},
		}, 2},
		{"from attr defined", query.Query{"from": query.Query{"foo": query.IsDefined}}, 6},
		{"from attr undefined", query.Query{"from": query.Query{"foo": query.IsUndefined}}, 1},
		{"unknown attribute", query.Query{"nope": "x"}, 0},
		{"unknown attribute undefined", query.Query{"nope": query.IsUndefined}, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := g.FindRelations(tc.q)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestFindRelations_FromAssetInAttachmentOrder(t *testing.T) {
	g, assets := sixAssets(t)

	got, err := g.FindRelations(query.Query{"from": assets["a"]})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "HtmlStyle", got[0].Type())
	assert.Same(t, assets["b"], got[1].To())
	assert.Same(t, assets["c"], got[2].To())

	got, err = g.FindRelations(query.Query{"to": assets["f"]})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Same(t, assets["d"], got[0].From())
	assert.Same(t, assets["e"], got[1].From())
}

func TestFindAssets_Matchers(t *testing.T) {
	g, assets := sixAssets(t)

	got, err := g.FindAssets(query.Query{"type": "Html"})
	require.NoError(t, err)
	assert.Equal(t, []*Asset{assets["a"], assets["b"], assets["c"]}, got)

	got, err = g.FindAssets(query.Query{"type": []any{"Png", "Css"}})
	require.NoError(t, err)
	assert.Equal(t, []*Asset{assets["d"], assets["e"], assets["f"]}, got)

	got, err = g.FindAssets(query.Query{"foo": "baz", "isLoaded": true})
	require.NoError(t, err)
	assert.Equal(t, []*Asset{assets["d"], assets["f"]}, got)

	got, err = g.FindAssets(query.Query{"url": testRoot + "e.css"})
	require.NoError(t, err)
	assert.Equal(t, []*Asset{assets["e"]}, got)

	got, err = g.FindAssets(query.Query{"fileName": "c.html", "extension": ".html"})
	require.NoError(t, err)
	assert.Equal(t, []*Asset{assets["c"]}, got)
}

func TestFind_MalformedQuery(t *testing.T) {
	g, _ := sixAssets(t)

	_, err := g.FindRelations(query.Query{"type": func() {}})
	assert.ErrorIs(t, err, query.ErrMalformed)

	_, err = g.FindAssets(query.Query{"type": query.Not(make(chan int))})
	assert.ErrorIs(t, err, query.ErrMalformed)
}

func TestFindAssets_TypeIndexFollowsRetype(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<a href="page"></a>`})

	untyped, err := g.FindAssets(query.Query{"type": query.IsUndefined})
	require.NoError(t, err)
	require.Len(t, untyped, 1)
	page := untyped[0]
	assert.Equal(t, testRoot+"page", page.URL())

	require.NoError(t, g.load(page, []byte("<!DOCTYPE html><html></html>"), ""))
	got, err := g.FindAssets(query.Query{"type": "Html"})
	require.NoError(t, err)
	assert.Equal(t, []*Asset{html, page}, got)
}
