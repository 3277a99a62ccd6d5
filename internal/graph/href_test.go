package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/assetgraph/internal/content"
	"github.com/starford/assetgraph/internal/query"
)

func relationsFrom(t *testing.T, g *Graph, a *Asset) []*Relation {
	t.Helper()
	rels, err := g.FindRelations(query.Query{"from": a})
	require.NoError(t, err)
	return rels
}

func TestHrefType_DetectedAndPreservedOnMove(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<body>` +
		`<a href="relative.html"></a>` +
		`<a href="/rootRelative.html"></a>` +
		`<a href="//example.com/protocolRelative.html"></a>` +
		`<a href="http://example.com/absolute.html"></a>` +
		`<img src="data:image/png;base64,iVBORw0KGgo=">` +
		`</body>`})

	rels := relationsFrom(t, g, html)
	require.Len(t, rels, 5)
	want := []HrefType{HrefRelative, HrefRootRelative, HrefProtocolRelative, HrefAbsolute, HrefInline}
	for i, r := range rels {
		assert.Equal(t, want[i], r.HrefType(), "relation %d", i)
	}
	assert.Equal(t, testRoot+"rootRelative.html", rels[1].To().URL())
	assert.Equal(t, "http://example.com/protocolRelative.html", rels[2].To().URL())
	assert.True(t, rels[4].To().IsInline())
	assert.Equal(t, "Png", rels[4].To().Type())
	assert.True(t, strings.HasPrefix(rels[4].Href(), "data:image/png"))

	require.NoError(t, rels[0].To().SetURL("relative2.html"))
	require.NoError(t, rels[1].To().SetURL("rootRelative2.html"))
	require.NoError(t, rels[2].To().SetURL("protocolRelative2.html"))
	require.NoError(t, rels[3].To().SetURL("absolute2.html"))
	require.NoError(t, rels[4].To().SetURL("https://example.com/noLongerInline.png"))

	wantHref := []string{
		"relative2.html",
		"/rootRelative2.html",
		"//example.com/protocolRelative2.html",
		"http://example.com/absolute2.html",
		"https://example.com/noLongerInline.png",
	}
	for i, r := range rels {
		assert.Equal(t, wantHref[i], r.Href(), "relation %d", i)
		assert.Contains(t, html.Text(), `"`+wantHref[i]+`"`)
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, want[i], rels[i].HrefType(), "relation %d keeps its form", i)
	}
	assert.Equal(t, HrefAbsolute, rels[4].HrefType())
	assert.False(t, rels[4].To().IsInline())
	assert.Nil(t, rels[4].To().IncomingInlineRelation())
}

func TestRefreshHref_Idempotent(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "dir/index.html", Text: `<a href="../other.html#top"></a>`})
	r := relationsFrom(t, g, html)[0]

	require.NoError(t, r.RefreshHref())
	first, text := r.Href(), html.Text()
	require.NoError(t, r.RefreshHref())
	assert.Equal(t, first, r.Href())
	assert.Equal(t, text, html.Text())
	assert.Equal(t, "../other.html#top", first)
}

func TestSetHrefType_Renders(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "foo/index.html", Text: `<video src="movie.mp4"></video>`})
	r := relationsFrom(t, g, html)[0]
	assert.Equal(t, "HtmlVideo", r.Type())

	require.NoError(t, r.SetHrefType(HrefRootRelative))
	assert.Equal(t, "/foo/movie.mp4", r.Href())

	require.NoError(t, r.SetHrefType(HrefAbsolute))
	assert.Equal(t, testRoot+"foo/movie.mp4", r.Href())

	require.NoError(t, html.SetURL(testRoot+"foo/bar/index.html"))
	require.NoError(t, r.SetHrefType(HrefRelative))
	assert.Equal(t, "../movie.mp4", r.Href())
	assert.Contains(t, html.Text(), `src="../movie.mp4"`)

	assert.Error(t, r.SetHrefType("bogus"))
}

func TestSetTo_Retargets(t *testing.T) {
	g := newTestGraph(t)
	other := mustAsset(t, g, AssetConfig{URL: "other.html", Text: "<p>other</p>"})
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<a href="other.html"></a>`})
	r := relationsFrom(t, g, html)[0]
	require.Same(t, other, r.To())

	require.NoError(t, r.SetTo(AssetConfig{URL: "sub/new.html", Text: "<p>new</p>"}))
	assert.Equal(t, "sub/new.html", r.Href())
	assert.True(t, r.To().IsLoaded())
	assert.Equal(t, HrefRelative, r.HrefType())
	assert.Empty(t, other.Incoming())

	require.NoError(t, r.SetTo(other))
	assert.Equal(t, "other.html", r.Href())
	assert.Equal(t, []*Relation{r}, other.Incoming())

	require.NoError(t, r.SetTo("http://example.com/x.html#frag"))
	assert.Equal(t, "http://example.com/x.html#frag", r.Href())
	assert.Equal(t, HrefAbsolute, r.HrefType())
	assert.Equal(t, "Html", r.To().Type())
	assert.False(t, r.To().IsLoaded())
	assert.True(t, r.Crossorigin())

	assert.ErrorIs(t, r.SetTo(New().newAsset("", "Html", nil)), ErrNotInGraph)
}

func TestCanonical(t *testing.T) {
	g := newTestGraph(t, WithCanonicalRoot("https://example.com/"))
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `` +
		`<a href="https://example.com/page.html"></a>` +
		`<a href="local.html"></a>` +
		`<a href="mailto:someone@example.com"></a>`})
	rels := relationsFrom(t, g, html)
	require.Len(t, rels, 3)

	canonical := rels[0]
	assert.True(t, canonical.Canonical())
	assert.False(t, canonical.Crossorigin())
	assert.Equal(t, HrefAbsolute, canonical.HrefType())
	assert.Equal(t, testRoot+"page.html", canonical.To().URL())

	require.NoError(t, canonical.To().SetFileName("renamed.html"))
	assert.Equal(t, "https://example.com/renamed.html", canonical.Href())
	assert.True(t, canonical.Canonical())

	require.NoError(t, canonical.SetCanonical(false))
	assert.Equal(t, HrefRootRelative, canonical.HrefType())
	assert.Equal(t, "/renamed.html", canonical.Href())

	local := rels[1]
	require.NoError(t, local.SetCanonical(true))
	assert.True(t, local.Canonical())
	assert.Equal(t, HrefRelative, local.HrefType())
	assert.Equal(t, "https://example.com/local.html", local.Href())
	assert.Contains(t, html.Text(), `href="https://example.com/local.html"`)

	mailto := rels[2]
	assert.False(t, mailto.Canonical())
	assert.Equal(t, HrefAbsolute, mailto.HrefType())
	require.NoError(t, mailto.SetCanonical(true))
	assert.False(t, mailto.Canonical())
	assert.Equal(t, "mailto:someone@example.com", mailto.Href())
}

func TestCanonical_NoRootIsIgnored(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<a href="local.html"></a>`})
	r := relationsFrom(t, g, html)[0]

	require.NoError(t, r.SetCanonical(true))
	assert.False(t, r.Canonical())
	assert.Equal(t, "local.html", r.Href())
}

func TestCrossorigin(t *testing.T) {
	g := newTestGraph(t)
	local := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `` +
		`<a href="other.html"></a>` +
		`<a href="http://example.com/"></a>`})
	remote := mustAsset(t, g, AssetConfig{URL: "http://example.com/index.html", Text: `` +
		`<a href="http://example.com/a.html"></a>` +
		`<a href="http://other.com/"></a>` +
		`<a href="https://example.com/"></a>` +
		`<a href="http://example.com:8080/"></a>` +
		`<a href="http://example.com:80/b.html"></a>`})
	secure := mustAsset(t, g, AssetConfig{URL: "https://secure.com/index.html", Text: `` +
		`<a href="https://secure.com:443/a.html"></a>` +
		`<a href="https://secure.com:8443/a.html"></a>`})

	check := func(a *Asset, want ...bool) {
		t.Helper()
		rels := relationsFrom(t, g, a)
		require.Len(t, rels, len(want))
		for i, r := range rels {
			assert.Equal(t, want[i], r.Crossorigin(), "%s", r.Href())
		}
	}
	check(local, false, true)
	check(remote, false, true, true, true, false)
	check(secure, false, true)
}

func TestInline_CascadesToOutgoing(t *testing.T) {
	g := newTestGraph(t)
	css := mustAsset(t, g, AssetConfig{URL: "styles/foo.css", Text: "body { background: url(foo.png) }"})
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<link rel="stylesheet" href="styles/foo.css">`})

	style := relationsFrom(t, g, html)[0]
	image := relationsFrom(t, g, css)[0]
	assert.Equal(t, "foo.png", image.Href())

	require.NoError(t, style.Inline())
	assert.True(t, css.IsInline())
	assert.Same(t, style, css.IncomingInlineRelation())
	assert.Equal(t, HrefInline, style.HrefType())
	assert.False(t, style.Crossorigin())
	assert.Equal(t, "styles/foo.png", image.Href())
	assert.Equal(t, "body { background: url(styles/foo.png) }", css.Text())

	data, ct, ok := content.DecodeDataURL(style.Href())
	require.True(t, ok)
	assert.Equal(t, "text/css", ct)
	assert.Equal(t, css.Text(), string(data))
	assert.Contains(t, html.Text(), `href="data:text/css;base64,`)

	assert.ErrorIs(t, style.Inline(), ErrAlreadyInline)

	require.NoError(t, style.Uninline())
	assert.False(t, css.IsInline())
	assert.Nil(t, css.IncomingInlineRelation())
	assert.Equal(t, HrefRelative, style.HrefType())
	assert.Equal(t, "styles/foo.css", style.Href())
	assert.Equal(t, "foo.png", image.Href())
	assert.Equal(t, `<link rel="stylesheet" href="styles/foo.css">`, html.Text())
}

func TestInline_NestedChangeReembeds(t *testing.T) {
	g := newTestGraph(t)
	css := mustAsset(t, g, AssetConfig{URL: "a.css", Text: "p { background: url(img.png) }"})
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<link rel="stylesheet" href="a.css">`})
	style := relationsFrom(t, g, html)[0]
	require.NoError(t, style.Inline())

	img := relationsFrom(t, g, css)[0].To()
	require.NoError(t, img.SetURL("images/img.png"))

	data, _, ok := content.DecodeDataURL(style.Href())
	require.True(t, ok)
	assert.Equal(t, "p { background: url(images/img.png) }", string(data))
	assert.Contains(t, html.Text(), content.EncodeDataURL(data, "text/css"))
}

func TestInline_OwnershipIsExclusive(t *testing.T) {
	g := newTestGraph(t)
	mustAsset(t, g, AssetConfig{URL: "a.css", Text: "p {}"})
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `` +
		`<link rel="stylesheet" href="a.css"><link rel="stylesheet" href="a.css">`})
	rels := relationsFrom(t, g, html)

	assert.ErrorIs(t, rels[0].Inline(), ErrInlineOwned)
	require.NoError(t, rels[1].Detach())
	require.NoError(t, rels[0].Inline())

	other := mustAsset(t, g, AssetConfig{URL: "other.html", Text: "<p></p>"})
	_, err := g.AddRelation(RelationConfig{Type: "HtmlStyle", From: other, To: rels[0].To()}, Last)
	assert.ErrorIs(t, err, ErrInlineOwned)
}

func TestFragment_PreservedOnceThroughMoveAndInline(t *testing.T) {
	g := newTestGraph(t)
	svg := mustAsset(t, g, AssetConfig{URL: "images/icon.svg", Text: `<svg><use xlink:href="#path-1"/></svg>`})
	page := mustAsset(t, g, AssetConfig{URL: "page.html", Text: "<p></p>"})
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `` +
		`<img src="images/icon.svg"><a href="page.html#section"></a>`})
	rels := relationsFrom(t, g, html)

	self := relationsFrom(t, g, svg)[0]
	assert.Same(t, svg, self.To())
	assert.Equal(t, "path-1", self.Fragment())
	assert.False(t, self.Crossorigin())

	require.NoError(t, page.SetURL("moved/page.html"))
	assert.Equal(t, "moved/page.html#section", rels[1].Href())
	assert.Equal(t, 1, strings.Count(html.Text(), "#section"))

	require.NoError(t, svg.SetURL("other/icon.svg"))
	assert.Equal(t, "images/other/icon.svg", rels[0].Href())
	require.NoError(t, rels[0].Inline())
	assert.Equal(t, "#path-1", self.Href())
	assert.Equal(t, 1, strings.Count(svg.Text(), "#path-1"))
}

func TestDirectoryIndexHref(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<a href="/"></a>`})
	r := relationsFrom(t, g, html)[0]
	assert.Same(t, html, r.To())

	require.NoError(t, r.RefreshHref())
	assert.Equal(t, "/", r.Href())

	require.NoError(t, r.SetTo("hey/index.html"))
	assert.Equal(t, "/hey/", r.Href())
	assert.Contains(t, html.Text(), `href="/hey/"`)
}

func TestSetHrefType_InlineOnlyTargetLeftIntact(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `<img src="data:image/png;base64,iVBORw0KGgo=">`})
	r := relationsFrom(t, g, html)[0]
	before := html.Text()

	assert.ErrorIs(t, r.SetHrefType(HrefRelative), ErrNoURL)
	assert.Equal(t, HrefInline, r.HrefType())
	assert.True(t, r.To().IsInline())
	assert.True(t, strings.HasPrefix(r.Href(), "data:image/png;base64,"))
	assert.Equal(t, before, html.Text())
}

func TestSetTo_DropsInlineOnlyTarget(t *testing.T) {
	g := newTestGraph(t)
	html := mustAsset(t, g, AssetConfig{URL: "index.html", Text: `` +
		`<link rel="stylesheet" href="data:text/css;base64,cCB7IGJhY2tncm91bmQ6IHVybChhLnBuZykgfQ==">`})
	r := relationsFrom(t, g, html)[0]
	css := r.To()
	require.True(t, css.IsInline())
	png := relationsFrom(t, g, css)[0].To()

	require.NoError(t, r.SetTo("b.css"))
	assert.Nil(t, css.Graph())
	assert.Empty(t, png.Incoming())
	images, err := g.FindRelations(query.Query{"type": "CssImage"})
	require.NoError(t, err)
	assert.Empty(t, images)

	assert.Equal(t, HrefRelative, r.HrefType())
	assert.Equal(t, `<link rel="stylesheet" href="b.css">`, html.Text())
}
