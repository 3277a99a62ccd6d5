package index

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/assetgraph/internal/apperr"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "assetgraph-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func asset(id, url, typ, cs string) models.Asset {
	return models.Asset{ID: id, URL: url, Type: typ, Checksum: cs, IsLoaded: true}
}

func rel(id, typ, toID, toURL string) models.Relation {
	return models.Relation{ID: id, Type: typ, To: toID, ToURL: toURL, HrefType: "relative"}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM assets`).Scan(&count); err != nil {
		t.Fatalf("assets table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM relations`).Scan(&count); err != nil {
		t.Fatalf("relations table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	a := asset("a1", "file:///site/index.html", "Html", "abc123")
	a.Attrs = map[string]any{"lang": "en"}
	if err := db.UpsertAsset(a, "<p>hello</p>", []models.Relation{rel("r1", "HtmlAnchor", "b1", "file:///site/b.html")}); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	cs, err := db.GetChecksum("a1")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}

	got, err := db.GetAsset("file:///site/index.html")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if got.ID != "a1" || got.Type != "Html" || !got.IsLoaded {
		t.Errorf("asset = %+v", got)
	}
	if got.Attrs["lang"] != "en" {
		t.Errorf("attrs = %v", got.Attrs)
	}
}

func TestGetAsset_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetAsset("file:///nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIncoming(t *testing.T) {
	db := testDB(t)
	target := "file:///site/style.css"
	_ = db.UpsertAsset(asset("a", "file:///site/a.html", "Html", "1"), "", []models.Relation{rel("r1", "HtmlStyle", "s", target)})
	_ = db.UpsertAsset(asset("c", "file:///site/c.html", "Html", "2"), "", []models.Relation{rel("r2", "HtmlStyle", "s", target)})

	in, err := db.Incoming(target)
	if err != nil {
		t.Fatalf("Incoming: %v", err)
	}
	if len(in) != 2 {
		t.Fatalf("expected 2 incoming, got %d", len(in))
	}
	if in[0].From != "a" || in[0].FromURL != "file:///site/a.html" {
		t.Errorf("first incoming = %+v", in[0])
	}
}

func TestDeleteAsset(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertAsset(asset("del", "file:///site/del.html", "Html", "x"), "body", []models.Relation{rel("r", "HtmlAnchor", "t", "file:///site/t.html")})

	if err := db.DeleteAsset("del"); err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	cs, _ := db.GetChecksum("del")
	if cs != "" {
		t.Errorf("deleted asset still has checksum %q", cs)
	}
	in, _ := db.Incoming("file:///site/t.html")
	if len(in) != 0 {
		t.Errorf("expected 0 incoming after delete, got %d", len(in))
	}
}

func TestUpsertReplacesRelations(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertAsset(asset("up", "file:///site/up.html", "Html", "1"), "", []models.Relation{rel("r1", "HtmlAnchor", "x", "file:///site/x.html")})
	_ = db.UpsertAsset(asset("up", "file:///site/up.html", "Html", "2"), "", []models.Relation{rel("r2", "HtmlAnchor", "y", "file:///site/y.html")})

	cs, _ := db.GetChecksum("up")
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}
	if in, _ := db.Incoming("file:///site/x.html"); len(in) != 0 {
		t.Error("old relation should be removed on upsert")
	}
	if in, _ := db.Incoming("file:///site/y.html"); len(in) != 1 {
		t.Error("new relation should exist")
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestListAssets(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertAsset(asset("1", "file:///site/b.html", "Html", "1"), "", nil)
	_ = db.UpsertAsset(asset("2", "file:///site/a.html", "Html", "2"), "", nil)
	_ = db.UpsertAsset(asset("3", "file:///site/a.css", "Css", "3"), "", nil)

	all, total, err := db.ListAssets(0, 0, "", "")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("total = %d, len = %d", total, len(all))
	}
	if all[0].URL != "file:///site/a.css" {
		t.Errorf("first = %q, want sorted by url", all[0].URL)
	}

	page, total, err := db.ListAssets(1, 1, "Html", "")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if total != 2 || len(page) != 1 || page[0].URL != "file:///site/b.html" {
		t.Errorf("page = %+v, total = %d", page, total)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	a := asset("s", "file:///site/s.md", "Markdown", "1")
	a.Title = "Search Me"
	_ = db.UpsertAsset(a, "uniqueword appears here", nil)

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].URL != "file:///site/s.md" {
		t.Errorf("search results = %+v, want 1 hit for s.md", results)
	}
}

func TestGraphAndCounts(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertAsset(asset("a", "file:///site/a.html", "Html", "1"), "", []models.Relation{
		rel("r1", "HtmlAnchor", "b", "file:///site/b.html"),
		rel("r2", "HtmlAnchor", "", "mailto:x@example.com"),
	})
	_ = db.UpsertAsset(asset("b", "file:///site/b.html", "Html", "2"), "", nil)

	nodes, links, err := db.Graph()
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("nodes = %d, want 2", len(nodes))
	}
	if len(links) != 1 || links[0].Source != "a" || links[0].Target != "b" {
		t.Errorf("links = %+v", links)
	}

	na, nr, err := db.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if na != 2 || nr != 2 {
		t.Errorf("counts = %d/%d, want 2/2", na, nr)
	}
}

func siteGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(graph.WithRoot("file:///site/"), graph.WithLogger(quietLogger()))
	if _, err := g.AddAsset(graph.AssetConfig{URL: "style.css", Text: "body{background:url(bg.png)}"}); err != nil {
		t.Fatalf("AddAsset css: %v", err)
	}
	if _, err := g.AddAsset(graph.AssetConfig{
		URL:  "index.html",
		Text: `<link rel="stylesheet" href="style.css"><a href="about.html">About</a>`,
	}); err != nil {
		t.Fatalf("AddAsset html: %v", err)
	}
	return g
}

func TestSync_FromGraph(t *testing.T) {
	db := testDB(t)
	g := siteGraph(t)

	if err := Sync(db, g, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	na, nr, _ := db.Counts()
	if na != 4 || nr != 3 {
		t.Fatalf("counts = %d/%d, want 4/3", na, nr)
	}

	in, err := db.Incoming("file:///site/style.css")
	if err != nil {
		t.Fatalf("Incoming: %v", err)
	}
	if len(in) != 1 || in[0].Type != "HtmlStyle" || in[0].Href != "style.css" {
		t.Errorf("incoming = %+v", in)
	}

	css, err := db.GetAsset("file:///site/style.css")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if !css.IsLoaded || css.Type != "Css" {
		t.Errorf("css = %+v", css)
	}
	png, err := db.GetAsset("file:///site/bg.png")
	if err != nil {
		t.Fatalf("GetAsset png: %v", err)
	}
	if png.IsLoaded {
		t.Error("unfollowed target should be stored unloaded")
	}
}

func TestSync_TracksMovesAndRemovals(t *testing.T) {
	db := testDB(t)
	g := siteGraph(t)
	_ = Sync(db, g, quietLogger())

	css, _ := g.AssetByURL("file:///site/style.css")
	before, _ := db.GetChecksum(css.ID())
	if err := css.SetURL("css/main.css"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	if err := Sync(db, g, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	after, _ := db.GetChecksum(css.ID())
	if before == after {
		t.Error("checksum should change after move")
	}
	in, _ := db.Incoming("file:///site/css/main.css")
	if len(in) != 1 || in[0].Href != "css/main.css" {
		t.Errorf("incoming after move = %+v", in)
	}

	about, _ := g.AssetByURL("file:///site/about.html")
	if err := g.RemoveAsset(about, true); err != nil {
		t.Fatalf("RemoveAsset: %v", err)
	}
	_ = Sync(db, g, quietLogger())
	if _, err := db.GetAsset("file:///site/about.html"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("removed asset still indexed: %v", err)
	}
}
