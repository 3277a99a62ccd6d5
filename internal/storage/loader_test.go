package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/assetgraph/internal/graph"
)

func TestFileLoader_Load(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("css/site.css", []byte("body{}"))
	l := NewFileLoader(s)

	res, err := l.Load(context.Background(), l.URL("css/site.css"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(res.Data) != "body{}" {
		t.Errorf("data = %q", res.Data)
	}
	if res.ContentType != "text/css" {
		t.Errorf("content type = %q, want text/css", res.ContentType)
	}
}

func TestFileLoader_PathRoundTrip(t *testing.T) {
	s := tempSite(t)
	l := NewFileLoader(s)

	u := l.URL("dir/with space.html")
	if !strings.HasPrefix(u, l.RootURL()) {
		t.Fatalf("url %q not under root %q", u, l.RootURL())
	}
	rel, err := l.Path(u + "#frag")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if rel != "dir/with space.html" {
		t.Errorf("rel = %q", rel)
	}
}

func TestFileLoader_OutsideRoot(t *testing.T) {
	s := tempSite(t)
	l := NewFileLoader(s)
	if _, err := l.Load(context.Background(), "file:///etc/passwd"); err == nil {
		t.Error("expected error for file outside root")
	}
	if _, err := l.Load(context.Background(), "http://example.com/"); err == nil {
		t.Error("expected error for non-file url")
	}
}

func TestFileLoader_Write(t *testing.T) {
	s := tempSite(t)
	l := NewFileLoader(s)

	var w graph.Writer = l
	if err := w.Write(context.Background(), l.URL("out/index.html"), []byte("<p>hi</p>")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("out/index.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "<p>hi</p>" {
		t.Errorf("content = %q", got)
	}
}

func TestFileLoader_Cancelled(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("a.css", []byte("x"))
	l := NewFileLoader(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Load(ctx, l.URL("a.css")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"index.html": "text/html",
		"a/b.CSS":    "text/css",
		"notes.md":   "text/markdown",
		"logo.svg":   "image/svg+xml",
		"noext":      "",
	}
	for name, want := range cases {
		if got := ContentTypeFor(name); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestMux_UnsupportedScheme(t *testing.T) {
	m := Mux{"file": NewFileLoader(tempSite(t))}
	_, err := m.Load(context.Background(), "ftp://example.com/x")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestMux_Dispatch(t *testing.T) {
	called := ""
	m := Mux{
		"http": graph.LoaderFunc(func(_ context.Context, u string) (*graph.Resource, error) {
			called = u
			return &graph.Resource{Data: []byte("ok")}, nil
		}),
	}
	res, err := m.Load(context.Background(), "HTTP://example.com/")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if called != "HTTP://example.com/" || string(res.Data) != "ok" {
		t.Errorf("called = %q, data = %q", called, res.Data)
	}
}

func TestHTTPLoader_Load(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/style.css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
			_, _ = w.Write([]byte("a{color:red}"))
		case "/raw.svg":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("<svg/>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewHTTPLoader(WithTimeout(5 * time.Second))

	res, err := l.Load(context.Background(), srv.URL+"/style.css#top")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(res.Data) != "a{color:red}" {
		t.Errorf("data = %q", res.Data)
	}
	if res.ContentType != "text/css" {
		t.Errorf("content type = %q", res.ContentType)
	}

	res, err = l.Load(context.Background(), srv.URL+"/raw.svg")
	if err != nil {
		t.Fatalf("Load svg: %v", err)
	}
	if res.ContentType != "image/svg+xml" {
		t.Errorf("content type = %q, want image/svg+xml", res.ContentType)
	}

	if _, err := l.Load(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestHTTPLoader_BlockPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("secret"))
	}))
	defer srv.Close()

	l := NewHTTPLoader(WithBlockPrivate(true))
	_, err := l.Load(context.Background(), srv.URL+"/")
	if err == nil || !strings.Contains(err.Error(), "blocked host") {
		t.Errorf("err = %v, want blocked host", err)
	}
}

func TestHTTPLoader_RejectsOtherSchemes(t *testing.T) {
	l := NewHTTPLoader()
	_, err := l.Load(context.Background(), "file:///etc/passwd")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestHTTPLoader_RedirectLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	l := NewHTTPLoader(WithTimeout(5 * time.Second))
	if _, err := l.Load(context.Background(), srv.URL+"/loop"); err == nil {
		t.Fatal("expected error for a redirect loop")
	}
	if n := hits.Load(); n > maxRedirects+1 {
		t.Errorf("followed %d requests, want at most %d", n, maxRedirects+1)
	}
}

func TestHTTPLoader_BodyLimit(t *testing.T) {
	chunk := make([]byte, 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for written := 0; written <= maxResourceSize; written += len(chunk) {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	l := NewHTTPLoader(WithTimeout(10 * time.Second))
	if _, err := l.Load(context.Background(), srv.URL+"/big.bin"); err == nil {
		t.Fatal("expected error for a body over the size limit")
	}
}

func TestCheckBlockedHost(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":                true,
		"::1":                      true,
		"169.254.169.254":          true,
		"169.254.10.1":             true,
		"fe80::1":                  true,
		"0.0.0.0":                  true,
		"metadata.google.internal": true,
		"93.184.216.34":            false,
		"10.0.0.1":                 false,
		"2001:db8::1":              false,
	}
	for host, blocked := range cases {
		err := checkBlockedHost(host)
		if got := err != nil; got != blocked {
			t.Errorf("checkBlockedHost(%q) = %v, want blocked=%v", host, err, blocked)
		}
	}
}
