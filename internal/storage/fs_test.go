package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempSite(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return store
}

func TestWriteAndRead(t *testing.T) {
	s := tempSite(t)
	content := []byte("<!doctype html><title>Hello</title>\n")
	if err := s.Write("index.html", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("index.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempSite(t)
	if err := s.Write("css/vendor/reset.css", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("css/vendor/reset.css")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("old.png", []byte("bye"))
	if err := s.Delete("old.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("old.png"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("old.css", []byte("data"))
	if err := s.Move("old.css", "static/new.css"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("static/new.css")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.css"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("index.html", []byte("a"))
	_ = s.Write("sub/b.css", []byte("b"))
	_ = s.Write("readme.txt", []byte("text"))
	_ = s.Write(".hidden", []byte("dot file"))
	_ = s.Write(".git/HEAD", []byte("ref"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	seen := map[string]bool{}
	for _, it := range items {
		seen[it.Path] = true
		if it.Checksum == "" {
			t.Errorf("%s: empty checksum", it.Path)
		}
	}
	if !seen["sub/b.css"] {
		t.Errorf("sub/b.css missing from %v", items)
	}
}

func TestList_Subdir(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("index.html", []byte("a"))
	_ = s.Write("sub/b.css", []byte("b"))

	items, err := s.List("sub")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Path != "sub/b.css" {
		t.Errorf("items = %+v", items)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempSite(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.html",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempSite(t)
	original := []byte("original content")
	_ = s.Write("atomic.css", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.css", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.css")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, ".assetgraph-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/assetgraph-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "assetgraph-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestWrite_EmptyPathRejected(t *testing.T) {
	s := tempSite(t)
	if err := s.Write("", []byte("x")); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestList_SortedByPath(t *testing.T) {
	s := tempSite(t)
	for _, p := range []string{"z.html", "a/b.css", "m.js", "a/a.png"} {
		if err := s.Write(p, []byte(p)); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}
	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a/a.png", "a/b.css", "m.js", "z.html"}
	for i, it := range items {
		if it.Path != want[i] {
			t.Errorf("items[%d] = %s, want %s", i, it.Path, want[i])
		}
	}
}

func TestWrite_UnchangedContentKeepsFile(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("page.html", []byte("same"))
	p := filepath.Join(s.Root(), "page.html")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(p, old, old); err != nil {
		t.Fatal(err)
	}

	if err := s.Write("page.html", []byte("same")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, _ := os.Stat(p)
	if !info.ModTime().Equal(old) {
		t.Errorf("mtime changed on identical write: %v", info.ModTime())
	}
}

func TestWrite_PreservesMode(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("run.sh", []byte("#!/bin/sh\n"))
	p := filepath.Join(s.Root(), "run.sh")
	if err := os.Chmod(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("run.sh", []byte("#!/bin/sh\nexit 0\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, _ := os.Stat(p)
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
}

func TestDelete_PrunesEmptyDirs(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("img/icons/a.svg", []byte("<svg/>"))
	_ = s.Write("img/b.png", []byte("png"))

	if err := s.Delete("img/icons/a.svg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "img", "icons")); !os.IsNotExist(err) {
		t.Errorf("empty dir img/icons left behind: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "img")); err != nil {
		t.Errorf("non-empty dir img removed: %v", err)
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Errorf("root removed: %v", err)
	}
}

func TestMove_RefusesExistingTarget(t *testing.T) {
	s := tempSite(t)
	_ = s.Write("a.css", []byte("a"))
	_ = s.Write("b.css", []byte("b"))

	err := s.Move("a.css", "b.css")
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("Move onto existing file = %v, want ErrExist", err)
	}
	got, _ := s.Read("b.css")
	if string(got) != "b" {
		t.Errorf("target overwritten: %q", got)
	}
	if err := s.Move("a.css", "a.css"); err != nil {
		t.Errorf("Move onto itself: %v", err)
	}
}
