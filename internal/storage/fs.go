package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/assetgraph/internal/checksum"
	"github.com/starford/assetgraph/internal/models"
)

const (
	tempPattern = ".assetgraph-tmp-*"
	defaultMode = fs.FileMode(0o644)
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the site directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute site directory.
func (f *FS) Root() string { return f.root }

func (f *FS) within(abs string) bool {
	return abs == f.root || strings.HasPrefix(abs, f.root+string(os.PathSeparator))
}

// abs maps a slash separated path relative to the root onto the disk.
// The result never leaves the root.
func (f *FS) abs(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	p := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	p = filepath.Join(f.root, p)
	if !f.within(p) {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return p, nil
}

// file is like abs but refuses the root itself.
func (f *FS) file(rel string) (string, error) {
	p, err := f.abs(rel)
	if err != nil {
		return "", err
	}
	if p == f.root {
		return "", fmt.Errorf("storage: empty path")
	}
	return p, nil
}

// Rel converts an absolute path under the root into a slash separated
// relative path.
func (f *FS) Rel(abs string) (string, error) {
	if !f.within(filepath.Clean(abs)) {
		return "", fmt.Errorf("storage: path escapes root: %s", abs)
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", fmt.Errorf("storage: rel %s: %w", abs, err)
	}
	return filepath.ToSlash(rel), nil
}

// Hidden reports whether a file or directory name is skipped by List.
// Dot files, which include in-flight temp files, are hidden.
func Hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// List returns metadata for every visible regular file under dir, sorted
// by path. Files are hashed in parallel.
func (f *FS) List(dir string) ([]models.FileMetadata, error) {
	base, err := f.abs(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == base {
			return nil
		}
		switch {
		case Hidden(d.Name()) && d.IsDir():
			return filepath.SkipDir
		case Hidden(d.Name()), !d.Type().IsRegular():
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	out := make([]models.FileMetadata, len(paths))
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			md, err := f.stat(p)
			if err != nil {
				return err
			}
			out[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *FS) stat(p string) (models.FileMetadata, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return models.FileMetadata{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return models.FileMetadata{}, err
	}
	rel, err := f.Rel(p)
	if err != nil {
		return models.FileMetadata{}, err
	}
	return models.FileMetadata{
		Path:      rel,
		Checksum:  checksum.Sum(data),
		Size:      info.Size(),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Read returns the raw bytes of a site file.
func (f *FS) Read(path string) ([]byte, error) {
	p, err := f.file(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces the file at path through a synced temp file and a
// rename. Writing the bytes a file already holds leaves it untouched.
// An existing file keeps its permission bits.
func (f *FS) Write(path string, content []byte) error {
	p, err := f.file(path)
	if err != nil {
		return err
	}

	mode := defaultMode
	if info, err := os.Stat(p); err == nil {
		if info.IsDir() {
			return fmt.Errorf("storage: write %s: is a directory", path)
		}
		mode = info.Mode().Perm()
		if info.Size() == int64(len(content)) {
			if old, err := os.ReadFile(p); err == nil && bytes.Equal(old, content) {
				return nil
			}
		}
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}

	done := false
	defer func() {
		if !done {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	done = true
	return nil
}

// Delete removes a file and then any directories it leaves empty, up to
// but excluding the root.
func (f *FS) Delete(path string) error {
	p, err := f.file(path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	f.prune(filepath.Dir(p))
	return nil
}

func (f *FS) prune(dir string) {
	for dir != f.root && f.within(dir) {
		// Remove fails on a non-empty directory, which ends the walk.
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Move renames a file within the site. It fails with an error wrapping
// fs.ErrExist when newPath is already taken.
func (f *FS) Move(oldPath, newPath string) error {
	from, err := f.file(oldPath)
	if err != nil {
		return err
	}
	to, err := f.file(newPath)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("storage: move to %s: %w", newPath, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: move: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	f.prune(filepath.Dir(from))
	return nil
}
