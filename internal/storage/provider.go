// Package storage moves asset bytes in and out of the graph: a file system
// provider rooted at the site directory, loaders for file: and http(s):
// URLs, and a writer that emits assets back to disk.
package storage

import "github.com/starford/assetgraph/internal/models"

// Provider is the interface for site file operations.
type Provider interface {
	// Root returns the absolute path of the site directory.
	Root() string
	// List returns metadata for every regular file under dir (relative to the root).
	List(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to the root).
	Delete(path string) error
	// Move renames oldPath to newPath (both relative to the root).
	Move(oldPath, newPath string) error
}
