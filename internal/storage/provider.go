// Package storage is the file I/O collaborator of the session engine:
// reads with encoding and line-ending detection, atomic encoded writes,
// renames, directory listings and recovery slots for unsaved buffers.
package storage

import (
	"time"

	"github.com/starford/quire/internal/lineending"
)

// ReadResult is the decoded content of a file plus the metadata the
// registry echoes back on the next write.
type ReadResult struct {
	Content    string
	Encoding   string
	LineEnding lineending.Style
}

// WriteResult reports what actually reached disk.
type WriteResult struct {
	Path       string
	Encoding   string
	LineEnding lineending.Style
}

// Entry is one item of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Provider is the interface for document file operations.
type Provider interface {
	// Read decodes the file at path.
	Read(path string) (ReadResult, error)
	// Write encodes content with the named encoding and atomically replaces path.
	Write(path, content, encoding string) (WriteResult, error)
	// Exists reports whether path exists.
	Exists(path string) bool
	// Rename moves oldPath to newPath and returns the resolved new path.
	Rename(oldPath, newPath string) (string, error)
	// ListDir returns the visible entries of dir.
	ListDir(dir string) ([]Entry, error)
	// Remove deletes the file at path.
	Remove(path string) error
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
