package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/pathutil"
)

// DefaultFallbackEncoding decodes files that are not valid UTF-8.
const DefaultFallbackEncoding = "windows-1252"

// FS implements Provider backed by the local file system.
type FS struct {
	root     string // absolute confinement root; empty means unconfined
	fallback string
	hidden   *pathutil.Filter
}

// Option configures an FS.
type Option func(*FS)

// WithFallbackEncoding sets the encoding used for non-UTF-8 files.
func WithFallbackEncoding(label string) Option {
	return func(f *FS) {
		if label != "" {
			f.fallback = label
		}
	}
}

// WithHidden hides matching names from ListDir.
func WithHidden(filter *pathutil.Filter) Option {
	return func(f *FS) {
		f.hidden = filter
	}
}

// NewFS creates a new FS provider. When root is non-empty every path must
// resolve inside it, and the directory must already exist. Relative paths
// resolve against root, or the working directory when unconfined.
func NewFS(root string, opts ...Option) (*FS, error) {
	f := &FS{fallback: DefaultFallbackEncoding}
	for _, opt := range opts {
		opt(f)
	}
	if root == "" {
		return f, nil
	}
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
	f.root = abs
	return f, nil
}

// resolve turns path into an absolute path and rejects any result that
// escapes the confinement root.
func (f *FS) resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("storage: empty path")
	}
	if pathutil.IsTemp(path) {
		return "", fmt.Errorf("storage: %s has no backing file", path)
	}
	if !filepath.IsAbs(path) && f.root != "" {
		path = filepath.Join(f.root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if f.root != "" && abs != f.root && !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes root: %s", path)
	}
	return abs, nil
}

// Read returns the decoded content of a file with its encoding and the
// dominant line ending.
func (f *FS) Read(path string) (ReadResult, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return ReadResult{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ReadResult{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return ReadResult{}, fmt.Errorf("storage: %s is a directory", path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ReadResult{}, fmt.Errorf("storage: read %s: %w", path, err)
	}
	content, enc, err := decode(data, f.fallback)
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{
		Content:    content,
		Encoding:   enc,
		LineEnding: lineending.Detect(content),
	}, nil
}

// Write atomically writes encoded content: tmp file → fsync → rename.
// An existing file keeps its permission bits.
func (f *FS) Write(path, content, encoding string) (WriteResult, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return WriteResult{}, err
	}
	data, encName, err := encode(content, encoding)
	if err != nil {
		return WriteResult{}, err
	}
	if err := atomicWrite(abs, data); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{
		Path:       abs,
		Encoding:   encName,
		LineEnding: lineending.Detect(content),
	}, nil
}

func atomicWrite(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".quire-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
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
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Exists reports whether path exists.
func (f *FS) Exists(path string) bool {
	abs, err := f.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Rename moves a file. It fails when the source is missing or the target
// already exists, and creates the target's parent directory.
func (f *FS) Rename(oldPath, newPath string) (string, error) {
	absOld, err := f.resolve(oldPath)
	if err != nil {
		return "", err
	}
	absNew, err := f.resolve(newPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(absOld); err != nil {
		return "", fmt.Errorf("storage: rename source %s: %w", oldPath, err)
	}
	if _, err := os.Stat(absNew); err == nil {
		return "", fmt.Errorf("storage: rename target %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir for rename: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return absNew, nil
}

// ListDir returns the visible entries of dir, directories first, then by name.
func (f *FS) ListDir(dir string) ([]Entry, error) {
	abs, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	out := make([]Entry, 0, len(items))
	for _, d := range items {
		if f.hidden.Hidden(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info.
			continue
		}
		out = append(out, Entry{
			Name:    d.Name(),
			Path:    filepath.Join(abs, d.Name()),
			IsDir:   d.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Remove deletes a file.
func (f *FS) Remove(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}
