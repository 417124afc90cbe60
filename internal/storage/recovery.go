package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/starford/quire/internal/pathutil"
)

// Slots stores autosaved buffers of temporary documents, one file per
// document name, inside a dedicated directory.
type Slots struct {
	fs *FS
}

// NewSlots creates the slot directory if needed.
func NewSlots(dir string) (*Slots, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create recovery dir: %w", err)
	}
	fs, err := NewFS(dir)
	if err != nil {
		return nil, err
	}
	return &Slots{fs: fs}, nil
}

// Save writes content to the slot for name.
func (s *Slots) Save(name, content string) error {
	if err := pathutil.ValidName(name); err != nil {
		return fmt.Errorf("storage: recovery slot: %w", err)
	}
	_, err := s.fs.Write(name, content, UTF8)
	return err
}

// Load returns the slot content for name; ok is false when no slot exists.
func (s *Slots) Load(name string) (string, bool, error) {
	if err := pathutil.ValidName(name); err != nil {
		return "", false, fmt.Errorf("storage: recovery slot: %w", err)
	}
	res, err := s.fs.Read(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return res.Content, true, nil
}

// Remove deletes the slot for name. A missing slot is not an error.
func (s *Slots) Remove(name string) error {
	if err := pathutil.ValidName(name); err != nil {
		return nil
	}
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
