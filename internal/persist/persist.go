// Package persist mirrors the open-document session to the settings store
// and replays it at startup.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/quire/internal/debounce"
	"github.com/starford/quire/internal/session"
	"github.com/starford/quire/internal/settings"
)

// Settings keys of the persisted session.
const (
	KeyOpenedFiles = "openedFiles"
	KeyCurrentFile = "currentFilePath"
)

const (
	DefaultDelay          = 500 * time.Millisecond
	DefaultRestoreTimeout = 5 * time.Second
)

// FileEntry is one open document in the snapshot. Content is only kept for
// temporary documents.
type FileEntry struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	IsTemporary bool   `json:"isTemporary"`
	IsModified  bool   `json:"isModified"`
	Encoding    string `json:"encoding"`
	LineEnding  string `json:"lineEnding"`
	Content     string `json:"content,omitempty"`
}

// Source is the registry view the persister reads.
type Source interface {
	Documents() []session.Document
	CurrentPath() string
	Subscribe(fn func(session.Event))
}

// batchSetter is implemented by stores that can write several keys
// atomically.
type batchSetter interface {
	SetMany(ctx context.Context, values map[string]any) error
}

// Persister writes a snapshot of src to store a short while after every
// registry mutation.
type Persister struct {
	src    Source
	store  settings.Store
	d      *debounce.Debouncer
	logger *slog.Logger
}

// New creates a persister and subscribes it to src.
func New(src Source, store settings.Store, delay time.Duration, logger *slog.Logger) *Persister {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persister{src: src, store: store, d: debounce.New(delay), logger: logger}
	src.Subscribe(p.onEvent)
	return p
}

func (p *Persister) onEvent(ev session.Event) {
	if ev.Kind == session.Conflict {
		return
	}
	p.d.Trigger("session", func() {
		if err := p.Save(context.Background()); err != nil {
			p.logger.Warn("persist: save snapshot failed", slog.String("error", err.Error()))
		}
	})
}

// Snapshot builds the persisted form of the current registry state.
func Snapshot(src Source) ([]FileEntry, string) {
	docs := src.Documents()
	entries := make([]FileEntry, 0, len(docs))
	for _, d := range docs {
		e := FileEntry{
			Path:        d.Path,
			Name:        d.Name,
			IsTemporary: d.IsTemporary(),
			IsModified:  d.Modified,
			Encoding:    d.Encoding,
			LineEnding:  string(d.LineEnding),
		}
		if e.IsTemporary {
			e.Content = d.Content
		}
		entries = append(entries, e)
	}
	return entries, src.CurrentPath()
}

// Save writes the snapshot immediately.
func (p *Persister) Save(ctx context.Context) error {
	entries, current := Snapshot(p.src)
	if bs, ok := p.store.(batchSetter); ok {
		if err := bs.SetMany(ctx, map[string]any{
			KeyOpenedFiles: entries,
			KeyCurrentFile: current,
		}); err != nil {
			return fmt.Errorf("persist: %w", err)
		}
	} else {
		if err := p.store.Set(ctx, KeyOpenedFiles, entries); err != nil {
			return fmt.Errorf("persist: %w", err)
		}
		if err := p.store.Set(ctx, KeyCurrentFile, current); err != nil {
			return fmt.Errorf("persist: %w", err)
		}
	}
	p.logger.Debug("persist: snapshot saved", slog.Int("documents", len(entries)))
	return nil
}

// Flush writes a pending snapshot now.
func (p *Persister) Flush() { p.d.Flush() }

// Close flushes and stops reacting to registry events.
func (p *Persister) Close() {
	p.d.Flush()
	p.d.Stop()
}
