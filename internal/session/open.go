package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/cache"
	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/pathutil"
	"github.com/starford/quire/internal/storage"
)

// DefaultTempName is the base name of generated temporary documents.
const DefaultTempName = "untitled"

// OpenOption adjusts a single Open call.
type OpenOption func(*openConfig)

type openConfig struct {
	content    *string
	encoding   string
	lineEnding lineending.Style
}

// WithContent supplies the buffer instead of reading it from disk.
func WithContent(content string) OpenOption {
	return func(c *openConfig) { c.content = &content }
}

// WithEncoding records the encoding of supplied content.
func WithEncoding(enc string) OpenOption {
	return func(c *openConfig) { c.encoding = enc }
}

// WithLineEnding records the line ending of supplied content instead of
// detecting it.
func WithLineEnding(style lineending.Style) OpenOption {
	return func(c *openConfig) { c.lineEnding = style }
}

// Open registers the file at path and makes it current. A path that is
// already open only becomes current; nothing is re-read.
func (s *Session) Open(_ context.Context, path string, opts ...OpenOption) (Document, error) {
	key := s.normalize(path)
	if key == "" {
		return Document{}, apperr.Wrap(apperr.FileOpenFailed, path, errors.New("empty path"))
	}
	if pathutil.IsBlacklisted(key, s.blacklist...) {
		return Document{}, apperr.Wrap(apperr.UnsupportedFileType, key,
			fmt.Errorf("extension %q is not editable", pathutil.Ext(key)))
	}

	if d, ok := s.switchIfOpen(key); ok {
		return d, nil
	}
	if pathutil.IsTemp(key) {
		return Document{}, apperr.Wrap(apperr.FileOpenFailed, key, apperr.ErrNotFound)
	}

	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	d, err := s.load(key, cfg)
	if err != nil {
		return Document{}, apperr.Wrap(apperr.FileOpenFailed, key, err)
	}

	s.mu.Lock()
	if existing := s.findLocked(key); existing != nil {
		// Opened concurrently; the earlier registration wins.
		s.current = key
		view := existing.view()
		s.mu.Unlock()
		s.emit(Event{Kind: Switched, Path: key})
		return view, nil
	}
	collected, events := s.collectEmptyTempsLocked()
	s.docs = append(s.docs, d)
	s.current = key
	s.cache.Set(key, d.cacheEntry())
	view := d.view()
	s.mu.Unlock()

	for _, c := range collected {
		s.release(c)
	}
	s.watch(key)
	s.logger.Info("session: opened", slog.String("path", key), slog.String("encoding", d.encoding))
	s.emit(append(events, Event{Kind: Opened, Path: key})...)
	return view, nil
}

// OpenPrompted asks the user for a file and opens it.
func (s *Session) OpenPrompted(ctx context.Context) (Document, error) {
	if s.prompter == nil {
		return Document{}, apperr.Wrap(apperr.FileOpenFailed, "", errors.New("no dialog service"))
	}
	path, ok, err := s.prompter.PromptOpen(ctx)
	if err != nil {
		return Document{}, apperr.Wrap(apperr.FileOpenFailed, "", err)
	}
	if !ok {
		return Document{}, apperr.ErrCancelled
	}
	return s.Open(ctx, path)
}

func (s *Session) switchIfOpen(key string) (Document, bool) {
	s.mu.Lock()
	d := s.findLocked(key)
	if d == nil {
		s.mu.Unlock()
		return Document{}, false
	}
	changed := s.current != key
	s.current = key
	view := d.view()
	s.mu.Unlock()
	if changed {
		s.emit(Event{Kind: Switched, Path: key})
	}
	return view, true
}

// load builds the record for key from supplied content, the cache, or disk.
func (s *Session) load(key string, cfg openConfig) (*document, error) {
	d := &document{path: key, name: pathutil.FileName(key), kind: Persisted}
	switch {
	case cfg.content != nil:
		d.content = *cfg.content
		d.encoding = cfg.encoding
		d.lineEnding = cfg.lineEnding
		if d.lineEnding == "" {
			d.lineEnding = lineending.Detect(d.content)
		}
	default:
		if e, ok := s.cache.Get(key); ok {
			d.content = e.Content
			d.encoding = e.Encoding
			d.lineEnding = lineending.Style(e.LineEnding)
			break
		}
		res, err := s.io.Read(key)
		if err != nil {
			return nil, err
		}
		d.content = res.Content
		d.encoding = res.Encoding
		d.lineEnding = res.LineEnding
	}
	if d.encoding == "" {
		d.encoding = storage.UTF8
	}
	if d.lineEnding == "" {
		d.lineEnding = lineending.LF
	}
	d.original = d.content
	return d, nil
}

// collectEmptyTempsLocked unregisters every temporary document that holds
// nothing worth keeping.
func (s *Session) collectEmptyTempsLocked() ([]*document, []Event) {
	var removed []*document
	var events []Event
	for i := 0; i < len(s.docs); {
		d := s.docs[i]
		if d.kind != Temporary || !d.effectivelyEmpty() {
			i++
			continue
		}
		_, evs := s.removeLocked(d.path)
		removed = append(removed, d)
		for _, ev := range evs {
			// The opened document becomes current right after.
			if ev.Kind == Closed {
				events = append(events, ev)
			}
		}
	}
	return removed, events
}

// Create registers a new temporary document and makes it current. An empty
// name generates untitled, untitled2, ... A taken name gets the same suffix.
func (s *Session) Create(name, initial string) (Document, error) {
	if name == "" {
		name = DefaultTempName
	}
	if err := pathutil.ValidName(name); err != nil {
		return Document{}, apperr.Wrap(apperr.CreateTempFileFailed, name, err)
	}

	s.mu.Lock()
	name = pathutil.UniqueName(name, s.nameTakenLocked)
	d := &document{
		path:       pathutil.TempPath(name),
		name:       name,
		kind:       Temporary,
		content:    initial,
		encoding:   storage.UTF8,
		lineEnding: lineending.Detect(initial),
	}
	s.docs = append(s.docs, d)
	s.current = d.path
	if d.modified() {
		s.scheduleAutosaveLocked(d)
	}
	view := d.view()
	s.mu.Unlock()

	s.logger.Info("session: created", slog.String("path", d.path))
	s.emit(Event{Kind: Created, Path: d.path})
	return view, nil
}

// TempState describes a temporary document being brought back from a
// previous run.
type TempState struct {
	Name       string
	Content    string
	Modified   bool
	Encoding   string
	LineEnding lineending.Style
}

// RestoreTemporary registers a temporary document without touching disk.
// A buffer in the recovery slot takes precedence over st.Content.
func (s *Session) RestoreTemporary(st TempState) (Document, error) {
	if st.Name == "" {
		st.Name = DefaultTempName
	}
	if err := pathutil.ValidName(st.Name); err != nil {
		return Document{}, apperr.Wrap(apperr.CreateTempFileFailed, st.Name, err)
	}
	if s.recovery != nil {
		content, ok, err := s.recovery.Load(st.Name)
		switch {
		case err != nil:
			s.logger.Warn("session: read recovery slot failed",
				slog.String("name", st.Name),
				slog.String("error", err.Error()))
		case ok && content != st.Content:
			st.Content = content
			st.Modified = true
		}
	}
	if st.Encoding == "" {
		st.Encoding = storage.UTF8
	}
	if st.LineEnding == "" {
		st.LineEnding = lineending.Detect(st.Content)
	}

	s.mu.Lock()
	name := pathutil.UniqueName(st.Name, s.nameTakenLocked)
	d := &document{
		path:       pathutil.TempPath(name),
		name:       name,
		kind:       Temporary,
		content:    st.Content,
		encoding:   st.Encoding,
		lineEnding: st.LineEnding,
	}
	if !st.Modified {
		d.original = st.Content
	}
	s.docs = append(s.docs, d)
	s.current = d.path
	view := d.view()
	s.mu.Unlock()

	s.emit(Event{Kind: Created, Path: d.path})
	return view, nil
}

// Prefetch reads path and warms the cache with it. The read is returned
// as well, since a full cache may evict the entry before Open runs.
func (s *Session) Prefetch(path string) (storage.ReadResult, error) {
	key := s.normalize(path)
	res, err := s.io.Read(key)
	if err != nil {
		return storage.ReadResult{}, err
	}
	s.cache.Set(key, cache.Entry{
		Content:    res.Content,
		Encoding:   res.Encoding,
		LineEnding: string(res.LineEnding),
	})
	return res, nil
}
