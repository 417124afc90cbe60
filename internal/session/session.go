// Package session implements the document registry: the ordered set of
// open documents, the current pointer, and the reconciliation of buffers
// with external changes on disk.
//
// All registry state lives in a Session and is guarded by one mutex. Disk
// and dialog I/O always run with the mutex released; results are committed
// after re-checking that the document is still registered.
package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/autosave"
	"github.com/starford/quire/internal/cache"
	"github.com/starford/quire/internal/pathutil"
	"github.com/starford/quire/internal/prompt"
	"github.com/starford/quire/internal/storage"
)

// DefaultSaveEchoWindow is how long a finished save keeps suppressing
// watcher notifications for its path.
const DefaultSaveEchoWindow = time.Second

// FileIO is the disk collaborator.
type FileIO interface {
	Read(path string) (storage.ReadResult, error)
	Write(path, content, encoding string) (storage.WriteResult, error)
	Exists(path string) bool
	Rename(oldPath, newPath string) (string, error)
	ListDir(dir string) ([]storage.Entry, error)
}

// Watcher subscribes to external changes of persisted documents.
type Watcher interface {
	Start(path string) error
	Stop(path string)
	Suspend(path string)
	Resume(path string)
}

// Prompter shows dialogs and waits for the user.
type Prompter interface {
	PromptOpen(ctx context.Context) (string, bool, error)
	PromptSaveAs(ctx context.Context, defaultName string) (string, bool, error)
	Confirm(ctx context.Context, q prompt.Question) (prompt.Choice, error)
}

// Recovery keeps autosaved buffers of temporary documents.
type Recovery interface {
	Save(name, content string) error
	Load(name string) (string, bool, error)
	Remove(name string) error
}

// Session owns the open documents.
type Session struct {
	io       FileIO
	watcher  Watcher
	prompter Prompter
	recovery Recovery
	cache    *cache.Content
	autosave *autosave.Scheduler
	logger   *slog.Logger

	root       string
	blacklist  []string
	echoWindow time.Duration
	now        func() time.Time

	mu         sync.Mutex
	docs       []*document
	current    string
	userSaves  map[string]time.Time // zero value while the write is in flight
	processing map[string]bool
	dialogs    map[string]bool

	locks keyedMutex

	subMu sync.RWMutex
	subs  []func(Event)
}

// Option configures a Session.
type Option func(*Session)

// WithWatcher sets the watch collaborator.
func WithWatcher(w Watcher) Option {
	return func(s *Session) { s.watcher = w }
}

// WithPrompter sets the dialog collaborator.
func WithPrompter(p Prompter) Option {
	return func(s *Session) { s.prompter = p }
}

// WithRecovery enables autosave of temporary documents into r.
func WithRecovery(r Recovery) Option {
	return func(s *Session) { s.recovery = r }
}

// WithCache replaces the default content cache.
func WithCache(c *cache.Content) Option {
	return func(s *Session) { s.cache = c }
}

// WithAutosave replaces the default autosave scheduler.
func WithAutosave(a *autosave.Scheduler) Option {
	return func(s *Session) { s.autosave = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithRoot resolves relative paths against root.
func WithRoot(root string) Option {
	return func(s *Session) { s.root = root }
}

// WithBlacklist blocks extra extensions at open time.
func WithBlacklist(exts ...string) Option {
	return func(s *Session) { s.blacklist = append(s.blacklist, exts...) }
}

// WithSaveEchoWindow sets how long a finished save suppresses conflicts.
func WithSaveEchoWindow(d time.Duration) Option {
	return func(s *Session) { s.echoWindow = d }
}

// New creates an empty session over io.
func New(io FileIO, opts ...Option) *Session {
	s := &Session{
		io:         io,
		echoWindow: DefaultSaveEchoWindow,
		now:        time.Now,
		userSaves:  make(map[string]time.Time),
		processing: make(map[string]bool),
		dialogs:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.watcher == nil {
		s.watcher = nopWatcher{}
	}
	if s.cache == nil {
		s.cache = cache.New(cache.DefaultCapacity, s.logger)
	}
	if s.autosave == nil {
		s.autosave = autosave.New(autosave.DefaultDelay, s.logger)
	}
	return s
}

// Shutdown stops background work. Pending autosaves are written first.
func (s *Session) Shutdown() {
	s.autosave.Flush()
	s.autosave.Stop()
}

// Documents returns every open document in registry order.
func (s *Session) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.view()
	}
	return out
}

// Get returns the document registered under path.
func (s *Session) Get(path string) (Document, bool) {
	key := s.normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.findLocked(key); d != nil {
		return d.view(), true
	}
	return Document{}, false
}

// Current returns the current document.
func (s *Session) Current() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.findLocked(s.current); d != nil {
		return d.view(), true
	}
	return Document{}, false
}

// CurrentPath returns the key of the current document, or "" when the
// registry is empty.
func (s *Session) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Unsaved returns documents whose closing would lose work.
func (s *Session) Unsaved() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	for _, d := range s.docs {
		if d.unsaved() {
			out = append(out, d.view())
		}
	}
	return out
}

// ListDir lists a directory through the disk collaborator.
func (s *Session) ListDir(dir string) ([]storage.Entry, error) {
	if dir != "" {
		dir = s.normalize(dir)
	} else if s.root != "" {
		dir = s.root
	}
	return s.io.ListDir(dir)
}

// Switch makes an open document current. No I/O is performed.
func (s *Session) Switch(path string) error {
	key := s.normalize(path)
	s.mu.Lock()
	if s.findLocked(key) == nil {
		s.mu.Unlock()
		return apperr.Wrap(apperr.SwitchFileFailed, key, apperr.ErrNotFound)
	}
	changed := s.current != key
	s.current = key
	s.mu.Unlock()

	if changed {
		s.emit(Event{Kind: Switched, Path: key})
	}
	return nil
}

// UpdateCode replaces the buffer of the current document.
func (s *Session) UpdateCode(content string) (bool, error) {
	return s.Update(s.CurrentPath(), content)
}

// Update replaces the buffer of the document at path. It reports whether
// anything changed; identical content is a no-op.
func (s *Session) Update(path, content string) (bool, error) {
	key := s.normalize(path)
	s.mu.Lock()
	d := s.findLocked(key)
	if d == nil {
		s.mu.Unlock()
		return false, apperr.ErrNoDocument
	}
	if d.content == content {
		s.mu.Unlock()
		return false, nil
	}
	d.content = content
	if d.kind == Temporary {
		s.scheduleAutosaveLocked(d)
	}
	s.mu.Unlock()

	s.emit(Event{Kind: Updated, Path: key})
	return true, nil
}

// Close removes the document at path. When it was current, the document
// that took its position becomes current, else the one before it.
func (s *Session) Close(path string) error {
	key := s.normalize(path)
	s.mu.Lock()
	d, events := s.removeLocked(key)
	s.mu.Unlock()
	if d == nil {
		return apperr.ErrNoDocument
	}
	s.release(d)
	s.emit(events...)
	return nil
}

// removeLocked unregisters the document at key and fixes the current
// pointer. The caller releases the returned document after unlocking.
func (s *Session) removeLocked(key string) (*document, []Event) {
	idx := slices.IndexFunc(s.docs, func(d *document) bool { return d.path == key })
	if idx < 0 {
		return nil, nil
	}
	d := s.docs[idx]
	s.docs = slices.Delete(s.docs, idx, idx+1)
	s.cache.Delete(key)
	s.autosave.Cancel(key)
	delete(s.processing, key)
	delete(s.dialogs, key)

	events := []Event{{Kind: Closed, Path: key}}
	if s.current == key {
		switch {
		case idx < len(s.docs):
			s.current = s.docs[idx].path
		case idx > 0:
			s.current = s.docs[idx-1].path
		default:
			s.current = ""
		}
		if s.current != "" {
			events = append(events, Event{Kind: Switched, Path: s.current})
		}
	}
	return d, events
}

// release drops the external resources held by a removed document.
func (s *Session) release(d *document) {
	if d.kind == Persisted {
		s.watcher.Stop(d.path)
		return
	}
	if s.recovery != nil {
		unlock := s.locks.lock(d.path)
		defer unlock()
		if err := s.recovery.Remove(d.name); err != nil {
			s.logger.Warn("session: remove recovery slot failed",
				slog.String("path", d.path),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Session) findLocked(key string) *document {
	if key == "" {
		return nil
	}
	for _, d := range s.docs {
		if d.path == key {
			return d
		}
	}
	return nil
}

func (s *Session) nameTakenLocked(name string) bool {
	key := pathutil.TempPath(name)
	return slices.ContainsFunc(s.docs, func(d *document) bool { return d.path == key })
}

func (s *Session) scheduleAutosaveLocked(d *document) {
	if s.recovery == nil {
		return
	}
	s.autosave.Schedule(d.path, func() error {
		s.mu.Lock()
		key := d.path
		s.mu.Unlock()
		unlock := s.locks.lock(key)
		defer unlock()

		s.mu.Lock()
		if !containsDoc(s.docs, d) || d.kind != Temporary || d.path != key {
			s.mu.Unlock()
			return nil
		}
		name, content := d.name, d.content
		s.mu.Unlock()
		return s.recovery.Save(name, content)
	})
}

// watch subscribes to path, degrading to no external-change detection on
// failure.
func (s *Session) watch(path string) {
	if err := s.watcher.Start(path); err != nil {
		s.logger.Warn("session: watch failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// normalize maps a caller-supplied path to a registry key.
func (s *Session) normalize(path string) string {
	if path == "" || pathutil.IsTemp(path) {
		return path
	}
	if !filepath.IsAbs(path) && s.root != "" {
		path = filepath.Join(s.root, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

type nopWatcher struct{}

func (nopWatcher) Start(string) error { return nil }
func (nopWatcher) Stop(string)        {}
func (nopWatcher) Suspend(string)     {}
func (nopWatcher) Resume(string)      {}
