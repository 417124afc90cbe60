package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/pathutil"
)

// SaveOptions selects the document and target of a save.
type SaveOptions struct {
	// Document is the key of the document to save; empty means current.
	Document string
	// Target writes to this path instead of the document's own.
	Target string
	// SaveAs prompts for a target even when the document has a path.
	SaveAs bool
}

// Save writes a document's buffer to disk. Temporary documents and SaveAs
// prompt for a target unless one is given. A different open document at
// the target path is closed before the save is committed.
func (s *Session) Save(ctx context.Context, opts SaveOptions) (Document, error) {
	key := opts.Document
	if key == "" {
		key = s.CurrentPath()
	}
	key = s.normalize(key)
	unlock := s.locks.lock(key)
	defer unlock()

	s.mu.Lock()
	d := s.findLocked(key)
	if d == nil {
		s.mu.Unlock()
		return Document{}, apperr.ErrNoDocument
	}
	kind, name, content, encoding := d.kind, d.name, d.content, d.encoding
	s.mu.Unlock()

	target := opts.Target
	if target == "" && (kind == Temporary || opts.SaveAs) {
		if s.prompter == nil {
			return Document{}, apperr.Wrap(apperr.FileSaveFailed, key, errors.New("no dialog service"))
		}
		p, ok, err := s.prompter.PromptSaveAs(ctx, name)
		if err != nil {
			return Document{}, apperr.Wrap(apperr.FileSaveFailed, key, err)
		}
		if !ok {
			return Document{}, apperr.ErrCancelled
		}
		target = p
	}
	if target == "" {
		target = key
	}
	target = s.normalize(target)
	if pathutil.IsTemp(target) {
		return Document{}, apperr.Wrap(apperr.FileSaveFailed, target, errors.New("target has no backing file"))
	}

	s.beginUserSave(target)
	res, err := s.io.Write(target, content, encoding)
	if err != nil {
		s.endUserSave(target, false)
		return Document{}, apperr.Wrap(apperr.FileSaveFailed, target, err)
	}
	s.endUserSave(target, true)

	s.mu.Lock()
	if !containsDoc(s.docs, d) {
		s.mu.Unlock()
		return Document{}, apperr.Wrap(apperr.FileSaveFailed, key, apperr.ErrNoDocument)
	}
	// A document already open at the target shares its path and watch;
	// unregistering it is enough.
	var events []Event
	if target != d.path {
		if dup := s.findLocked(target); dup != nil {
			_, events = s.removeLocked(target)
		}
		s.cache.Delete(d.path)
		s.autosave.Cancel(d.path)
		if s.current == d.path {
			s.current = target
		}
		d.path = target
		d.name = pathutil.FileName(target)
	}
	wasTemp := d.kind == Temporary
	d.kind = Persisted
	d.original = content
	if d.content == content {
		d.dirty = false
	}
	d.encoding = res.Encoding
	d.lineEnding = res.LineEnding
	s.cache.Set(target, cacheEntryFor(content, res.Encoding, res.LineEnding))
	view := d.view()
	s.mu.Unlock()

	if wasTemp && s.recovery != nil {
		if err := s.recovery.Remove(name); err != nil {
			s.logger.Warn("session: remove recovery slot failed",
				slog.String("name", name),
				slog.String("error", err.Error()))
		}
	}
	if !wasTemp && key != target {
		s.watcher.Stop(key)
	}
	s.watch(target)

	s.logger.Info("session: saved", slog.String("path", target), slog.String("encoding", res.Encoding))
	ev := Event{Kind: Saved, Path: target}
	if key != target {
		ev.OldPath = key
	}
	s.emit(append(events, ev)...)
	return view, nil
}

// Rename gives a document a new name. Temporary documents are re-keyed in
// memory; persisted documents are renamed on disk first.
func (s *Session) Rename(_ context.Context, path, newName string) (Document, error) {
	key := s.normalize(path)
	if err := pathutil.ValidName(newName); err != nil {
		return Document{}, apperr.Wrap(apperr.FileRenameFailed, key, err)
	}
	unlock := s.locks.lock(key)
	defer unlock()

	s.mu.Lock()
	d := s.findLocked(key)
	if d == nil {
		s.mu.Unlock()
		return Document{}, apperr.Wrap(apperr.FileRenameFailed, key, apperr.ErrNotFound)
	}
	if d.kind == Temporary {
		view, oldName, err := s.renameTempLocked(d, newName)
		s.mu.Unlock()
		if err != nil {
			return Document{}, err
		}
		if s.recovery != nil {
			if err := s.recovery.Remove(oldName); err != nil {
				s.logger.Warn("session: remove recovery slot failed",
					slog.String("name", oldName),
					slog.String("error", err.Error()))
			}
		}
		s.emit(Event{Kind: Renamed, Path: view.Path, OldPath: key})
		return view, nil
	}
	s.mu.Unlock()

	target := pathutil.Join(key, newName)
	if target == key {
		return s.viewOf(d), nil
	}
	s.watcher.Stop(key)
	newPath, err := s.io.Rename(key, target)
	if err != nil {
		s.watch(key)
		return Document{}, apperr.Wrap(apperr.FileRenameFailed, key, err)
	}
	newPath = s.normalize(newPath)

	s.mu.Lock()
	var events []Event
	if dup := s.findLocked(newPath); dup != nil && dup != d {
		_, events = s.removeLocked(newPath)
	}
	s.cache.Move(key, newPath)
	if s.current == key {
		s.current = newPath
	}
	d.path = newPath
	d.name = pathutil.FileName(newPath)
	view := d.view()
	s.mu.Unlock()

	s.watch(newPath)
	s.logger.Info("session: renamed", slog.String("from", key), slog.String("to", newPath))
	s.emit(append(events, Event{Kind: Renamed, Path: newPath, OldPath: key})...)
	return view, nil
}

func (s *Session) renameTempLocked(d *document, newName string) (Document, string, error) {
	newKey := pathutil.TempPath(newName)
	if newKey == d.path {
		return d.view(), "", nil
	}
	if s.findLocked(newKey) != nil {
		return Document{}, "", apperr.Wrap(apperr.FileRenameFailed, d.path, apperr.ErrAlreadyExists)
	}
	oldKey, oldName := d.path, d.name
	s.autosave.Rekey(oldKey, newKey)
	if s.current == oldKey {
		s.current = newKey
	}
	d.path = newKey
	d.name = newName
	if !s.autosave.Pending(newKey) && d.content != "" {
		s.scheduleAutosaveLocked(d)
	}
	return d.view(), oldName, nil
}

// SetLineEnding rewrites the buffer's line terminators and marks it
// modified. For persisted documents the file on disk is converted too,
// with its own encoding, while its watch is suspended.
func (s *Session) SetLineEnding(_ context.Context, path string, style lineending.Style) (Document, error) {
	key := s.normalize(path)
	style, err := lineending.Parse(string(style))
	if err != nil {
		return Document{}, apperr.Wrap(apperr.LineEndingUpdateFailed, key, err)
	}
	unlock := s.locks.lock(key)
	defer unlock()

	s.mu.Lock()
	d := s.findLocked(key)
	if d == nil {
		s.mu.Unlock()
		return Document{}, apperr.Wrap(apperr.LineEndingUpdateFailed, key, apperr.ErrNotFound)
	}
	d.content = lineending.Convert(d.content, style)
	d.lineEnding = style
	d.dirty = true
	kind := d.kind
	if kind == Temporary {
		s.scheduleAutosaveLocked(d)
	}
	view := d.view()
	s.mu.Unlock()
	s.emit(Event{Kind: Updated, Path: key})

	if kind == Persisted {
		if err := s.convertOnDisk(key, style); err != nil {
			return view, apperr.Wrap(apperr.LineEndingUpdateFailed, key, err)
		}
	}
	return view, nil
}

func (s *Session) convertOnDisk(key string, style lineending.Style) error {
	s.watcher.Suspend(key)
	defer s.watcher.Resume(key)

	res, err := s.io.Read(key)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	converted := lineending.Convert(res.Content, style)
	if converted == res.Content {
		return nil
	}
	if _, err := s.io.Write(key, converted, res.Encoding); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	s.cache.Set(key, cacheEntryFor(converted, res.Encoding, style))
	return nil
}

// Refresh replaces a persisted document's buffer and baseline with the
// current disk content, discarding local edits.
func (s *Session) Refresh(_ context.Context, path string) (Document, error) {
	key := s.normalize(path)
	unlock := s.locks.lock(key)
	defer unlock()
	return s.refresh(key)
}

func (s *Session) refresh(key string) (Document, error) {
	s.mu.Lock()
	d := s.findLocked(key)
	if d == nil {
		s.mu.Unlock()
		return Document{}, apperr.Wrap(apperr.RefreshContentFailed, key, apperr.ErrNotFound)
	}
	if d.kind == Temporary {
		s.mu.Unlock()
		return Document{}, apperr.Wrap(apperr.RefreshContentFailed, key, errors.New("no backing file"))
	}
	s.mu.Unlock()

	res, err := s.io.Read(key)
	if err != nil {
		return Document{}, apperr.Wrap(apperr.RefreshContentFailed, key, err)
	}

	s.mu.Lock()
	if !containsDoc(s.docs, d) || d.path != key {
		s.mu.Unlock()
		return Document{}, apperr.Wrap(apperr.RefreshContentFailed, key, apperr.ErrNotFound)
	}
	d.content = res.Content
	d.original = res.Content
	d.dirty = false
	d.encoding = res.Encoding
	d.lineEnding = res.LineEnding
	s.cache.Set(key, d.cacheEntry())
	view := d.view()
	s.mu.Unlock()

	s.logger.Info("session: refreshed", slog.String("path", key))
	s.emit(Event{Kind: Refreshed, Path: key})
	return view, nil
}

func (s *Session) viewOf(d *document) Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.view()
}

// beginUserSave marks key as being written by the user.
func (s *Session) beginUserSave(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userSaves[key] = timeZero
}

// endUserSave keeps the marker for the echo window after a successful
// write and drops it after a failed one.
func (s *Session) endUserSave(key string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok || s.echoWindow <= 0 {
		delete(s.userSaves, key)
		return
	}
	s.userSaves[key] = s.now().Add(s.echoWindow)
}

func (s *Session) userSavingLocked(key string) bool {
	until, ok := s.userSaves[key]
	if !ok {
		return false
	}
	if until.IsZero() || s.now().Before(until) {
		return true
	}
	delete(s.userSaves, key)
	return false
}
