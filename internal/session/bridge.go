package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/quire/internal/checksum"
	"github.com/starford/quire/internal/watch"
)

// Bridge routes watcher events into the registry until ctx is cancelled
// or events is closed. Each event is handled on its own goroutine so a
// pending conflict dialog never stalls the stream.
func (s *Session) Bridge(ctx context.Context, events <-chan watch.Event) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info("session: bridge started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session: bridge stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Op {
			case watch.Changed:
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.HandleFileChanged(ctx, ev.Path)
				}()
			case watch.Removed:
				s.logger.Info("session: file removed externally", slog.String("path", ev.Path))
			}
		}
	}
}

// HandleFileChanged reconciles an open document with new disk content.
// An unmodified buffer is refreshed silently; a modified one goes through
// the conflict resolver unless the change is an echo of a user save. At
// most one reconciliation per path runs at a time; overlapping
// notifications are dropped.
func (s *Session) HandleFileChanged(ctx context.Context, path string) {
	key := s.normalize(path)

	s.mu.Lock()
	d := s.findLocked(key)
	if d == nil || d.kind == Temporary {
		s.mu.Unlock()
		return
	}
	if s.processing[key] {
		s.mu.Unlock()
		s.logger.Debug("session: change already in progress", slog.String("path", key))
		return
	}
	s.processing[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.processing, key)
		s.mu.Unlock()
	}()

	res, err := s.io.Read(key)
	if err != nil {
		s.logger.Warn("session: read changed file failed",
			slog.String("path", key),
			slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if !containsDoc(s.docs, d) || d.path != key {
		s.mu.Unlock()
		return
	}
	if checksum.Same(res.Content, d.original) {
		// Disk still matches the baseline: an echo of our own write.
		s.mu.Unlock()
		return
	}
	if !d.modified() {
		d.content = res.Content
		d.original = res.Content
		d.encoding = res.Encoding
		d.lineEnding = res.LineEnding
		s.cache.Set(key, d.cacheEntry())
		s.mu.Unlock()
		s.logger.Info("session: refreshed from disk", slog.String("path", key))
		s.emit(Event{Kind: Refreshed, Path: key})
		return
	}
	if s.userSavingLocked(key) {
		s.mu.Unlock()
		s.logger.Debug("session: ignoring change during save", slog.String("path", key))
		return
	}
	if s.dialogs[key] {
		s.mu.Unlock()
		return
	}
	s.dialogs[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.dialogs, key)
		s.mu.Unlock()
	}()

	s.emit(Event{Kind: Conflict, Path: key})
	s.resolve(ctx, key)
}
