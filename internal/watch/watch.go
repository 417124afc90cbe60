// Package watch reports external modifications to individual open files.
//
// fsnotify watches directories, so the service registers the parent of
// every tracked file (reference counted) and filters events down to the
// files that were asked for. Bursts are coalesced and events whose
// modification time did not move past the recorded baseline are dropped.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the coalescing window applied to raw fsnotify events.
const DefaultDebounce = 100 * time.Millisecond

// Op describes what happened to a watched file.
type Op string

const (
	Changed Op = "changed"
	Removed Op = "removed"
)

// Event is a debounced notification about one watched file.
type Event struct {
	Path string
	Op   Op
}

type tracked struct {
	modTime   time.Time
	suspended int
	gone      bool
}

// Service owns one fsnotify watcher shared by every tracked file.
type Service struct {
	logger *slog.Logger
	delay  time.Duration
	w      *fsnotify.Watcher
	events chan Event

	mu    sync.Mutex
	files map[string]*tracked
	dirs  map[string]int
}

// New creates a watch service. A non-positive delay selects DefaultDebounce.
func New(logger *slog.Logger, delay time.Duration) (*Service, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Service{
		logger: logger,
		delay:  delay,
		w:      w,
		events: make(chan Event, 64),
		files:  make(map[string]*tracked),
		dirs:   make(map[string]int),
	}, nil
}

// Events returns the channel on which debounced events are delivered.
func (s *Service) Events() <-chan Event { return s.events }

// Start begins tracking path. Starting an already tracked path refreshes
// its modification-time baseline.
func (s *Service) Start(path string) error {
	abs, err := clean(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch: start %s: %w", abs, err)
	}
	if info.IsDir() {
		return fmt.Errorf("watch: start %s: is a directory", abs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.files[abs]; ok {
		t.modTime = info.ModTime()
		t.gone = false
		return nil
	}
	dir := filepath.Dir(abs)
	if s.dirs[dir] == 0 {
		if err := s.w.Add(dir); err != nil {
			return fmt.Errorf("watch: add %s: %w", dir, err)
		}
	}
	s.dirs[dir]++
	s.files[abs] = &tracked{modTime: info.ModTime()}
	s.logger.Debug("watch: started", slog.String("path", abs))
	return nil
}

// Stop ends tracking of path. Stopping an untracked path is a no-op.
func (s *Service) Stop(path string) {
	abs, err := clean(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[abs]; !ok {
		return
	}
	delete(s.files, abs)
	dir := filepath.Dir(abs)
	s.dirs[dir]--
	if s.dirs[dir] <= 0 {
		delete(s.dirs, dir)
		if err := s.w.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			s.logger.Debug("watch: remove dir failed", slog.String("path", dir), slog.String("error", err.Error()))
		}
	}
	s.logger.Debug("watch: stopped", slog.String("path", abs))
}

// Suspend mutes events for path until the matching Resume. Calls nest.
func (s *Service) Suspend(path string) {
	abs, err := clean(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.files[abs]; ok {
		t.suspended++
	}
}

// Resume undoes one Suspend and moves the baseline to the file's current
// modification time, so the write made while suspended is not reported.
func (s *Service) Resume(path string) {
	abs, err := clean(path)
	if err != nil {
		return
	}
	info, statErr := os.Stat(abs)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.files[abs]
	if !ok {
		return
	}
	if t.suspended > 0 {
		t.suspended--
	}
	if statErr == nil {
		t.modTime = info.ModTime()
		t.gone = false
	}
}

// Watching reports whether path is tracked.
func (s *Service) Watching(path string) bool {
	abs, err := clean(path)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[abs]
	return ok
}

// Run processes fsnotify events until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("watch: running", slog.Duration("debounce", s.delay))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(s.delay)
			timerCh = timer.C
		} else {
			timer.Reset(s.delay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Info("watch: stopped")
			return nil

		case <-timerCh:
			for p := range pending {
				if ev, ok := s.settle(p); ok {
					select {
					case s.events <- ev:
					case <-ctx.Done():
						return nil
					}
				}
			}
			clear(pending)

		case ev, ok := <-s.w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			abs := filepath.Clean(ev.Name)
			if !s.Watching(abs) {
				continue
			}
			pending[abs] = struct{}{}
			schedule()

		case err, ok := <-s.w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watch: error", slog.String("error", err.Error()))
		}
	}
}

// settle decides whether a pending path produces an event, updating the
// baseline as a side effect.
func (s *Service) settle(abs string) (Event, bool) {
	info, statErr := os.Stat(abs)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.files[abs]
	if !ok || t.suspended > 0 {
		return Event{}, false
	}
	if statErr != nil {
		if t.gone {
			return Event{}, false
		}
		t.gone = true
		return Event{Path: abs, Op: Removed}, true
	}
	t.gone = false
	if info.ModTime().Equal(t.modTime) {
		return Event{}, false
	}
	t.modTime = info.ModTime()
	return Event{Path: abs, Op: Changed}, true
}

// Close releases the underlying watcher.
func (s *Service) Close() error {
	return s.w.Close()
}

func clean(path string) (string, error) {
	if path == "" {
		return "", errors.New("watch: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("watch: %w", err)
	}
	return abs, nil
}
