// Package autosave debounces buffer mutations into background writes.
package autosave

import (
	"log/slog"
	"time"

	"github.com/starford/quire/internal/debounce"
)

// DefaultDelay is the quiet period before a scheduled write runs.
const DefaultDelay = 500 * time.Millisecond

// WriteFunc performs one write-back. It is called off the caller's goroutine.
type WriteFunc func() error

// Scheduler runs at most one write per key per quiet period. Only the
// WriteFunc from the last Schedule inside the window reaches disk.
type Scheduler struct {
	d      *debounce.Debouncer
	logger *slog.Logger
}

// New creates a scheduler. A non-positive delay selects DefaultDelay.
func New(delay time.Duration, logger *slog.Logger) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{d: debounce.New(delay), logger: logger}
}

// Schedule (re)starts the window for key with write as the pending action.
func (s *Scheduler) Schedule(key string, write WriteFunc) {
	s.d.Trigger(key, func() {
		if err := write(); err != nil {
			s.logger.Warn("autosave: write failed",
				slog.String("path", key),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("autosave: written", slog.String("path", key))
	})
}

// Cancel drops the pending write for key.
func (s *Scheduler) Cancel(key string) bool { return s.d.Cancel(key) }

// Rekey follows a document whose key changed while a write was pending.
func (s *Scheduler) Rekey(oldKey, newKey string) { s.d.Rekey(oldKey, newKey) }

// Pending reports whether key has a write waiting.
func (s *Scheduler) Pending(key string) bool { return s.d.Pending(key) }

// Flush runs every pending write now.
func (s *Scheduler) Flush() { s.d.Flush() }

// Stop drops pending writes and ignores later schedules.
func (s *Scheduler) Stop() { s.d.Stop() }
