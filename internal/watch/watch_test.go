package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := New(logger, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

// touch rewrites path and pushes its mtime forward so coarse filesystem
// timestamps still register a change.
func touch(t *testing.T, path, content string, offset time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().Add(offset)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

func waitEvent(t *testing.T, s *Service, timeout time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

func TestChangeReported(t *testing.T) {
	s := testService(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	touch(t, p, "one", -time.Hour)

	if err := s.Start(p); err != nil {
		t.Fatalf("Start: %v", err)
	}
	touch(t, p, "two", 0)

	ev, ok := waitEvent(t, s, 3*time.Second)
	if !ok {
		t.Fatal("no event for external write")
	}
	if ev.Path != p || ev.Op != Changed {
		t.Errorf("event = %+v", ev)
	}
}

func TestSiblingIgnored(t *testing.T) {
	s := testService(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	touch(t, p, "one", -time.Hour)
	if err := s.Start(p); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(dir, "other.txt"), "x", 0)

	if ev, ok := waitEvent(t, s, 300*time.Millisecond); ok {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSuspendMutesOwnWrite(t *testing.T) {
	s := testService(t)
	p := filepath.Join(t.TempDir(), "a.txt")
	touch(t, p, "one", -time.Hour)
	if err := s.Start(p); err != nil {
		t.Fatal(err)
	}

	s.Suspend(p)
	touch(t, p, "ours", 0)
	time.Sleep(100 * time.Millisecond)
	s.Resume(p)

	if ev, ok := waitEvent(t, s, 300*time.Millisecond); ok {
		t.Errorf("own write reported: %+v", ev)
	}

	touch(t, p, "theirs", time.Hour)
	if _, ok := waitEvent(t, s, 3*time.Second); !ok {
		t.Error("write after Resume not reported")
	}
}

func TestStopEndsReporting(t *testing.T) {
	s := testService(t)
	p := filepath.Join(t.TempDir(), "a.txt")
	touch(t, p, "one", -time.Hour)
	if err := s.Start(p); err != nil {
		t.Fatal(err)
	}
	if !s.Watching(p) {
		t.Fatal("Watching = false after Start")
	}
	s.Stop(p)
	s.Stop(p)
	if s.Watching(p) {
		t.Fatal("Watching = true after Stop")
	}
	touch(t, p, "two", 0)
	if ev, ok := waitEvent(t, s, 300*time.Millisecond); ok {
		t.Errorf("event after Stop: %+v", ev)
	}
}

func TestRemovalReportedOnce(t *testing.T) {
	s := testService(t)
	p := filepath.Join(t.TempDir(), "a.txt")
	touch(t, p, "one", -time.Hour)
	if err := s.Start(p); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	ev, ok := waitEvent(t, s, 3*time.Second)
	if !ok || ev.Op != Removed {
		t.Fatalf("event = %+v, %v", ev, ok)
	}
	if ev, ok := waitEvent(t, s, 300*time.Millisecond); ok {
		t.Errorf("duplicate event %+v", ev)
	}
}

func TestStartErrors(t *testing.T) {
	s := testService(t)
	if err := s.Start(""); err == nil {
		t.Error("empty path should fail")
	}
	if err := s.Start(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing file should fail")
	}
	if err := s.Start(t.TempDir()); err == nil {
		t.Error("directory should fail")
	}
}
