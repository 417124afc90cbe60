package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/quire/internal/cache"
	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/session"
	"github.com/starford/quire/internal/storage"
	"github.com/starford/quire/internal/testutil"
)

func newSession(t *testing.T, fs *storage.FS, slots *storage.Slots) *session.Session {
	t.Helper()
	s := session.New(fs,
		session.WithLogger(testutil.Logger()),
		session.WithRecovery(slots),
	)
	t.Cleanup(s.Shutdown)
	return s
}

func TestPersisterMirrorsRegistry(t *testing.T) {
	dir, fs := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)
	s := newSession(t, fs, testutil.TestSlots(t))
	p := New(s, db, 20*time.Millisecond, testutil.Logger())
	defer p.Close()
	ctx := context.Background()

	a := testutil.WriteFile(t, dir, "a.txt", "disk content")
	if _, err := s.Open(ctx, a); err != nil {
		t.Fatal(err)
	}
	tmp, _ := s.Create("", "draft")

	var entries []FileEntry
	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		entries = nil
		found, _ := db.Get(ctx, KeyOpenedFiles, &entries)
		return found && len(entries) == 2
	}, "snapshot not written")

	if entries[0].Path != a || entries[0].IsTemporary || entries[0].Content != "" {
		t.Errorf("persisted entry = %+v", entries[0])
	}
	if entries[1].Path != tmp.Path || !entries[1].IsTemporary || entries[1].Content != "draft" || !entries[1].IsModified {
		t.Errorf("temporary entry = %+v", entries[1])
	}
	var current string
	_, _ = db.Get(ctx, KeyCurrentFile, &current)
	if current != tmp.Path {
		t.Errorf("current = %q", current)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	dir, fs := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)
	slots := testutil.TestSlots(t)
	ctx := context.Background()

	a := testutil.WriteFile(t, dir, "a.txt", "alpha\r\n")
	b := testutil.WriteFile(t, dir, "b.txt", "beta")

	first := newSession(t, fs, slots)
	_, _ = first.Open(ctx, a)
	_, _ = first.Create("notes", "unsaved words")
	_, _ = first.Open(ctx, b)
	_ = first.Switch(a)
	p := New(first, db, time.Hour, testutil.Logger())
	if err := p.Save(ctx); err != nil {
		t.Fatal(err)
	}
	p.Close()

	second := newSession(t, fs, slots)
	res, err := Restore(ctx, second, db, RestoreOptions{Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(res.Skipped) != 0 {
		t.Errorf("skipped = %v", res.Skipped)
	}

	var paths []string
	for _, d := range second.Documents() {
		paths = append(paths, d.Path)
	}
	if want := []string{a, "temp://notes", b}; !slices.Equal(paths, want) {
		t.Errorf("restored = %v, want %v", paths, want)
	}
	if second.CurrentPath() != a {
		t.Errorf("current = %q", second.CurrentPath())
	}
	d, _ := second.Get(a)
	if d.Content != "alpha\r\n" || d.LineEnding != lineending.CRLF || d.Modified {
		t.Errorf("a = %+v", d)
	}
	n, _ := second.Get("temp://notes")
	if n.Content != "unsaved words" || !n.Modified {
		t.Errorf("notes = %+v", n)
	}
}

func TestRestoreSkipsMissingFiles(t *testing.T) {
	dir, fs := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, dir, "a.txt", "x")
	gone := testutil.WriteFile(t, dir, "gone.txt", "y")

	first := newSession(t, fs, testutil.TestSlots(t))
	_, _ = first.Open(ctx, a)
	_, _ = first.Open(ctx, gone)
	if err := New(first, db, time.Hour, nil).Save(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	second := newSession(t, fs, testutil.TestSlots(t))
	res, err := Restore(ctx, second, db, RestoreOptions{Logger: testutil.Logger()})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Skipped, []string{gone}) || !slices.Equal(res.Restored, []string{a}) {
		t.Errorf("result = %+v", res)
	}
	// The saved current document is gone; the survivor stays current.
	if second.CurrentPath() != a {
		t.Errorf("current = %q", second.CurrentPath())
	}
}

// slowRegistry blocks Prefetch for one path.
type slowRegistry struct {
	*session.Session
	slow string
}

func (r slowRegistry) Prefetch(path string) (storage.ReadResult, error) {
	if path == r.slow {
		time.Sleep(time.Second)
		return storage.ReadResult{}, errors.New("too late")
	}
	return r.Session.Prefetch(path)
}

func TestRestoreBoundsSlowFiles(t *testing.T) {
	dir, fs := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, dir, "a.txt", "x")
	slow := testutil.WriteFile(t, dir, "slow.txt", "y")
	if err := db.Set(ctx, KeyOpenedFiles, []FileEntry{{Path: slow}, {Path: a}}); err != nil {
		t.Fatal(err)
	}

	s := newSession(t, fs, testutil.TestSlots(t))
	start := time.Now()
	res, err := Restore(ctx, slowRegistry{Session: s, slow: slow}, db, RestoreOptions{
		Timeout: 50 * time.Millisecond,
		Logger:  testutil.Logger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("restore took %v", elapsed)
	}
	if !slices.Equal(res.Skipped, []string{slow}) || !slices.Equal(res.Restored, []string{a}) {
		t.Errorf("result = %+v", res)
	}
}

func TestRestoreEmptyStore(t *testing.T) {
	_, fs := testutil.TestWorkspace(t)
	s := newSession(t, fs, testutil.TestSlots(t))
	res, err := Restore(context.Background(), s, testutil.TestDB(t), RestoreOptions{})
	if err != nil || len(res.Restored) != 0 || s.CurrentPath() != "" {
		t.Errorf("Restore = %+v, %v", res, err)
	}
}

// stallingFS counts reads and blocks every read of a path after its first.
type stallingFS struct {
	*storage.FS
	mu    sync.Mutex
	reads map[string]int
}

func (f *stallingFS) Read(path string) (storage.ReadResult, error) {
	f.mu.Lock()
	f.reads[filepath.Base(path)]++
	n := f.reads[filepath.Base(path)]
	f.mu.Unlock()
	if n > 1 {
		time.Sleep(2 * time.Second)
	}
	return f.FS.Read(path)
}

func TestRestoreReadsEachFileOnceWithSmallCache(t *testing.T) {
	dir, fs := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, dir, "a.txt", "alpha\r\n")
	b := testutil.WriteFile(t, dir, "b.txt", "beta")
	c := testutil.WriteFile(t, dir, "c.txt", "gamma")
	if err := db.Set(ctx, KeyOpenedFiles, []FileEntry{{Path: a}, {Path: b}, {Path: c}}); err != nil {
		t.Fatal(err)
	}

	io := &stallingFS{FS: fs, reads: make(map[string]int)}
	s := session.New(io,
		session.WithLogger(testutil.Logger()),
		session.WithCache(cache.New(1, testutil.Logger())),
	)
	t.Cleanup(s.Shutdown)

	start := time.Now()
	res, err := Restore(ctx, s, db, RestoreOptions{
		Timeout: 100 * time.Millisecond,
		Logger:  testutil.Logger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("restore took %v", elapsed)
	}
	if !slices.Equal(res.Restored, []string{a, b, c}) {
		t.Errorf("result = %+v", res)
	}
	io.mu.Lock()
	for name, n := range io.reads {
		if n != 1 {
			t.Errorf("%s read %d times, want 1", name, n)
		}
	}
	io.mu.Unlock()

	d, ok := s.Get(a)
	if !ok || d.Content != "alpha\r\n" || d.LineEnding != lineending.CRLF || d.Modified {
		t.Errorf("a = %+v", d)
	}
}
