package persist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/session"
	"github.com/starford/quire/internal/settings"
	"github.com/starford/quire/internal/storage"
)

// Registry is the part of the session restore drives.
type Registry interface {
	Prefetch(path string) (storage.ReadResult, error)
	Open(ctx context.Context, path string, opts ...session.OpenOption) (session.Document, error)
	RestoreTemporary(st session.TempState) (session.Document, error)
	Switch(path string) error
}

// RestoreOptions bounds startup restoration.
type RestoreOptions struct {
	// Timeout caps the read of each persisted file.
	Timeout time.Duration
	// Concurrency caps parallel reads.
	Concurrency int
	Logger      *slog.Logger
}

// Result lists what a restore brought back.
type Result struct {
	Restored []string
	Skipped  []string
	Current  string
}

// Restore reopens the documents of the last snapshot in their original
// order. Persisted files are read up front in parallel, each bounded by
// the timeout, and opened from that read; a file that fails or times out
// is skipped. Temporary
// documents come back from the snapshot without touching the files they
// will eventually be saved to.
func Restore(ctx context.Context, reg Registry, store settings.Store, opts RestoreOptions) (Result, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRestoreTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var entries []FileEntry
	if _, err := store.Get(ctx, KeyOpenedFiles, &entries); err != nil {
		return Result{}, fmt.Errorf("persist: load snapshot: %w", err)
	}
	var current string
	if _, err := store.Get(ctx, KeyCurrentFile, &current); err != nil {
		return Result{}, fmt.Errorf("persist: load current: %w", err)
	}
	if len(entries) == 0 {
		return Result{}, nil
	}

	// Reads are kept here rather than trusted to the content cache, which
	// may evict them before the replay below.
	reads := make([]*storage.ReadResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, e := range entries {
		if e.IsTemporary {
			continue
		}
		g.Go(func() error {
			var rr storage.ReadResult
			err := withTimeout(gctx, opts.Timeout, func() error {
				r, err := reg.Prefetch(e.Path)
				rr = r
				return err
			})
			if err != nil {
				logger.Warn("persist: restore skipped file",
					slog.String("path", e.Path),
					slog.String("error", err.Error()))
				return nil
			}
			reads[i] = &rr
			return nil
		})
	}
	// Per-file failures are swallowed above; only the parent context can
	// end the group early.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	keys := make(map[string]string, len(entries))
	for i, e := range entries {
		if e.IsTemporary {
			d, err := reg.RestoreTemporary(session.TempState{
				Name:       e.Name,
				Content:    e.Content,
				Modified:   e.IsModified,
				Encoding:   e.Encoding,
				LineEnding: lineending.Style(e.LineEnding),
			})
			if err != nil {
				logger.Warn("persist: restore temporary failed",
					slog.String("name", e.Name),
					slog.String("error", err.Error()))
				res.Skipped = append(res.Skipped, e.Path)
				continue
			}
			keys[e.Path] = d.Path
			res.Restored = append(res.Restored, d.Path)
			continue
		}
		rr := reads[i]
		if rr == nil {
			res.Skipped = append(res.Skipped, e.Path)
			continue
		}
		d, err := reg.Open(ctx, e.Path,
			session.WithContent(rr.Content),
			session.WithEncoding(rr.Encoding),
			session.WithLineEnding(rr.LineEnding),
		)
		if err != nil {
			logger.Warn("persist: restore open failed",
				slog.String("path", e.Path),
				slog.String("error", err.Error()))
			res.Skipped = append(res.Skipped, e.Path)
			continue
		}
		keys[e.Path] = d.Path
		res.Restored = append(res.Restored, d.Path)
	}

	if key, ok := keys[current]; ok {
		if err := reg.Switch(key); err == nil {
			res.Current = key
		}
	}
	logger.Info("persist: session restored",
		slog.Int("restored", len(res.Restored)),
		slog.Int("skipped", len(res.Skipped)))
	return res, nil
}

// withTimeout runs fn and gives up waiting after d. fn keeps running in the
// background when abandoned; its result is discarded.
func withTimeout(ctx context.Context, d time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
