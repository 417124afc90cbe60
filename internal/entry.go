// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quire/internal/api"
	"github.com/starford/quire/internal/autosave"
	"github.com/starford/quire/internal/cache"
	"github.com/starford/quire/internal/mcpserver"
	"github.com/starford/quire/internal/pathutil"
	"github.com/starford/quire/internal/persist"
	"github.com/starford/quire/internal/prompt"
	"github.com/starford/quire/internal/session"
	"github.com/starford/quire/internal/settings"
	"github.com/starford/quire/internal/sse"
	"github.com/starford/quire/internal/storage"
	"github.com/starford/quire/internal/watch"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Stdout carries the MCP protocol in stdio mode.
	var logOut io.Writer = os.Stdout
	if app.mcp {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("root", cfg.Session.Root),
		slog.String("settings_path", cfg.Settings.Path),
		slog.String("recovery_dir", cfg.Session.RecoveryDir),
		slog.Bool("mcp", app.mcp),
		slog.String("log_level", cfg.App.LogLevel.String()))

	hidden, err := pathutil.NewFilter(cfg.Session.HiddenPatterns)
	if err != nil {
		return fmt.Errorf("init hidden filter: %w", err)
	}
	store, err := storage.NewFS(cfg.Session.Root,
		storage.WithFallbackEncoding(cfg.Session.FallbackEncoding),
		storage.WithHidden(hidden),
	)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	slots, err := storage.NewSlots(cfg.Session.RecoveryDir)
	if err != nil {
		return fmt.Errorf("init recovery slots: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Settings.Path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	db, err := settings.Open(cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("init settings: %w", err)
	}
	defer db.Close()

	watcher, err := watch.New(logger, cfg.Session.WatchDebounce)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	defer watcher.Close()

	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	sessOpts := []session.Option{
		session.WithWatcher(watcher),
		session.WithRecovery(slots),
		session.WithCache(cache.New(cfg.Session.CacheCapacity, logger)),
		session.WithAutosave(autosave.New(cfg.Session.AutosaveDelay, logger)),
		session.WithLogger(logger),
		session.WithRoot(cfg.Session.Root),
		session.WithBlacklist(cfg.Session.ExtraBlacklist...),
		session.WithSaveEchoWindow(cfg.Session.SaveEchoWindow),
	}
	var prompts *prompt.Broker
	// Nobody answers dialogs over stdio; conflicts are only logged there.
	if !app.mcp {
		prompts = prompt.NewBroker(broker, logger)
		sessOpts = append(sessOpts, session.WithPrompter(prompts))
	}
	sess := session.New(store, sessOpts...)
	defer sess.Shutdown()

	sess.Subscribe(func(ev session.Event) {
		broker.PublishDocumentEvent(string(ev.Kind), ev.Path, ev.OldPath)
	})

	res, err := persist.Restore(ctx, sess, db, persist.RestoreOptions{
		Timeout: cfg.Session.RestoreTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn("Session restore failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Session restored", restoreAttrs(res)...)
	}

	for _, p := range app.files {
		if _, err := sess.Open(ctx, p); err != nil {
			logger.Warn("Open from command line failed",
				slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}

	// Created after restore so a half-replayed session is never mirrored.
	persister := persist.New(sess, db, cfg.Session.PersistDelay, logger)
	if err := persister.Save(ctx); err != nil {
		logger.Warn("Initial session snapshot failed", slog.String("error", err.Error()))
	}
	defer persister.Close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(gCtx)
	})

	g.Go(func() error {
		return sess.Bridge(gCtx, watcher.Events())
	})

	if app.mcp {
		srv := mcpserver.New(sess, app.version)
		g.Go(func() error {
			logger.Info("Serving MCP on stdio")
			if err := srv.Serve(gCtx, os.Stdin, os.Stdout); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			if gCtx.Err() != nil {
				return nil
			}
			// Stdin closed; stop the rest of the group.
			return errStdioClosed
		})
	} else {
		httpServer := &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: newHTTPHandler(cfg, sess, prompts, broker),
		}

		logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			return errShutdown
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
			return nil
		}
	})

	// Deferred closes run in reverse: the final snapshot is written, then
	// pending temporary buffers, before the settings store closes.
	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) && !errors.Is(err, errStdioClosed) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func restoreAttrs(res persist.Result) []any {
	return []any{
		slog.Int("restored", len(res.Restored)),
		slog.Int("skipped", len(res.Skipped)),
		slog.String("current", res.Current),
	}
}

var (
	errShutdown    = errors.New("shutdown requested")
	errStdioClosed = errors.New("stdio closed")
)

func newHTTPHandler(cfg *Config, sess *session.Session, prompts *prompt.Broker, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(sess, prompts, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	return r
}
