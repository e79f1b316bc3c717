// Package server is a development backend for the data manager. It serves
// the Data Manager REST API over a SQLite store seeded from fixture files.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/datamanager/internal/state"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// Server is the development API server.
type Server struct {
	store    *state.SQLiteStore
	port     int
	watch    bool
	fixtures string
	token    string
	version  views.PayloadVersion
	project  atomic.Int64
	logger   *slog.Logger
}

// Config holds configuration for the API server.
type Config struct {
	Store *state.SQLiteStore
	Port  int
	// Watch re-seeds the store whenever the fixture file changes.
	Watch    bool
	Fixtures string
	// Token, when set, is required as "Authorization: Token <token>".
	Token string
	// Project is used by calls that name no project. Loading fixtures
	// sets it when zero.
	Project        int64
	PayloadVersion views.PayloadVersion
	Logger         *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	version := cfg.PayloadVersion
	if version == "" {
		version = views.PayloadV2
	}
	s := &Server{
		store:    cfg.Store,
		port:     cfg.Port,
		watch:    cfg.Watch,
		fixtures: cfg.Fixtures,
		token:    cfg.Token,
		version:  version,
		logger:   logger,
	}
	s.project.Store(cfg.Project)
	return s
}

// Project returns the default project id.
func (s *Server) Project() int64 { return s.project.Load() }

// Handler returns the API router with its middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
		s.authenticate,
	)
	s.routes(r)
	return r
}

// LoadFixtures seeds the store from the configured fixture file.
func (s *Server) LoadFixtures(ctx context.Context) error {
	if s.fixtures == "" {
		return nil
	}
	seed, err := LoadFixture(s.fixtures)
	if err != nil {
		return err
	}
	if err := s.store.Seed(ctx, seed); err != nil {
		return fmt.Errorf("failed to seed %s: %w", s.fixtures, err)
	}
	s.project.CompareAndSwap(0, seed.Project.ID)
	s.logger.Info("fixtures loaded", "file", s.fixtures, "project", seed.Project.ID, "tasks", len(seed.Tasks))
	return nil
}

// Serve starts the API server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting API server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch && s.fixtures != "" {
		eg.Go(func() error {
			return s.watchFixtures(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchFixtures re-seeds the store when the fixture file is written.
func (s *Server) watchFixtures(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files on save, so watch the directory.
	target := filepath.Clean(s.fixtures)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		s.logger.Error("failed to watch fixtures", "file", target, "error", err)
	}

	// The debounce timer only signals; seeding runs on this goroutine so
	// nothing touches the store once the watcher returns.
	reload := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			s.logger.Debug("fixtures changed, re-seeding", "file", target)
			if err := s.LoadFixtures(ctx); err != nil {
				s.logger.Error("re-seed failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}
