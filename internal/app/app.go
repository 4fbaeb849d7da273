// Package app wires configuration, storage and the HTTP surface into the
// collector process and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/jmoiron/sqlx"

	httpapi "github.com/tracklet/tracklet/internal/api/http"
	"github.com/tracklet/tracklet/internal/config"
	"github.com/tracklet/tracklet/internal/dashboard"
	"github.com/tracklet/tracklet/internal/ingest"
	"github.com/tracklet/tracklet/internal/platform/logger"
	"github.com/tracklet/tracklet/internal/schema"
	"github.com/tracklet/tracklet/internal/server"
	"github.com/tracklet/tracklet/internal/store"
)

// App manages the collector lifecycle.
type App struct {
	cfg *config.Config
	log *logger.Logger

	store    *store.Store
	shutdown *server.ShutdownManager
	server   *http.Server
	listener net.Listener

	mu       sync.Mutex
	running  bool
	wg       sync.WaitGroup
	failed   chan struct{}
	serveErr error

	initSchema func(ctx context.Context, db *sqlx.DB) error
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if log == nil {
		log = logger.Nop()
	}

	return &App{
		cfg:        cfg,
		log:        log,
		failed:     make(chan struct{}),
		initSchema: schema.Initialize,
	}, nil
}

// Start opens the database, bootstrapping the schema when the file is new,
// and begins serving HTTP.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		Timeout:      a.cfg.HTTP.ShutdownTimeout,
		DrainTimeout: a.cfg.HTTP.DrainTimeout,
	}, a.log)

	if err := a.openStore(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to open database: %w", err)
	}

	handler, err := a.buildHandler()
	if err != nil {
		a.cleanup()
		return fmt.Errorf("failed to build router: %w", err)
	}

	// Bind before serving; address errors are returned from Start.
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	a.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	// Closers run LIFO: the HTTP server stops before the store closes.
	a.shutdown.RegisterCloser(a.store)
	gs := server.NewGracefulHTTPServer(a.server, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := gs.Serve(ln); err != nil {
			a.log.Error("HTTP server error", "error", err)
			a.mu.Lock()
			a.serveErr = err
			a.mu.Unlock()
			close(a.failed)
		}
	}()

	a.log.Info("Tracklet started", "database", a.cfg.Database.Path)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	existed, err := schema.Exists(a.cfg.Database.Path)
	if err != nil {
		return err
	}

	a.store, err = store.Open(ctx, store.Config{
		Path:         a.cfg.Database.Path,
		BusyTimeout:  a.cfg.Database.BusyTimeout,
		ReadPoolSize: a.cfg.Database.ReadPoolSize,
	}, a.log)
	if err != nil {
		return err
	}

	if existed && !a.cfg.Database.ResetSchema {
		a.log.Info("Using existing database", "path", a.cfg.Database.Path)
		return nil
	}

	if err := a.initSchema(ctx, a.store.DB()); err != nil {
		if !existed {
			a.discardStore()
		}
		return err
	}
	a.log.Info("Database schema initialized", "path", a.cfg.Database.Path, "reset", existed)
	return nil
}

// discardStore closes the store and deletes a database file this start
// created, so the next start bootstraps the schema again.
func (a *App) discardStore() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close database", "error", err)
	}
	a.store = nil

	path := a.cfg.Database.Path
	for _, f := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			a.log.Warn("Failed to remove partial database", "path", f, "error", err)
		}
	}
}

func (a *App) buildHandler() (http.Handler, error) {
	router, err := httpapi.NewRouter(httpapi.RouterConfig{
		Track:        httpapi.NewTrackHandler(ingest.NewService(a.store, a.log), a.log),
		Dashboard:    httpapi.NewDashboardHandler(dashboard.NewService(a.store), a.log),
		AllowOrigins: a.cfg.CORS.AllowOrigins,
		Log:          a.log,
	})
	if err != nil {
		return nil, err
	}

	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.DefaultMiddleware(a.log),
	)
	return middleware(router), nil
}

// Addr returns the address the server is listening on, or "" before Start.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop drains in-flight requests, stops the server and closes the database.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("Shutdown timeout, server goroutine may not have finished")
	}

	a.log.Info("Tracklet stopped")
	return err
}

// cleanup releases resources acquired by a failed Start.
func (a *App) cleanup() {
	if a.listener != nil {
		a.listener.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// WaitForShutdown blocks until a shutdown signal is received, ctx is
// cancelled or the server fails, then shuts down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-a.failed:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return errors.Join(a.serveErr, err)
}
