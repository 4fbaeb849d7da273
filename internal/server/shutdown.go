// Package server manages the collector's graceful shutdown: signal handling,
// draining in-flight requests and closing the HTTP server and store.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tracklet/tracklet/internal/platform/logger"
)

// ShutdownConfig bounds the shutdown sequence. Zero values take the defaults.
type ShutdownConfig struct {
	// Timeout bounds the whole sequence. Default: 30 seconds
	Timeout time.Duration

	// DrainTimeout is how long in-flight requests get to finish. Default: 15 seconds
	DrainTimeout time.Duration
}

// ShutdownManager stops accepting requests, waits for the active ones and
// then closes registered resources in reverse registration order.
type ShutdownManager struct {
	cfg ShutdownConfig
	log *logger.Logger

	mu       sync.Mutex
	active   int
	draining bool
	idle     chan struct{} // closed once draining and no request is active
	closers  []io.Closer

	once sync.Once
	done chan struct{} // closed when shutdown begins
	err  error
}

// NewShutdownManager creates a manager; log may be nil.
func NewShutdownManager(cfg ShutdownConfig, log *logger.Logger) *ShutdownManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ShutdownManager{
		cfg:  cfg,
		log:  log.With("component", "shutdown"),
		idle: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// RegisterCloser adds a resource to close on shutdown. The last registered
// is closed first.
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, c)
}

// ListenForSignals blocks until SIGINT or SIGTERM, ctx cancellation or a
// shutdown started elsewhere, and then shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), "signal "+sig.String())
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.done:
		return nil
	}
}

// Shutdown drains requests and closes resources. Later calls return the
// first call's result without doing any work.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, sm.cfg.Timeout)
		defer cancel()

		sm.mu.Lock()
		sm.draining = true
		active := sm.active
		if active == 0 {
			close(sm.idle)
		}
		closers := append([]io.Closer(nil), sm.closers...)
		sm.mu.Unlock()
		close(sm.done)

		sm.log.Info("Shutting down", "reason", reason, "in_flight", active)

		var errs []error
		if err := sm.drain(ctx); err != nil {
			errs = append(errs, err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				sm.log.Warn("Close failed during shutdown", "error", err)
				errs = append(errs, fmt.Errorf("close failed: %w", err))
			}
		}
		if len(errs) > 0 {
			sm.err = errs[0]
		}
	})
	return sm.err
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	timer := time.NewTimer(sm.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-sm.idle:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if n := sm.inFlight(); n > 0 {
		return fmt.Errorf("drain failed: %d in-flight requests still running", n)
	}
	return nil
}

// enter admits a request unless shutdown has begun.
func (sm *ShutdownManager) enter() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.draining {
		return false
	}
	sm.active++
	return true
}

func (sm *ShutdownManager) leave() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.active--
	if sm.draining && sm.active == 0 {
		close(sm.idle)
	}
}

func (sm *ShutdownManager) inFlight() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// ShutdownMiddleware counts requests against the manager and answers 503
// once shutdown has begun.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.enter() {
				w.Header().Set("Connection", "close")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"shutting down"}` + "\n"))
				return
			}
			defer sm.leave()
			next.ServeHTTP(w, r)
		})
	}
}

// GracefulHTTPServer serves an http.Server until shutdown begins.
type GracefulHTTPServer struct {
	server *http.Server
	sm     *ShutdownManager
}

// NewGracefulHTTPServer registers server to be shut down with the manager.
func NewGracefulHTTPServer(server *http.Server, sm *ShutdownManager) *GracefulHTTPServer {
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}))
	return &GracefulHTTPServer{server: server, sm: sm}
}

// Serve serves on l. It returns nil after a clean shutdown and the listener
// error otherwise.
func (gs *GracefulHTTPServer) Serve(l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if err := gs.server.Serve(l); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-gs.sm.done:
		return <-errCh
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error {
	return f()
}
